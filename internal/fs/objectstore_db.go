package fs

import (
	"time"

	bolt "go.etcd.io/bbolt"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// openObjectStoreDurableDB opens (or creates) the object store's durable
// bbolt cache, tolerating a transiently stale flock the same way the
// overlay's own open does (spec: both durable stores share the teacher's
// retry convention rather than failing mount on a momentary lock holdover).
func openObjectStoreDurableDB(path string) (*bolt.DB, error) {
	const maxRetries = 10
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
		if err == nil {
			if err := initObjectStoreBuckets(db); err != nil {
				db.Close()
				return nil, edenerrors.NewOverlay("create object store buckets", err)
			}
			return db, nil
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, edenerrors.NewOverlay("open object store durable cache", lastErr)
}
