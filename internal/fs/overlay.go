package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
	"github.com/edenfs-go/eden/internal/logging"
)

var (
	bucketDirs    = []byte("dirs")
	bucketMeta2   = []byte("meta")
	bucketCounter = []byte("counter")
)

var counterKey = []byte("next_inode")

// InodeMetadata is the overlay's separately-addressable per-inode
// attribute table (spec §4.2: "Metadata table ino -> {mode, uid, gid,
// atime, mtime, ctime}").
type InodeMetadata struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Overlay is the durable store of materialized directory entries and file
// bodies, keyed by inode number (spec C3 / §4.2). Directory records and
// metadata live in a bbolt database; file bodies are regular files under
// <dir>/content/<ino>, following the teacher's loopback content-cache
// layout (internal/fs/content_cache.go) rather than stuffing blobs into
// bbolt.
type Overlay struct {
	dir        string
	contentDir string
	db         *bolt.DB
	lock       *overlayLock

	mu       sync.Mutex
	dirty    map[InodeNumber]bool // sha1 cache invalidated by write/truncate
	sha1s    map[InodeNumber][20]byte
	removeCh chan InodeNumber
	removeWg sync.WaitGroup

	log *logging.ScopedLogger
}

// OpenOverlay acquires the exclusive lock, opens (or creates) the overlay
// database with the teacher's retry/backoff tolerance for a transiently
// stale bbolt file lock, and ensures buckets exist. It durability-fsyncs
// every transaction (bbolt's default); use OpenOverlayAsync for the
// daemon config's "async" durability mode, which trades a fsync per
// directory mutation for throughput at the cost of losing the last few
// writes on a hard crash.
func OpenOverlay(dir string) (*Overlay, error) {
	return openOverlay(dir, false)
}

// OpenOverlayAsync opens the overlay with bbolt's NoSync set, skipping the
// fsync on every commit (spec §9 supplement: daemon config's overlay
// durability mode).
func OpenOverlayAsync(dir string) (*Overlay, error) {
	return openOverlay(dir, true)
}

func openOverlay(dir string, noSync bool) (*Overlay, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, edenerrors.NewOverlay("create overlay dir", err)
	}
	contentDir := filepath.Join(dir, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, edenerrors.NewOverlay("create overlay content dir", err)
	}

	lock, pid, err := acquireOverlayLock(filepath.Join(dir, "lock"))
	if err != nil {
		return nil, edenerrors.NewOverlay(fmt.Sprintf("overlay locked (pid %d)", pid), err)
	}

	db, err := openOverlayDBWithRetry(filepath.Join(dir, "overlay.db"), noSync)
	if err != nil {
		lock.Release()
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDirs, bucketMeta2, bucketCounter} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		lock.Release()
		return nil, edenerrors.NewOverlay("create overlay buckets", err)
	}

	o := &Overlay{
		dir:        dir,
		contentDir: contentDir,
		db:         db,
		lock:       lock,
		dirty:      make(map[InodeNumber]bool),
		sha1s:      make(map[InodeNumber][20]byte),
		removeCh:   make(chan InodeNumber, 64),
		log:        logging.NewLogContext("overlay").Logger(),
	}
	go o.removeWorker()
	return o, nil
}

// openOverlayDBWithRetry mirrors the teacher's cache.go exponential-backoff
// open loop: a prior crash can leave bbolt's flock held by a now-dead
// process momentarily past the kernel's own cleanup.
func openOverlayDBWithRetry(path string, noSync bool) (*bolt.DB, error) {
	const maxRetries = 10
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
		if err == nil {
			db.NoSync = noSync
			return db, nil
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, edenerrors.NewOverlay("open overlay database", lastErr)
}

// AllocateInodeNumber hands out the next monotonic inode number; the
// counter itself is durable so allocations never repeat across restarts
// (spec invariant 4: "Allocated inode numbers are never reused within a
// mount generation").
func (o *Overlay) AllocateInodeNumber() (InodeNumber, error) {
	var next uint64
	err := o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounter)
		raw := b.Get(counterKey)
		cur := uint64(RootInodeNumber)
		if raw != nil {
			cur = binary.BigEndian.Uint64(raw)
		}
		next = cur + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		return b.Put(counterKey, buf)
	})
	if err != nil {
		return UnsetInodeNumber, edenerrors.NewOverlay("allocate inode number", err)
	}
	return InodeNumber(next), nil
}

// bumpCounterPast ensures the next allocation is > n, used when restoring
// inode numbers from a takeover (spec §4.3 initialize_from_takeover).
func (o *Overlay) bumpCounterPast(n InodeNumber) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounter)
		raw := b.Get(counterKey)
		cur := uint64(RootInodeNumber)
		if raw != nil {
			cur = binary.BigEndian.Uint64(raw)
		}
		if uint64(n) <= cur {
			return nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return b.Put(counterKey, buf)
	})
}

func (o *Overlay) LoadDir(ino InodeNumber) (*OverlayDir, bool, error) {
	var raw []byte
	err := o.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDirs).Get(inoKey(ino))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, edenerrors.NewOverlay("load dir", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	d, err := decodeOverlayDir(raw)
	if err != nil {
		return nil, false, edenerrors.NewOverlay("decode dir", err)
	}
	return d, true, nil
}

// SaveDir replaces the directory record atomically.
func (o *Overlay) SaveDir(ino InodeNumber, d *OverlayDir) error {
	raw := encodeOverlayDir(d)
	if err := o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDirs).Put(inoKey(ino), raw)
	}); err != nil {
		return edenerrors.NewOverlay("save dir", err)
	}
	return nil
}

// RemoveDir schedules asynchronous removal of a directory record and
// returns immediately (spec §4.2, §9: "remove_dir ... may defer").
func (o *Overlay) RemoveDir(ino InodeNumber) {
	o.removeWg.Add(1)
	o.removeCh <- ino
}

func (o *Overlay) removeWorker() {
	for ino := range o.removeCh {
		if err := o.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketDirs).Delete(inoKey(ino))
		}); err != nil {
			o.log.Warn().Err(err).Uint64("inode", uint64(ino)).Msg("failed to reclaim overlay dir record")
		}
		o.mu.Lock()
		delete(o.dirty, ino)
		delete(o.sha1s, ino)
		o.mu.Unlock()
		o.removeWg.Done()
	}
}

// FlushPendingAsync blocks until every scheduled RemoveDir has completed;
// used by tests and by shutdown (spec §9 design note).
func (o *Overlay) FlushPendingAsync() { o.removeWg.Wait() }

func (o *Overlay) HasData(ino InodeNumber) bool {
	has := false
	o.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(bucketDirs).Get(inoKey(ino)) != nil
		return nil
	})
	if has {
		return true
	}
	_, err := os.Stat(o.contentPath(ino))
	return err == nil
}

func (o *Overlay) contentPath(ino InodeNumber) string {
	return filepath.Join(o.contentDir, fmt.Sprintf("%d", ino))
}

// OpenFile returns the overlay-backed file body for ino, creating it if
// absent (mknod_regular/materialize path).
func (o *Overlay) OpenFile(ino InodeNumber) (*os.File, error) {
	f, err := os.OpenFile(o.contentPath(ino), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, edenerrors.NewOverlay("open file body", err)
	}
	return f, nil
}

func (o *Overlay) Truncate(ino InodeNumber, size int64) error {
	if err := os.Truncate(o.contentPath(ino), size); err != nil {
		if os.IsNotExist(err) {
			f, ferr := o.OpenFile(ino)
			if ferr != nil {
				return ferr
			}
			defer f.Close()
			if err := f.Truncate(size); err != nil {
				return edenerrors.NewOverlay("truncate file body", err)
			}
		} else {
			return edenerrors.NewOverlay("truncate file body", err)
		}
	}
	o.markDirty(ino)
	return nil
}

func (o *Overlay) Read(ino InodeNumber, off int64, size int) ([]byte, error) {
	f, err := os.Open(o.contentPath(ino))
	if err != nil {
		return nil, edenerrors.NewOverlay("read file body", err)
	}
	defer f.Close()
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, edenerrors.NewOverlay("read file body", err)
	}
	return buf[:n], nil
}

func (o *Overlay) Write(ino InodeNumber, off int64, data []byte) (int, error) {
	f, err := o.OpenFile(ino)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.WriteAt(data, off)
	if err != nil {
		return n, edenerrors.NewOverlay("write file body", err)
	}
	o.markDirty(ino)
	return n, nil
}

func (o *Overlay) Size(ino InodeNumber) (int64, error) {
	fi, err := os.Stat(o.contentPath(ino))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, edenerrors.NewOverlay("stat file body", err)
	}
	return fi.Size(), nil
}

// Sha1 returns the file body's current SHA1, caching it until the next
// write/truncate marks it dirty (spec §4.2 "dirty flag to invalidate the
// cached SHA1 on write/truncate").
func (o *Overlay) Sha1(ino InodeNumber) ([20]byte, error) {
	o.mu.Lock()
	if !o.dirty[ino] {
		if h, ok := o.sha1s[ino]; ok {
			o.mu.Unlock()
			return h, nil
		}
	}
	o.mu.Unlock()

	data, err := o.Read(ino, 0, 1<<31-1)
	if err != nil {
		return [20]byte{}, err
	}
	h := sha1Of(data)
	o.mu.Lock()
	o.sha1s[ino] = h
	o.dirty[ino] = false
	o.mu.Unlock()
	return h, nil
}

func (o *Overlay) markDirty(ino InodeNumber) {
	o.mu.Lock()
	o.dirty[ino] = true
	o.mu.Unlock()
}

func (o *Overlay) GetMetadata(ino InodeNumber) (InodeMetadata, bool, error) {
	var raw []byte
	err := o.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta2).Get(inoKey(ino))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return InodeMetadata{}, false, edenerrors.NewOverlay("get metadata", err)
	}
	if raw == nil {
		return InodeMetadata{}, false, nil
	}
	m, err := decodeMetadata(raw)
	return m, true, err
}

func (o *Overlay) SetMetadata(ino InodeNumber, m InodeMetadata) error {
	if err := o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta2).Put(inoKey(ino), encodeMetadata(m))
	}); err != nil {
		return edenerrors.NewOverlay("set metadata", err)
	}
	return nil
}

// Init validates the overlay is usable, reporting coarse progress via cb
// (spec §4.2 "init(progress_cb) validates/repairs").
func (o *Overlay) Init(cb func(step string)) error {
	if cb != nil {
		cb("checking overlay buckets")
	}
	return o.db.View(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDirs, bucketMeta2, bucketCounter} {
			if tx.Bucket(b) == nil {
				return edenerrors.NewOverlay(fmt.Sprintf("missing bucket %q", b), nil)
			}
		}
		return nil
	})
}

// Close releases the cross-process overlay lock and the durable database.
func (o *Overlay) Close() error {
	close(o.removeCh)
	o.removeWg.Wait()
	dbErr := o.db.Close()
	lockErr := o.lock.Release()
	if dbErr != nil {
		return edenerrors.NewOverlay("close overlay database", dbErr)
	}
	if lockErr != nil {
		return edenerrors.NewOverlay("release overlay lock", lockErr)
	}
	return nil
}

func inoKey(ino InodeNumber) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ino))
	return buf
}

func encodeMetadata(m InodeMetadata) []byte {
	buf := make([]byte, 4+4+4+8+8+8)
	binary.BigEndian.PutUint32(buf[0:4], m.Mode)
	binary.BigEndian.PutUint32(buf[4:8], m.UID)
	binary.BigEndian.PutUint32(buf[8:12], m.GID)
	binary.BigEndian.PutUint64(buf[12:20], uint64(m.Atime.Unix()))
	binary.BigEndian.PutUint64(buf[20:28], uint64(m.Mtime.Unix()))
	binary.BigEndian.PutUint64(buf[28:36], uint64(m.Ctime.Unix()))
	return buf
}

func decodeMetadata(raw []byte) (InodeMetadata, error) {
	if len(raw) != 36 {
		return InodeMetadata{}, fmt.Errorf("decode metadata: bad length %d", len(raw))
	}
	return InodeMetadata{
		Mode:  binary.BigEndian.Uint32(raw[0:4]),
		UID:   binary.BigEndian.Uint32(raw[4:8]),
		GID:   binary.BigEndian.Uint32(raw[8:12]),
		Atime: time.Unix(int64(binary.BigEndian.Uint64(raw[12:20])), 0),
		Mtime: time.Unix(int64(binary.BigEndian.Uint64(raw[20:28])), 0),
		Ctime: time.Unix(int64(binary.BigEndian.Uint64(raw[28:36])), 0),
	}, nil
}
