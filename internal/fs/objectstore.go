package fs

import (
	"context"
	"encoding/binary"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
	"github.com/edenfs-go/eden/internal/logging"
	"github.com/edenfs-go/eden/pkg/retry"
)

var (
	bucketTrees = []byte("trees")
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("blobmeta")
)

// ObjectStoreConfig tunes the in-memory cache; the durable cache's size is
// bounded only by disk (spec: "the spec fixes contracts, not sizes").
type ObjectStoreConfig struct {
	MemCacheMaxBytes int
	MemCacheMinCount int
}

func DefaultObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{MemCacheMaxBytes: 64 << 20, MemCacheMinCount: 256}
}

// ObjectStore is the unified, read-only façade over trees/blobs/metadata
// (spec C2 / §4.1): in-memory cache -> durable bbolt cache -> BackingStore,
// populating lower tiers on the way back and de-duplicating concurrent
// fetches of the same id via singleflight.
type ObjectStore struct {
	backing  BackingStore
	durable  *bolt.DB
	treeMem  *memCache
	blobMem  *memCache
	metaMem  *memCache
	sfTree   singleflight.Group
	sfBlob   singleflight.Group
	log      *logging.ScopedLogger
}

func NewObjectStore(backing BackingStore, durable *bolt.DB, cfg ObjectStoreConfig) *ObjectStore {
	return &ObjectStore{
		backing: backing,
		durable: durable,
		treeMem: newMemCache(cfg.MemCacheMaxBytes, cfg.MemCacheMinCount, nil),
		blobMem: newMemCache(cfg.MemCacheMaxBytes, cfg.MemCacheMinCount, nil),
		metaMem: newMemCache(cfg.MemCacheMaxBytes/4, cfg.MemCacheMinCount, nil),
		log:     logging.NewLogContext("objectstore").Logger(),
	}
}

func initObjectStoreBuckets(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTrees, bucketBlobs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ObjectStore) GetTree(ctx context.Context, id ObjectId, fctx *FetchContext) (*Tree, error) {
	if v, ok := s.treeMem.Get(id); ok {
		return v.(*Tree), nil
	}
	if t, ok := s.loadTreeDurable(id); ok {
		s.treeMem.Put(id, t, treeWeight(t))
		return t, nil
	}
	v, err, _ := s.sfTree.Do(string(id), func() (interface{}, error) {
		t, err := retry.DoWithResult(ctx, func() (*Tree, error) {
			return s.backing.GetTree(ctx, id, fctx)
		}, retry.DefaultConfig())
		if err != nil {
			return nil, err
		}
		s.saveTreeDurable(id, t)
		return t, nil
	})
	if err != nil {
		return nil, edenerrors.Wrap(err, "object store: get_tree")
	}
	t := v.(*Tree)
	s.treeMem.Put(id, t, treeWeight(t))
	return t, nil
}

func (s *ObjectStore) GetBlob(ctx context.Context, id ObjectId, fctx *FetchContext) (*Blob, error) {
	if v, ok := s.blobMem.Get(id); ok {
		return v.(*Blob), nil
	}
	if b, ok := s.loadBlobDurable(id); ok {
		s.blobMem.Put(id, b, len(b.Data))
		return b, nil
	}
	v, err, _ := s.sfBlob.Do(string(id), func() (interface{}, error) {
		b, err := retry.DoWithResult(ctx, func() (*Blob, error) {
			return s.backing.GetBlob(ctx, id, fctx)
		}, retry.DefaultConfig())
		if err != nil {
			return nil, err
		}
		s.saveBlobDurable(id, b)
		s.putMetadata(id, metadataOf(b))
		return b, nil
	})
	if err != nil {
		return nil, edenerrors.Wrap(err, "object store: get_blob")
	}
	b := v.(*Blob)
	s.blobMem.Put(id, b, len(b.Data))
	return b, nil
}

// GetBlobMetadata is write-through: computing it always also populates the
// durable cache so a later GetBlobSHA1/GetBlobSize never refetches.
func (s *ObjectStore) GetBlobMetadata(ctx context.Context, id ObjectId, fctx *FetchContext) (BlobMetadata, error) {
	if v, ok := s.metaMem.Get(id); ok {
		return v.(BlobMetadata), nil
	}
	if m, ok := s.loadMetaDurable(id); ok {
		s.metaMem.Put(id, m, 28)
		return m, nil
	}
	blob, err := s.GetBlob(ctx, id, fctx)
	if err != nil {
		return BlobMetadata{}, err
	}
	m := metadataOf(blob)
	s.putMetadata(id, m)
	return m, nil
}

func (s *ObjectStore) putMetadata(id ObjectId, m BlobMetadata) {
	s.saveMetaDurable(id, m)
	s.metaMem.Put(id, m, 28)
}

func (s *ObjectStore) GetBlobSHA1(ctx context.Context, id ObjectId, fctx *FetchContext) ([20]byte, error) {
	m, err := s.GetBlobMetadata(ctx, id, fctx)
	return m.SHA1, err
}

func (s *ObjectStore) GetBlobSize(ctx context.Context, id ObjectId, fctx *FetchContext) (uint64, error) {
	m, err := s.GetBlobMetadata(ctx, id, fctx)
	return m.Size, err
}

func (s *ObjectStore) GetRootTree(ctx context.Context, root RootId, fctx *FetchContext) (*Tree, error) {
	t, err := s.backing.GetTreeForCommit(ctx, root, fctx)
	if err != nil {
		return nil, edenerrors.Wrap(err, "object store: get_root_tree")
	}
	return t, nil
}

func (s *ObjectStore) PrefetchBlobs(ctx context.Context, ids []ObjectId, fctx *FetchContext) error {
	return s.backing.PrefetchBlobs(ctx, ids, fctx)
}

func (s *ObjectStore) ParseRootId(str string) (RootId, error)  { return s.backing.ParseRootId(str) }
func (s *ObjectStore) RenderRootId(root RootId) string         { return s.backing.RenderRootId(root) }

func metadataOf(b *Blob) BlobMetadata {
	return BlobMetadata{SHA1: sha1Of(b.Data), Size: uint64(len(b.Data))}
}

func treeWeight(t *Tree) int { return 64 + 48*len(t.Entries()) }

func (s *ObjectStore) loadTreeDurable(id ObjectId) (*Tree, bool) {
	var out *Tree
	_ = s.durable.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTrees).Get([]byte(id))
		if raw == nil {
			return nil
		}
		t, err := decodeTree(raw)
		if err != nil {
			s.log.Warn().Err(err).Str("id", string(id)).Msg("corrupt durable tree cache entry, ignoring")
			return nil
		}
		out = t
		return nil
	})
	return out, out != nil
}

func (s *ObjectStore) saveTreeDurable(id ObjectId, t *Tree) {
	if err := s.durable.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrees).Put([]byte(id), encodeTree(t))
	}); err != nil {
		s.log.Warn().Err(err).Str("id", string(id)).Msg("failed to persist tree to durable cache")
	}
}

func (s *ObjectStore) loadBlobDurable(id ObjectId) (*Blob, bool) {
	var out *Blob
	_ = s.durable.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlobs).Get([]byte(id))
		if raw == nil {
			return nil
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		out = &Blob{ID: id, Data: cp}
		return nil
	})
	return out, out != nil
}

func (s *ObjectStore) saveBlobDurable(id ObjectId, b *Blob) {
	if err := s.durable.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(id), b.Data)
	}); err != nil {
		s.log.Warn().Err(err).Str("id", string(id)).Msg("failed to persist blob to durable cache")
	}
}

func (s *ObjectStore) loadMetaDurable(id ObjectId) (BlobMetadata, bool) {
	var m BlobMetadata
	var ok bool
	_ = s.durable.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(id))
		if raw == nil || len(raw) != 28 {
			return nil
		}
		copy(m.SHA1[:], raw[:20])
		m.Size = binary.BigEndian.Uint64(raw[20:28])
		ok = true
		return nil
	})
	return m, ok
}

func (s *ObjectStore) saveMetaDurable(id ObjectId, m BlobMetadata) {
	buf := make([]byte, 28)
	copy(buf[:20], m.SHA1[:])
	binary.BigEndian.PutUint64(buf[20:28], m.Size)
	if err := s.durable.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(id), buf)
	}); err != nil {
		s.log.Warn().Err(err).Str("id", string(id)).Msg("failed to persist blob metadata to durable cache")
	}
}
