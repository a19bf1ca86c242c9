package fs

import (
	"context"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// FileInode is a loaded regular/executable/symlink file (spec §3 FileInode
// state, §4). Blob demand-loading and de-duplication of concurrent
// fetchers is delegated to the mount's ObjectStore (itself singleflight-
// backed, see objectstore.go); FileState here tracks the inode's own
// materialization lifecycle rather than duplicating that plumbing.
type FileInode struct {
	inodeBase

	mount *Mount
	state FileState
	hash  ObjectId // valid when state != Materialized
	isExec bool
	isSymlink bool
}

func newFileInode(mount *Mount, ino InodeNumber, mode uint32, state FileState, hash ObjectId) *FileInode {
	return &FileInode{
		inodeBase: inodeBase{ino: ino, mode: mode},
		mount:     mount,
		state:     state,
		hash:      hash,
	}
}

func (f *FileInode) IsDir() bool { return false }

func (f *FileInode) State() FileState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// EnsureLoaded fetches the blob into the object store's cache if this
// inode is not yet materialized, transitioning NotLoaded -> Loading ->
// Loaded (spec §3 valid transitions).
func (f *FileInode) EnsureLoaded(ctx context.Context, fctx *FetchContext) error {
	f.mu.Lock()
	if f.state == StateMaterialized || f.state == StateLoaded {
		f.mu.Unlock()
		return nil
	}
	f.state = StateLoading
	hash := f.hash
	f.mu.Unlock()

	_, err := f.mount.Objects.GetBlob(ctx, hash, fctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = StateNotLoaded
		return err
	}
	if f.state == StateLoading {
		f.state = StateLoaded
	}
	return nil
}

// Read returns size bytes at off, reading from the overlay once
// materialized, or from the object store's cached blob otherwise.
func (f *FileInode) Read(ctx context.Context, off int64, size int, fctx *FetchContext) ([]byte, error) {
	f.mu.RLock()
	state, hash := f.state, f.hash
	f.mu.RUnlock()

	if state == StateMaterialized {
		return f.mount.Overlay.Read(f.ino, off, size)
	}
	blob, err := f.mount.Objects.GetBlob(ctx, hash, fctx)
	if err != nil {
		return nil, err
	}
	if off >= int64(len(blob.Data)) {
		return nil, nil
	}
	end := off + int64(size)
	if end > int64(len(blob.Data)) {
		end = int64(len(blob.Data))
	}
	return blob.Data[off:end], nil
}

// Write materializes the inode (if not already) and writes through to the
// overlay (spec §3: any write moves {NotLoaded,Loading,Loaded} ->
// Materialized).
func (f *FileInode) Write(ctx context.Context, off int64, data []byte, fctx *FetchContext) (int, error) {
	if err := f.materialize(ctx, fctx); err != nil {
		return 0, err
	}
	return f.mount.Overlay.Write(f.ino, off, data)
}

func (f *FileInode) Truncate(ctx context.Context, size int64, fctx *FetchContext) error {
	if err := f.materialize(ctx, fctx); err != nil {
		return err
	}
	return f.mount.Overlay.Truncate(f.ino, size)
}

// materialize copies the current blob content (if any) into the overlay
// and flips state to Materialized; it is a no-op if already materialized.
func (f *FileInode) materialize(ctx context.Context, fctx *FetchContext) error {
	f.mu.Lock()
	if f.state == StateMaterialized {
		f.mu.Unlock()
		return nil
	}
	hash := f.hash
	f.mu.Unlock()

	if !hash.IsZero() {
		blob, err := f.mount.Objects.GetBlob(ctx, hash, fctx)
		if err != nil {
			return edenerrors.Wrap(err, "materialize: load blob for copy-up")
		}
		if _, err := f.mount.Overlay.Write(f.ino, 0, blob.Data); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.state = StateMaterialized
	f.hash = ""
	f.mu.Unlock()

	if p := f.parentRef(); p != nil {
		name := f.inodeName()
		p.mu.Lock()
		if e, ok := p.contents.Entries[name]; ok && e.Inode == f.ino {
			e.Hash = ""
			p.contents.Entries[name] = e
			p.touchLocked()
		}
		p.mu.Unlock()
		p.materializeUp()
	}
	return nil
}

// Sha1 reports the current content hash: the source-control hash when
// clean, or the overlay's dirty-aware SHA1 when materialized.
func (f *FileInode) Sha1(ctx context.Context, fctx *FetchContext) ([20]byte, error) {
	f.mu.RLock()
	state, hash := f.state, f.hash
	f.mu.RUnlock()
	if state != StateMaterialized {
		return f.mount.Objects.GetBlobSHA1(ctx, hash, fctx)
	}
	return f.mount.Overlay.Sha1(f.ino)
}

func (f *FileInode) Size(ctx context.Context, fctx *FetchContext) (int64, error) {
	f.mu.RLock()
	state, hash := f.state, f.hash
	f.mu.RUnlock()
	if state != StateMaterialized {
		size, err := f.mount.Objects.GetBlobSize(ctx, hash, fctx)
		return int64(size), err
	}
	return f.mount.Overlay.Size(f.ino)
}

// DematerializeIfClean points a file that is not materialized at newHash
// and resets it to NotLoaded; a materialized file is left unchanged. Used
// by checkout when replacing a loaded-clean inode with a new target (spec
// §4.5 "dematerializing if possible (only if live is loaded-clean)").
func (f *FileInode) DematerializeIfClean(newHash ObjectId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateMaterialized {
		return
	}
	f.state = StateNotLoaded
	f.hash = newHash
}
