// Package backingstore provides backing-store implementations that live
// outside the core (spec §6 Non-goals: the core never hard-codes a
// specific source-control backend). Fake is an in-memory BackingStore
// for tests and for a bare edenfsd run with no real mercurial/git backend
// wired up, grounded on the original implementation's test-harness
// FakeBackingStore/FakeTreeBuilder (original_source
// eden/fs/testharness/FakeBackingStore.h): object bodies are registered
// by the caller ahead of time via Put* builder methods rather than
// fetched over a network, and every object is "ready" immediately — the
// original's startReady/notReady staging used to test fetch races has no
// analogue here since this module's object store already exercises that
// concurrency on its own (spec §4.1).
package backingstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/edenfs-go/eden/internal/fs"
)

// Fake is an in-memory fs.BackingStore: trees, blobs, and root-to-tree
// bindings are all registered directly by the caller (PutTree/PutBlob/
// PutCommit), mirroring FakeBackingStore's builder-populated maps.
type Fake struct {
	mu       sync.RWMutex
	trees    map[fs.ObjectId]*fs.Tree
	blobs    map[fs.ObjectId]*fs.Blob
	commits  map[fs.RootId]fs.ObjectId
	repoName string
}

// NewFake returns an empty Fake backing store.
func NewFake() *Fake {
	return &Fake{
		trees:   make(map[fs.ObjectId]*fs.Tree),
		blobs:   make(map[fs.ObjectId]*fs.Blob),
		commits: make(map[fs.RootId]fs.ObjectId),
	}
}

// PutTree registers a tree under id, as FakeBackingStore::putTree does.
func (f *Fake) PutTree(id fs.ObjectId, tree *fs.Tree) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees[id] = tree
}

// PutBlob registers a blob's content under id (FakeBackingStore::putBlob).
func (f *Fake) PutBlob(id fs.ObjectId, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[id] = &fs.Blob{ID: id, Data: data}
}

// PutCommit binds a root to the tree it checks out to
// (FakeBackingStore::putCommit / setCommitTree).
func (f *Fake) PutCommit(root fs.RootId, treeID fs.ObjectId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[root] = treeID
}

func (f *Fake) GetTree(ctx context.Context, id fs.ObjectId, fctx *fs.FetchContext) (*fs.Tree, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.trees[id]
	if !ok {
		return nil, fmt.Errorf("fake backing store: no tree %s", id)
	}
	return t, nil
}

func (f *Fake) GetBlob(ctx context.Context, id fs.ObjectId, fctx *fs.FetchContext) (*fs.Blob, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.blobs[id]
	if !ok {
		return nil, fmt.Errorf("fake backing store: no blob %s", id)
	}
	return b, nil
}

func (f *Fake) GetTreeForCommit(ctx context.Context, root fs.RootId, fctx *fs.FetchContext) (*fs.Tree, error) {
	f.mu.RLock()
	treeID, ok := f.commits[root]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("fake backing store: no commit %s", root)
	}
	return f.GetTree(ctx, treeID, fctx)
}

// PrefetchBlobs is a no-op: every blob is already resident in memory.
func (f *Fake) PrefetchBlobs(ctx context.Context, ids []fs.ObjectId, fctx *fs.FetchContext) error {
	return nil
}

// ParseRootId treats s as a literal root id, since the fake has no real
// revision-control hash format to parse.
func (f *Fake) ParseRootId(s string) (fs.RootId, error) {
	return fs.RootId(s), nil
}

func (f *Fake) RenderRootId(root fs.RootId) string {
	return string(root)
}

// ImportManifestForRoot is a no-op: the fake has nothing to pre-import.
func (f *Fake) ImportManifestForRoot(ctx context.Context, root fs.RootId, manifestID fs.ObjectId) error {
	return nil
}

func (f *Fake) GetRepoName() string { return f.repoName }

// SetRepoName names the fake repository for logging, analogous to
// FakeBackingStore's constructor-supplied name.
func (f *Fake) SetRepoName(name string) { f.repoName = name }

var _ fs.BackingStore = (*Fake)(nil)
