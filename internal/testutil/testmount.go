// Package testutil builds a minimal, fully wired Mount for end-to-end tests
// of checkout, diff, and journal behavior, grounded on the original
// implementation's test-harness TestMount (original_source
// eden/fs/testharness/TestMount.h): a throwaway overlay directory plus a
// backingstore.Fake standing in for a real source-control backend, so a
// test can build trees, check them out, and inspect the resulting working
// copy without a real repository or FUSE channel.
package testutil

import (
	"context"

	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/fs/backingstore"
)

// NoopChannel discards invalidations, standing in for a real FUSE channel
// in tests that never mount a kernel filesystem (TestMount.h runs without a
// real FUSE channel too).
type NoopChannel struct{}

func (NoopChannel) InvalidateInode(ino fs.InodeNumber) error                    { return nil }
func (NoopChannel) InvalidateEntry(parent fs.InodeNumber, name fs.PathComponent) error { return nil }
func (NoopChannel) FlushInvalidations(ctx context.Context) error               { return nil }
func (NoopChannel) TakeoverStop() (fs.StopData, error)                         { return fs.StopData{}, nil }

var _ fs.Channel = NoopChannel{}

// TestMount bundles a live Mount with the Fake backing store that seeded it,
// so a test can add new commits to check out against.
type TestMount struct {
	Mount   *fs.Mount
	Backing *backingstore.Fake
}

// New opens a Mount rooted at an empty tree under a fresh overlay directory
// in dir (typically t.TempDir()), and starts it on a NoopChannel.
func New(dir string, policy fs.CasePolicy) (*TestMount, error) {
	backing := backingstore.NewFake()
	root := fs.RootId("initial")
	emptyTree := backing.NewTreeBuilder(policy).Build(fs.ObjectId("empty-tree"))
	backing.PutCommit(root, emptyTree)

	m, err := fs.OpenMount(fs.MountParams{
		Path:               dir,
		OverlayDir:         dir,
		Backing:            backing,
		InitialRoot:        root,
		CasePolicy:         policy,
		ObjectStoreConfig:  fs.DefaultObjectStoreConfig(),
		JournalMemoryLimit: 64 << 20,
	})
	if err != nil {
		return nil, err
	}
	if err := m.StartChannel(NoopChannel{}, false); err != nil {
		return nil, err
	}
	return &TestMount{Mount: m, Backing: backing}, nil
}

// CommitTree registers a new commit built from builder under a fresh root id
// and returns that root id, ready to pass to Mount.Checkout.
func (tm *TestMount) CommitTree(root fs.RootId, builder *backingstore.TreeBuilder, treeID fs.ObjectId) fs.RootId {
	builder.Build(treeID)
	tm.Backing.PutCommit(root, treeID)
	return root
}
