package backingstore

import (
	"context"
	"testing"

	"github.com/edenfs-go/eden/internal/fs"
)

func TestFakeGetTreeForCommitResolvesThroughCommitBinding(t *testing.T) {
	store := NewFake()
	ctx := context.Background()
	fctx := fs.NewFetchContext(0, "test")

	b := store.NewTreeBuilder(fs.CaseSensitive)
	b.File("readme.txt", []byte("hello"), 0644)
	treeID := b.Build("tree-1")
	store.PutCommit("root-1", treeID)

	tree, err := store.GetTreeForCommit(ctx, "root-1", fctx)
	if err != nil {
		t.Fatalf("GetTreeForCommit: %v", err)
	}
	entry, ok := tree.Entry("readme.txt", fs.CaseSensitive)
	if !ok {
		t.Fatalf("expected readme.txt entry in resolved tree")
	}
	blob, err := store.GetBlob(ctx, entry.ID, fctx)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(blob.Data) != "hello" {
		t.Fatalf("blob content mismatch: got %q", blob.Data)
	}
}

func TestFakeGetTreeForUnknownCommitErrors(t *testing.T) {
	store := NewFake()
	if _, err := store.GetTreeForCommit(context.Background(), "missing", fs.NewFetchContext(0, "test")); err == nil {
		t.Fatalf("expected an error for an unregistered root")
	}
}

func TestFakeTreeBuilderNestedDirectory(t *testing.T) {
	store := NewFake()
	b := store.NewTreeBuilder(fs.CaseSensitive)
	subID := b.File("nested.txt", []byte("x"), 0644).Build("sub-tree")

	root := store.NewTreeBuilder(fs.CaseSensitive)
	root.Dir("subdir", subID)
	rootID := root.Build("root-tree")

	tree, err := store.GetTree(context.Background(), rootID, fs.NewFetchContext(0, "test"))
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	entry, ok := tree.Entry("subdir", fs.CaseSensitive)
	if !ok || entry.Type != fs.EntryTree {
		t.Fatalf("expected a subdir tree entry, got %+v ok=%v", entry, ok)
	}
}
