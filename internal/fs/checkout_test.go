package fs_test

import (
	"context"
	"testing"

	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/testutil"
)

func TestCheckoutAddsFileAndAdvancesParent(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	b := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	b.File("hello.txt", []byte("world"), 0644)
	next := fs.RootId("commit-2")
	tm.CommitTree(next, b, fs.ObjectId("tree-2"))

	result, err := tm.Mount.Checkout(ctx, next, fs.ModeNormal)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected a clean checkout, got conflicts: %+v", result.Conflicts)
	}

	root, err := tm.Mount.Inodes.LookupTree(ctx, fs.RootInodeNumber)
	if err != nil {
		t.Fatalf("LookupTree: %v", err)
	}
	if _, ok := root.Contents().Entries["hello.txt"]; !ok {
		t.Fatalf("expected hello.txt to be present in the working copy after checkout")
	}

	current, err := tm.Mount.CurrentParent()
	if err != nil {
		t.Fatalf("CurrentParent: %v", err)
	}
	if current != next {
		t.Fatalf("expected current parent %q, got %q", next, current)
	}
}

func TestCheckoutDryRunLeavesCurrentParentUnchanged(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	before, _ := tm.Mount.CurrentParent()

	b := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	b.File("a.txt", []byte("x"), 0644)
	next := fs.RootId("commit-dry")
	tm.CommitTree(next, b, fs.ObjectId("tree-dry"))

	if _, err := tm.Mount.Checkout(ctx, next, fs.ModeDryRun); err != nil {
		t.Fatalf("Checkout(DryRun): %v", err)
	}

	after, _ := tm.Mount.CurrentParent()
	if after != before {
		t.Fatalf("dry run should not move current parent: before=%q after=%q", before, after)
	}
}

// TestCheckoutForceRevertsMaterializedFileUnderUnchangedTree is the Go
// analog of the original's CheckoutTest.modifyThenRevert: checking out the
// same root again with Force must still detect and revert a materialized
// descendant whose enclosing directory's hash never changed.
func TestCheckoutForceRevertsMaterializedFileUnderUnchangedTree(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	srcBuilder := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	srcBuilder.File("main.c", []byte("int main() { return 0; }\n"), 0644)
	srcTree := srcBuilder.Build(fs.ObjectId("src-tree-1"))

	root := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	root.Dir("src", srcTree)
	r1 := fs.RootId("r1")
	tm.CommitTree(r1, root, fs.ObjectId("root-tree-1"))

	if _, err := tm.Mount.Checkout(ctx, r1, fs.ModeNormal); err != nil {
		t.Fatalf("initial Checkout: %v", err)
	}

	rootHdr := fs.RequestHeader{NodeID: fs.RootInodeNumber, PID: 1, Opcode: "test"}
	srcIno, _, err := tm.Mount.Lookup(ctx, rootHdr, "src")
	if err != nil {
		t.Fatalf("Lookup src: %v", err)
	}
	srcHdr := fs.RequestHeader{NodeID: srcIno, PID: 1, Opcode: "test"}
	mainIno, _, err := tm.Mount.Lookup(ctx, srcHdr, "main.c")
	if err != nil {
		t.Fatalf("Lookup src/main.c: %v", err)
	}
	preHdr := fs.RequestHeader{NodeID: mainIno, PID: 1, Opcode: "test"}
	zero := int64(0)
	if _, err := tm.Mount.Setattr(ctx, preHdr, fs.SetattrRequest{Size: &zero}); err != nil {
		t.Fatalf("Setattr(size=0): %v", err)
	}
	if _, err := tm.Mount.Write(ctx, preHdr, 0, []byte("temporary edit\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := tm.Mount.Checkout(ctx, r1, fs.ModeForce)
	if err != nil {
		t.Fatalf("Force Checkout: %v", err)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Path != fs.RelativePath("src/main.c") || result.Conflicts[0].Kind != fs.ConflictModifiedModified {
		t.Fatalf("expected exactly one ModifiedModified conflict at src/main.c, got %+v", result.Conflicts)
	}

	preData, err := tm.Mount.Read(ctx, preHdr, 0, 64)
	if err != nil {
		t.Fatalf("Read via pre-revert handle: %v", err)
	}
	if string(preData) != "temporary edit\n" {
		t.Fatalf("expected the pre-revert handle to keep reading the stale content, got %q", preData)
	}

	postIno, _, err := tm.Mount.Lookup(ctx, srcHdr, "main.c")
	if err != nil {
		t.Fatalf("Lookup src/main.c after revert: %v", err)
	}
	if postIno == mainIno {
		t.Fatalf("expected the reverted file to resolve to a fresh inode, still got %d", postIno)
	}
	postHdr := fs.RequestHeader{NodeID: postIno, PID: 1, Opcode: "test"}
	postData, err := tm.Mount.Read(ctx, postHdr, 0, 64)
	if err != nil {
		t.Fatalf("Read via post-revert handle: %v", err)
	}
	if string(postData) != "int main() { return 0; }\n" {
		t.Fatalf("expected reverted content, got %q", postData)
	}
}

// TestCheckoutModifiedRemovedConflictBlocksNormalMode is the Go analog of
// the original's modifyThenCheckoutRevisionWithoutFile: a locally modified
// file whose destination commit drops it entirely must surface
// ConflictModifiedRemoved and, in Normal mode, must not be deleted.
func TestCheckoutModifiedRemovedConflictBlocksNormalMode(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	src1 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	src1.File("main.c", []byte("main v1\n"), 0644)
	srcTree1 := src1.Build(fs.ObjectId("src-tree-a"))
	root1 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	root1.Dir("src", srcTree1)
	r1 := fs.RootId("ra")
	tm.CommitTree(r1, root1, fs.ObjectId("root-tree-a"))

	src2 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	src2.File("main.c", []byte("main v1\n"), 0644)
	src2.File("test.c", []byte("test v1\n"), 0644)
	srcTree2 := src2.Build(fs.ObjectId("src-tree-b"))
	root2 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	root2.Dir("src", srcTree2)
	r2 := fs.RootId("rb")
	tm.CommitTree(r2, root2, fs.ObjectId("root-tree-b"))

	if _, err := tm.Mount.Checkout(ctx, r1, fs.ModeNormal); err != nil {
		t.Fatalf("checkout r1: %v", err)
	}
	if _, err := tm.Mount.Checkout(ctx, r2, fs.ModeNormal); err != nil {
		t.Fatalf("checkout r2: %v", err)
	}

	rootHdr := fs.RequestHeader{NodeID: fs.RootInodeNumber, PID: 1, Opcode: "test"}
	srcIno, _, err := tm.Mount.Lookup(ctx, rootHdr, "src")
	if err != nil {
		t.Fatalf("Lookup src: %v", err)
	}
	srcHdr := fs.RequestHeader{NodeID: srcIno, PID: 1, Opcode: "test"}
	testIno, _, err := tm.Mount.Lookup(ctx, srcHdr, "test.c")
	if err != nil {
		t.Fatalf("Lookup src/test.c: %v", err)
	}
	testHdr := fs.RequestHeader{NodeID: testIno, PID: 1, Opcode: "test"}
	zero := int64(0)
	if _, err := tm.Mount.Setattr(ctx, testHdr, fs.SetattrRequest{Size: &zero}); err != nil {
		t.Fatalf("Setattr(size=0): %v", err)
	}
	if _, err := tm.Mount.Write(ctx, testHdr, 0, []byte("dirty\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := tm.Mount.Checkout(ctx, r1, fs.ModeNormal)
	if err != nil {
		t.Fatalf("checkout back to r1: %v", err)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Path != fs.RelativePath("src/test.c") || result.Conflicts[0].Kind != fs.ConflictModifiedRemoved {
		t.Fatalf("expected exactly one ModifiedRemoved conflict at src/test.c, got %+v", result.Conflicts)
	}

	data, err := tm.Mount.Read(ctx, testHdr, 0, 64)
	if err != nil {
		t.Fatalf("expected src/test.c to survive a Normal-mode conflict: %v", err)
	}
	if string(data) != "dirty\n" {
		t.Fatalf("expected the dirty content to be left untouched, got %q", data)
	}
}

// TestCheckoutRemovedModifiedConflict covers the RemovedModified conflict
// kind: the working copy deleted a file outright while the destination
// commit still wants it present.
func TestCheckoutRemovedModifiedConflict(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	src1 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	src1.File("keep.txt", []byte("v1\n"), 0644)
	srcTree1 := src1.Build(fs.ObjectId("src-tree-c"))
	root1 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	root1.Dir("src", srcTree1)
	r1 := fs.RootId("rc")
	tm.CommitTree(r1, root1, fs.ObjectId("root-tree-c"))

	src2 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	src2.File("keep.txt", []byte("v2\n"), 0644)
	srcTree2 := src2.Build(fs.ObjectId("src-tree-d"))
	root2 := tm.Backing.NewTreeBuilder(fs.CaseSensitive)
	root2.Dir("src", srcTree2)
	r2 := fs.RootId("rd")
	tm.CommitTree(r2, root2, fs.ObjectId("root-tree-d"))

	if _, err := tm.Mount.Checkout(ctx, r1, fs.ModeNormal); err != nil {
		t.Fatalf("checkout r1: %v", err)
	}

	rootHdr := fs.RequestHeader{NodeID: fs.RootInodeNumber, PID: 1, Opcode: "test"}
	srcIno, _, err := tm.Mount.Lookup(ctx, rootHdr, "src")
	if err != nil {
		t.Fatalf("Lookup src: %v", err)
	}
	srcHdr := fs.RequestHeader{NodeID: srcIno, PID: 1, Opcode: "test"}
	if err := tm.Mount.Unlink(ctx, srcHdr, "keep.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	result, err := tm.Mount.Checkout(ctx, r2, fs.ModeNormal)
	if err != nil {
		t.Fatalf("checkout r2: %v", err)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Path != fs.RelativePath("src/keep.txt") || result.Conflicts[0].Kind != fs.ConflictRemovedModified {
		t.Fatalf("expected exactly one RemovedModified conflict at src/keep.txt, got %+v", result.Conflicts)
	}

	if _, _, err := tm.Mount.Lookup(ctx, srcHdr, "keep.txt"); err == nil {
		t.Fatalf("expected Normal mode to leave src/keep.txt deleted rather than re-creating it")
	}
}
