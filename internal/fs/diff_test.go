package fs_test

import (
	"context"
	"testing"

	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/testutil"
)

type collectingDiff struct {
	added, removed, modified, ignored []fs.RelativePath
}

func (c *collectingDiff) AddedFile(path fs.RelativePath)                 { c.added = append(c.added, path) }
func (c *collectingDiff) RemovedFile(path fs.RelativePath, _ fs.TreeEntry) { c.removed = append(c.removed, path) }
func (c *collectingDiff) ModifiedFile(path fs.RelativePath, _ fs.TreeEntry) { c.modified = append(c.modified, path) }
func (c *collectingDiff) IgnoredFile(path fs.RelativePath)               { c.ignored = append(c.ignored, path) }
func (c *collectingDiff) DiffError(path fs.RelativePath, _ error)        {}

func TestDiffDetectsUntrackedFileAsAdded(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	root, err := tm.Mount.Inodes.LookupTree(ctx, fs.RootInodeNumber)
	if err != nil {
		t.Fatalf("LookupTree: %v", err)
	}
	if _, err := root.MknodRegular("untracked.txt", 0644); err != nil {
		t.Fatalf("MknodRegular: %v", err)
	}

	emptyTree := fs.NewTree(nil, fs.CaseSensitive)
	cb := &collectingDiff{}
	if err := tm.Mount.Diff(ctx, emptyTree, root, cb, fs.DiffOptions{}); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(cb.added) != 1 || cb.added[0] != fs.RelativePath("untracked.txt") {
		t.Fatalf("expected untracked.txt to be reported added, got %+v", cb.added)
	}
}

func TestDiffDetectsRemovedFile(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	root, err := tm.Mount.Inodes.LookupTree(ctx, fs.RootInodeNumber)
	if err != nil {
		t.Fatalf("LookupTree: %v", err)
	}

	scmTree := fs.NewTree([]fs.TreeEntry{
		{Name: "gone.txt", Mode: 0644, Type: fs.EntryRegular, ID: fs.ObjectId("gone-blob")},
	}, fs.CaseSensitive)

	cb := &collectingDiff{}
	if err := tm.Mount.Diff(ctx, scmTree, root, cb, fs.DiffOptions{}); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(cb.removed) != 1 || cb.removed[0] != fs.RelativePath("gone.txt") {
		t.Fatalf("expected gone.txt to be reported removed, got %+v", cb.removed)
	}
}

// TestDiffExcludedDirectoryRecursesAndReportsPerFile is scenario D (spec
// §4.8): a directory-level gitignore exclude (`junk/`) must still recurse
// into the directory and report its contents individually as ignored; an
// inner `!` include rule does not resurrect a path under an already
// excluded ancestor.
func TestDiffExcludedDirectoryRecursesAndReportsPerFile(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()
	fctx := fs.NewFetchContext(0, "test")

	root, err := tm.Mount.Inodes.LookupTree(ctx, fs.RootInodeNumber)
	if err != nil {
		t.Fatalf("LookupTree: %v", err)
	}

	gitignore, err := root.MknodRegular(".gitignore", 0644)
	if err != nil {
		t.Fatalf("MknodRegular .gitignore: %v", err)
	}
	rules := "/1.txt\nignore.txt\njunk/\n!important.txt\n"
	if _, err := gitignore.Write(ctx, 0, []byte(rules), fctx); err != nil {
		t.Fatalf("Write .gitignore: %v", err)
	}

	if _, err := root.MknodRegular("1.txt", 0644); err != nil {
		t.Fatalf("MknodRegular 1.txt: %v", err)
	}
	if _, err := root.MknodRegular("2.txt", 0644); err != nil {
		t.Fatalf("MknodRegular 2.txt: %v", err)
	}

	junk, err := root.Mkdir("junk", 0755)
	if err != nil {
		t.Fatalf("Mkdir junk: %v", err)
	}
	if _, err := junk.MknodRegular("important.txt", 0644); err != nil {
		t.Fatalf("MknodRegular junk/important.txt: %v", err)
	}

	emptyTree := fs.NewTree(nil, fs.CaseSensitive)
	cb := &collectingDiff{}
	if err := tm.Mount.Diff(ctx, emptyTree, root, cb, fs.DiffOptions{ListIgnored: true}); err != nil {
		t.Fatalf("Diff: %v", err)
	}

	wantIgnored := map[fs.RelativePath]bool{
		"1.txt":              true,
		"junk/important.txt": true,
	}
	if len(cb.ignored) != len(wantIgnored) {
		t.Fatalf("expected ignored set %v, got %+v", wantIgnored, cb.ignored)
	}
	for _, p := range cb.ignored {
		if !wantIgnored[p] {
			t.Fatalf("unexpected ignored path %q, want one of %v", p, wantIgnored)
		}
	}

	wantAdded := map[fs.RelativePath]bool{"2.txt": true, ".gitignore": true}
	if len(cb.added) != len(wantAdded) {
		t.Fatalf("expected added set %v, got %+v", wantAdded, cb.added)
	}
	for _, p := range cb.added {
		if !wantAdded[p] {
			t.Fatalf("unexpected added path %q, want one of %v", p, wantAdded)
		}
	}
}
