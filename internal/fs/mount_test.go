package fs_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/testutil"
)

// TestEdenMagicDirSetupAndMutationRefused covers the C10 initialize()
// requirement (spec §4.10, §6, §9): every mount exposes a ".eden" directory
// at a pinned inode number containing "root"/"client"/"socket"/"this-dir"
// symlinks, and once set up the directory refuses further mutation.
func TestEdenMagicDirSetupAndMutationRefused(t *testing.T) {
	dir := t.TempDir()
	tm, err := testutil.New(dir, fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()
	rootHdr := fs.RequestHeader{NodeID: fs.RootInodeNumber, PID: 1, Opcode: "test"}

	edenIno, _, err := tm.Mount.Lookup(ctx, rootHdr, ".eden")
	if err != nil {
		t.Fatalf("expected .eden to exist at the mount root: %v", err)
	}
	if edenIno != fs.EdenMagicDirInodeNumber {
		t.Fatalf("expected .eden to have the pinned inode number %d, got %d", fs.EdenMagicDirInodeNumber, edenIno)
	}

	edenHdr := fs.RequestHeader{NodeID: edenIno, PID: 1, Opcode: "test"}

	wantTargets := map[fs.PathComponent]string{
		"root":     dir,
		"this-dir": filepath.Join(dir, ".eden"),
	}
	for name, wantTarget := range wantTargets {
		linkIno, _, err := tm.Mount.Lookup(ctx, edenHdr, name)
		if err != nil {
			t.Fatalf("Lookup .eden/%s: %v", name, err)
		}
		linkHdr := fs.RequestHeader{NodeID: linkIno, PID: 1, Opcode: "test"}
		target, err := tm.Mount.Readlink(ctx, linkHdr)
		if err != nil {
			t.Fatalf("Readlink .eden/%s: %v", name, err)
		}
		if target != wantTarget {
			t.Fatalf(".eden/%s: expected target %q, got %q", name, wantTarget, target)
		}
	}
	for _, name := range []fs.PathComponent{"client", "socket"} {
		if _, _, err := tm.Mount.Lookup(ctx, edenHdr, name); err != nil {
			t.Fatalf("expected .eden/%s to exist: %v", name, err)
		}
	}

	if _, _, err := tm.Mount.Create(ctx, edenHdr, "evil.txt", 0644); err == nil {
		t.Fatalf("expected creating a file inside .eden to be refused")
	}
	if err := tm.Mount.Unlink(ctx, rootHdr, ".eden"); err == nil {
		t.Fatalf("expected removing .eden itself to be refused")
	}
}

// TestEdenMagicDirSurvivesRemount confirms the pinned inode number and
// symlinks are reconstructed identically across a close/reopen of the same
// overlay (spec §9 "test that it survives remount").
func TestEdenMagicDirSurvivesRemount(t *testing.T) {
	dir := t.TempDir()
	tm, err := testutil.New(dir, fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()

	if _, err := tm.Mount.Shutdown(false); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reopened, err := fs.OpenMount(fs.MountParams{
		Path:               dir,
		OverlayDir:         dir,
		Backing:            tm.Backing,
		InitialRoot:        fs.RootId("initial"),
		CasePolicy:         fs.CaseSensitive,
		ObjectStoreConfig:  fs.DefaultObjectStoreConfig(),
		JournalMemoryLimit: 64 << 20,
	})
	if err != nil {
		t.Fatalf("re-OpenMount: %v", err)
	}

	rootHdr := fs.RequestHeader{NodeID: fs.RootInodeNumber, PID: 1, Opcode: "test"}
	edenIno, _, err := reopened.Lookup(ctx, rootHdr, ".eden")
	if err != nil {
		t.Fatalf("expected .eden to exist after remount: %v", err)
	}
	if edenIno != fs.EdenMagicDirInodeNumber {
		t.Fatalf("expected .eden to keep its pinned inode number across remount, got %d", edenIno)
	}

	edenHdr := fs.RequestHeader{NodeID: edenIno, PID: 1, Opcode: "test"}
	rootLinkIno, _, err := reopened.Lookup(ctx, edenHdr, "root")
	if err != nil {
		t.Fatalf("Lookup .eden/root after remount: %v", err)
	}
	linkHdr := fs.RequestHeader{NodeID: rootLinkIno, PID: 1, Opcode: "test"}
	target, err := reopened.Readlink(ctx, linkHdr)
	if err != nil {
		t.Fatalf("Readlink .eden/root after remount: %v", err)
	}
	if target != dir {
		t.Fatalf("expected .eden/root to still point at %q after remount, got %q", dir, target)
	}
}
