package fs_test

import (
	"context"
	"testing"

	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/testutil"
)

func TestDispatcherCreateWriteReadRoundTrips(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()
	hdr := fs.RequestHeader{NodeID: fs.RootInodeNumber, PID: 1, Opcode: "test"}

	ino, _, err := tm.Mount.Create(ctx, hdr, "file.txt", 0644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fileHdr := fs.RequestHeader{NodeID: ino, PID: 1, Opcode: "test"}
	n, err := tm.Mount.Write(ctx, fileHdr, 0, []byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}

	data, err := tm.Mount.Read(ctx, fileHdr, 0, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected to read back 'hello', got %q", data)
	}

	lookedUp, _, err := tm.Mount.Lookup(ctx, hdr, "file.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if lookedUp != ino {
		t.Fatalf("expected Lookup to resolve to the created inode %d, got %d", ino, lookedUp)
	}
}

func TestDispatcherMkdirRenameUnlink(t *testing.T) {
	tm, err := testutil.New(t.TempDir(), fs.CaseSensitive)
	if err != nil {
		t.Fatalf("testutil.New: %v", err)
	}
	ctx := context.Background()
	hdr := fs.RequestHeader{NodeID: fs.RootInodeNumber, PID: 1, Opcode: "test"}

	dirIno, _, err := tm.Mount.Mkdir(ctx, hdr, "sub", 0755)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	if _, _, err := tm.Mount.Create(ctx, hdr, "a.txt", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := tm.Mount.Rename(ctx, hdr, "a.txt", dirIno, "b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	dirHdr := fs.RequestHeader{NodeID: dirIno, PID: 1, Opcode: "test"}
	if _, _, err := tm.Mount.Lookup(ctx, dirHdr, "b.txt"); err != nil {
		t.Fatalf("expected b.txt to exist under sub/ after rename: %v", err)
	}

	if err := tm.Mount.Unlink(ctx, dirHdr, "b.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, _, err := tm.Mount.Lookup(ctx, dirHdr, "b.txt"); err == nil {
		t.Fatalf("expected b.txt to be gone after unlink")
	}
}
