package fs

import "testing"

func TestOverlaySaveAndLoadDirRoundTrips(t *testing.T) {
	o, err := OpenOverlay(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOverlay: %v", err)
	}
	defer o.Close()

	d := NewOverlayDir()
	d.Entries["a.txt"] = OverlayEntry{Mode: 0644, Type: EntryRegular}
	d.Materialized = true

	if err := o.SaveDir(RootInodeNumber, d); err != nil {
		t.Fatalf("SaveDir: %v", err)
	}

	loaded, found, err := o.LoadDir(RootInodeNumber)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if !found {
		t.Fatalf("expected dir to be found after save")
	}
	if !loaded.Materialized {
		t.Fatalf("expected Materialized to round-trip true")
	}
	if _, ok := loaded.Entries["a.txt"]; !ok {
		t.Fatalf("expected a.txt entry to round-trip")
	}
}

func TestOverlayAllocateInodeNumberIsMonotonic(t *testing.T) {
	o, err := OpenOverlay(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOverlay: %v", err)
	}
	defer o.Close()

	first, err := o.AllocateInodeNumber()
	if err != nil {
		t.Fatalf("AllocateInodeNumber: %v", err)
	}
	second, err := o.AllocateInodeNumber()
	if err != nil {
		t.Fatalf("AllocateInodeNumber: %v", err)
	}
	if second <= first {
		t.Fatalf("expected strictly increasing inode numbers, got %d then %d", first, second)
	}
}

func TestOverlayWriteReadRoundTrips(t *testing.T) {
	o, err := OpenOverlay(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOverlay: %v", err)
	}
	defer o.Close()

	ino, err := o.AllocateInodeNumber()
	if err != nil {
		t.Fatalf("AllocateInodeNumber: %v", err)
	}
	if _, err := o.Write(ino, 0, []byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := o.Read(ino, 0, 11)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("expected round-tripped content, got %q", data)
	}
}
