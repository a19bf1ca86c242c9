package fs

import (
	"context"
	"time"
)

// fetchContextFor builds the per-request FetchContext a channel callback
// hands down into the load/fetch machinery (spec §4.9 Required callbacks;
// every Dispatcher method is channel-caused, so Cause is always
// CauseChannel here; backingstore.go declares CausePrefetch, but no code
// path sets it).
func fetchContextFor(hdr RequestHeader) *FetchContext {
	return NewFetchContext(hdr.PID, hdr.Opcode)
}

func (m *Mount) attrFor(i Inode) Attr {
	now := time.Now()
	return Attr{
		Inode: i.Number(),
		Mode:  i.Mode(),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

// Getattr implements Dispatcher (spec §4.9). Size is resolved per kind:
// directories report zero, files ask their current state (cached blob
// metadata or the overlay, whichever backs them right now).
func (m *Mount) Getattr(ctx context.Context, hdr RequestHeader) (Attr, error) {
	i, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	if err != nil {
		return Attr{}, err
	}
	attr := m.attrFor(i)
	if f, ok := i.(*FileInode); ok {
		size, err := f.Size(ctx, fetchContextFor(hdr))
		if err != nil {
			return Attr{}, err
		}
		attr.Size = uint64(size)
	}
	return attr, nil
}

// Setattr implements Dispatcher. Only Size (truncate) is applied;
// mode/uid/gid/atime/mtime are accepted and ignored rather than rejected,
// and the returned attributes are the inode's current ones, matching the
// spec §9 decision that a no-op privileged field never fails the call.
func (m *Mount) Setattr(ctx context.Context, hdr RequestHeader, desired SetattrRequest) (Attr, error) {
	i, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	if err != nil {
		return Attr{}, err
	}
	if desired.Size != nil {
		f, err := AsFile(i)
		if err != nil {
			return Attr{}, err
		}
		if err := f.Truncate(ctx, *desired.Size, fetchContextFor(hdr)); err != nil {
			return Attr{}, err
		}
	}
	return m.Getattr(ctx, hdr)
}

// Lookup implements Dispatcher (spec §4.3 load protocol entry point).
func (m *Mount) Lookup(ctx context.Context, hdr RequestHeader, name PathComponent) (InodeNumber, Attr, error) {
	parent, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return 0, Attr{}, err
	}
	child, err := parent.GetOrLoadChild(ctx, name, fetchContextFor(hdr))
	if err != nil {
		return 0, Attr{}, err
	}
	return child.Number(), m.attrFor(child), nil
}

// Readdir implements Dispatcher (spec §4.4).
func (m *Mount) Readdir(ctx context.Context, hdr RequestHeader, offset int, budget int) ([]DirEntry, bool, error) {
	dir, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return nil, false, err
	}
	names, eof := dir.Readdir(offset, budget)
	out := make([]DirEntry, 0, len(names))
	for _, name := range names {
		_, entry, ok := dir.lookupLocked(name)
		if !ok {
			continue
		}
		out = append(out, DirEntry{Name: name, Inode: entry.Inode, IsDir: entry.Type == EntryTree})
	}
	return out, eof, nil
}

// Open is a no-op at the core level: the overlay/object-store already
// tolerate concurrent opens without a separate handle table (spec §4.9
// Non-goal: no POSIX file-handle/fd accounting beyond the fsRefcount the
// channel adapter drives via incFS/decFS).
func (m *Mount) Open(ctx context.Context, hdr RequestHeader, flags int) error {
	_, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	return err
}

func (m *Mount) Read(ctx context.Context, hdr RequestHeader, off int64, size int) ([]byte, error) {
	i, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	if err != nil {
		return nil, err
	}
	f, err := AsFile(i)
	if err != nil {
		return nil, err
	}
	return f.Read(ctx, off, size, fetchContextFor(hdr))
}

func (m *Mount) Write(ctx context.Context, hdr RequestHeader, off int64, data []byte) (int, error) {
	i, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	if err != nil {
		return 0, err
	}
	f, err := AsFile(i)
	if err != nil {
		return 0, err
	}
	return f.Write(ctx, off, data, fetchContextFor(hdr))
}

// Flush is a no-op: every Write already goes straight through to the
// overlay (spec §3 "Materialized" bodies are overlay-durable immediately,
// not buffered in memory awaiting a flush).
func (m *Mount) Flush(ctx context.Context, hdr RequestHeader) error {
	_, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	return err
}

// Fsync is a no-op beyond validating the inode: every overlay write already
// goes straight through to its backing file with no write-back cache to
// drain (spec §3, see Flush above).
func (m *Mount) Fsync(ctx context.Context, hdr RequestHeader, dataOnly bool) error {
	_, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	return err
}

func (m *Mount) Symlink(ctx context.Context, hdr RequestHeader, name PathComponent, target string) (InodeNumber, Attr, error) {
	parent, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return 0, Attr{}, err
	}
	f, err := parent.Symlink(name, target)
	if err != nil {
		return 0, Attr{}, err
	}
	return f.Number(), m.attrFor(f), nil
}

func (m *Mount) Readlink(ctx context.Context, hdr RequestHeader) (string, error) {
	i, err := m.Inodes.LookupInode(ctx, hdr.NodeID)
	if err != nil {
		return "", err
	}
	f, err := AsFile(i)
	if err != nil {
		return "", err
	}
	body, err := f.Read(ctx, 0, maxSymlinkTarget, fetchContextFor(hdr))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

const maxSymlinkTarget = 4096

func (m *Mount) Create(ctx context.Context, hdr RequestHeader, name PathComponent, mode uint32) (InodeNumber, Attr, error) {
	parent, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return 0, Attr{}, err
	}
	f, err := parent.MknodRegular(name, mode)
	if err != nil {
		return 0, Attr{}, err
	}
	return f.Number(), m.attrFor(f), nil
}

func (m *Mount) Mkdir(ctx context.Context, hdr RequestHeader, name PathComponent, mode uint32) (InodeNumber, Attr, error) {
	parent, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return 0, Attr{}, err
	}
	d, err := parent.Mkdir(name, mode)
	if err != nil {
		return 0, Attr{}, err
	}
	return d.Number(), m.attrFor(d), nil
}

func (m *Mount) Mknod(ctx context.Context, hdr RequestHeader, name PathComponent, mode uint32) (InodeNumber, Attr, error) {
	return m.Create(ctx, hdr, name, mode)
}

func (m *Mount) Unlink(ctx context.Context, hdr RequestHeader, name PathComponent) error {
	parent, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return err
	}
	return parent.Unlink(name)
}

func (m *Mount) Rmdir(ctx context.Context, hdr RequestHeader, name PathComponent) error {
	parent, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return err
	}
	return parent.Rmdir(name)
}

func (m *Mount) Rename(ctx context.Context, hdr RequestHeader, name PathComponent, newParent InodeNumber, newName PathComponent) error {
	oldParent, err := m.Inodes.LookupTree(ctx, hdr.NodeID)
	if err != nil {
		return err
	}
	newParentTree, err := m.Inodes.LookupTree(ctx, newParent)
	if err != nil {
		return err
	}
	return oldParent.Rename(name, newParentTree, newName)
}

var _ Dispatcher = (*Mount)(nil)
