// Package fusechannel adapts the core's abstract Dispatcher/Channel
// interfaces (internal/fs/channel.go) onto github.com/hanwen/go-fuse/v2, the
// same low-level raw-fs API the teacher drives in its own cmd/onemount
// (internal/fs/raw_filesystem.go: embed fuse.RawFileSystem via
// fuse.NewDefaultRawFileSystem() and override only the opcodes core cares
// about, leaving everything else to the default no-op implementation).
package fusechannel

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
	"github.com/edenfs-go/eden/internal/fs"
)

// attrTimeout mirrors the teacher's fixed kernel-attribute-cache timeout
// (fs.go: const timeout = time.Second); EdenFS's own invalidation channel
// (InvalidateInode/InvalidateEntry) is what actually keeps the kernel
// cache honest across an out-of-band checkout, so this only bounds staleness
// between one invalidation and the next.
const attrTimeout = time.Second // passed to SetTimeout/SetAttrTimeout/SetEntryTimeout

// RawFS implements fuse.RawFileSystem by translating kernel requests into
// calls against the core Dispatcher (spec §4.9 "Required callbacks").
type RawFS struct {
	fuse.RawFileSystem
	dispatch fs.Dispatcher
}

// NewRawFS wraps dispatch behind the default raw filesystem, the same
// pattern as the teacher's CustomRawFileSystem.
func NewRawFS(dispatch fs.Dispatcher) *RawFS {
	return &RawFS{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		dispatch:      dispatch,
	}
}

func header(h *fuse.InHeader) fs.RequestHeader {
	return fs.RequestHeader{
		Opcode: "", // the opcode name is not exposed on InHeader; individual overrides set it below
		Unique: h.Unique,
		NodeID: fs.InodeNumber(h.NodeId),
		UID:    h.Caller.Uid,
		GID:    h.Caller.Gid,
		PID:    int(h.Caller.Pid),
	}
}

func withOp(hdr fs.RequestHeader, op string) fs.RequestHeader {
	hdr.Opcode = op
	return hdr
}

func statusFor(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	switch edenerrors.KindOf(err) {
	case edenerrors.KindNotFound:
		return fuse.ENOENT
	case edenerrors.KindAlreadyExists:
		return fuse.Status(syscall.EEXIST)
	case edenerrors.KindIsADirectory:
		return fuse.Status(syscall.EISDIR)
	case edenerrors.KindNotADirectory:
		return fuse.Status(syscall.ENOTDIR)
	case edenerrors.KindDirectoryNotEmpty:
		return fuse.Status(syscall.ENOTEMPTY)
	case edenerrors.KindInvalidArgument:
		return fuse.EINVAL
	case edenerrors.KindCheckoutInProgress:
		return fuse.Status(syscall.EBUSY)
	default:
		return fuse.EIO
	}
}

func applyAttr(out *fuse.AttrOut, attr fs.Attr) {
	out.Attr.Ino = uint64(attr.Inode)
	out.Attr.Mode = attr.Mode
	out.Attr.Size = attr.Size
	out.Attr.Uid = attr.UID
	out.Attr.Gid = attr.GID
	out.SetTimeout(attrTimeout)
}

func applyEntry(out *fuse.EntryOut, ino fs.InodeNumber, attr fs.Attr) {
	out.NodeId = uint64(ino)
	out.Attr.Ino = uint64(attr.Inode)
	out.Attr.Mode = attr.Mode
	out.Attr.Size = attr.Size
	out.Attr.Uid = attr.UID
	out.Attr.Gid = attr.GID
	out.SetAttrTimeout(attrTimeout)
	out.SetEntryTimeout(attrTimeout)
}

func (r *RawFS) GetAttr(cancel <-chan struct{}, in *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	attr, err := r.dispatch.Getattr(context.Background(), withOp(header(&in.InHeader), "getattr"))
	if err != nil {
		return statusFor(err)
	}
	applyAttr(out, attr)
	return fuse.OK
}

func (r *RawFS) SetAttr(cancel <-chan struct{}, in *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	var req fs.SetattrRequest
	if mode, ok := in.GetMode(); ok {
		req.Mode = &mode
	}
	if size, ok := in.GetSize(); ok {
		signed := int64(size)
		req.Size = &signed
	}
	attr, err := r.dispatch.Setattr(context.Background(), withOp(header(&in.InHeader), "setattr"), req)
	if err != nil {
		return statusFor(err)
	}
	applyAttr(out, attr)
	return fuse.OK
}

func (r *RawFS) Lookup(cancel <-chan struct{}, in *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	ino, attr, err := r.dispatch.Lookup(context.Background(), withOp(header(in), "lookup"), fs.PathComponent(name))
	if err != nil {
		return statusFor(err)
	}
	applyEntry(out, ino, attr)
	return fuse.OK
}

func (r *RawFS) ReadDirPlus(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	hdr := withOp(header(&in.InHeader), "readdir")
	offset := int(in.Offset)
	for {
		entries, eof, err := r.dispatch.Readdir(context.Background(), hdr, offset, 1)
		if err != nil {
			return statusFor(err)
		}
		if len(entries) == 0 {
			return fuse.OK
		}
		e := entries[0]
		de := fuse.DirEntry{Ino: uint64(e.Inode), Name: string(e.Name)}
		if e.IsDir {
			de.Mode = syscall.S_IFDIR
		} else {
			de.Mode = syscall.S_IFREG
		}
		entryOut := out.AddDirLookupEntry(de)
		if entryOut == nil {
			return fuse.OK // kernel buffer full; it will re-call at the next offset
		}
		entryOut.NodeId = de.Ino
		entryOut.SetAttrTimeout(attrTimeout)
		entryOut.SetEntryTimeout(attrTimeout)
		offset++
		if eof {
			return fuse.OK
		}
	}
}

func (r *RawFS) ReadDir(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	hdr := withOp(header(&in.InHeader), "readdir")
	entries, _, err := r.dispatch.Readdir(context.Background(), hdr, int(in.Offset), 128)
	if err != nil {
		return statusFor(err)
	}
	for i, e := range entries {
		de := fuse.DirEntry{Ino: uint64(e.Inode), Name: string(e.Name)}
		if e.IsDir {
			de.Mode = syscall.S_IFDIR
		} else {
			de.Mode = syscall.S_IFREG
		}
		if !out.AddDirEntry(de) {
			break
		}
		_ = i
	}
	return fuse.OK
}

func (r *RawFS) Open(cancel <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	err := r.dispatch.Open(context.Background(), withOp(header(&in.InHeader), "open"), int(in.Flags))
	return statusFor(err)
}

func (r *RawFS) Read(cancel <-chan struct{}, in *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	data, err := r.dispatch.Read(context.Background(), withOp(header(&in.InHeader), "read"), int64(in.Offset), len(buf))
	if err != nil {
		return nil, statusFor(err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (r *RawFS) Write(cancel <-chan struct{}, in *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	n, err := r.dispatch.Write(context.Background(), withOp(header(&in.InHeader), "write"), int64(in.Offset), data)
	if err != nil {
		return 0, statusFor(err)
	}
	return uint32(n), fuse.OK
}

func (r *RawFS) Flush(cancel <-chan struct{}, in *fuse.FlushIn) fuse.Status {
	return statusFor(r.dispatch.Flush(context.Background(), withOp(header(&in.InHeader), "flush")))
}

func (r *RawFS) Fsync(cancel <-chan struct{}, in *fuse.FsyncIn) fuse.Status {
	dataOnly := in.FsyncFlags&1 != 0
	return statusFor(r.dispatch.Fsync(context.Background(), withOp(header(&in.InHeader), "fsync"), dataOnly))
}

func (r *RawFS) Symlink(cancel <-chan struct{}, header_ *fuse.InHeader, pointedTo string, linkName string, out *fuse.EntryOut) fuse.Status {
	ino, attr, err := r.dispatch.Symlink(context.Background(), withOp(header(header_), "symlink"), fs.PathComponent(linkName), pointedTo)
	if err != nil {
		return statusFor(err)
	}
	applyEntry(out, ino, attr)
	return fuse.OK
}

func (r *RawFS) Readlink(cancel <-chan struct{}, in *fuse.InHeader) ([]byte, fuse.Status) {
	target, err := r.dispatch.Readlink(context.Background(), withOp(header(in), "readlink"))
	if err != nil {
		return nil, statusFor(err)
	}
	return []byte(target), fuse.OK
}

func (r *RawFS) Create(cancel <-chan struct{}, in *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	ino, attr, err := r.dispatch.Create(context.Background(), withOp(header(&in.InHeader), "create"), fs.PathComponent(name), in.Mode)
	if err != nil {
		return statusFor(err)
	}
	applyEntry(&out.EntryOut, ino, attr)
	return fuse.OK
}

func (r *RawFS) Mkdir(cancel <-chan struct{}, in *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	ino, attr, err := r.dispatch.Mkdir(context.Background(), withOp(header(&in.InHeader), "mkdir"), fs.PathComponent(name), in.Mode)
	if err != nil {
		return statusFor(err)
	}
	applyEntry(out, ino, attr)
	return fuse.OK
}

func (r *RawFS) Mknod(cancel <-chan struct{}, in *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	ino, attr, err := r.dispatch.Mknod(context.Background(), withOp(header(&in.InHeader), "mknod"), fs.PathComponent(name), in.Mode)
	if err != nil {
		return statusFor(err)
	}
	applyEntry(out, ino, attr)
	return fuse.OK
}

func (r *RawFS) Unlink(cancel <-chan struct{}, in *fuse.InHeader, name string) fuse.Status {
	return statusFor(r.dispatch.Unlink(context.Background(), withOp(header(in), "unlink"), fs.PathComponent(name)))
}

func (r *RawFS) Rmdir(cancel <-chan struct{}, in *fuse.InHeader, name string) fuse.Status {
	return statusFor(r.dispatch.Rmdir(context.Background(), withOp(header(in), "rmdir"), fs.PathComponent(name)))
}

func (r *RawFS) Rename(cancel <-chan struct{}, in *fuse.RenameIn, oldName string, newName string) fuse.Status {
	hdr := withOp(header(&in.InHeader), "rename")
	err := r.dispatch.Rename(context.Background(), hdr, fs.PathComponent(oldName), fs.InodeNumber(in.Newdir), fs.PathComponent(newName))
	return statusFor(err)
}

var _ fuse.RawFileSystem = (*RawFS)(nil)
