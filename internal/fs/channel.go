package fs

import (
	"context"
	"sync"
	"time"
)

// Channel is the abstract, core-consumed handle to whatever kernel bridge
// (FUSE/NFS/projected-FS) is driving this mount (spec §6, §4.9 "Core also
// provides to the channel"). The core only emits invalidations and
// negotiates takeover through it; wire decoding lives entirely outside
// the core (see internal/fusechannel for a concrete go-fuse adapter).
type Channel interface {
	InvalidateInode(ino InodeNumber) error
	InvalidateEntry(parent InodeNumber, name PathComponent) error
	FlushInvalidations(ctx context.Context) error
	TakeoverStop() (StopData, error)
}

// StopData is the payload handed back by a graceful takeover_stop, handed
// to a successor process's takeover_channel (spec §4.10, §6).
type StopData struct {
	RawDeviceHandle uintptr
	Settings        map[string]string
}

// RequestHeader carries the per-request kernel metadata (spec §4.9:
// "opcode, unique id, PID" plus nodeid/uid/gid).
type RequestHeader struct {
	Opcode string
	Unique uint64
	NodeID InodeNumber
	UID    uint32
	GID    uint32
	PID    int
}

// Dispatcher is the abstract interface the core exposes for an external
// kernel-bridge to drive (spec §4.9 "Required callbacks"). Every method
// takes a context so cancellation (e.g. a disconnected client) propagates
// into the load/fetch machinery below it.
type Dispatcher interface {
	Getattr(ctx context.Context, hdr RequestHeader) (Attr, error)
	Setattr(ctx context.Context, hdr RequestHeader, desired SetattrRequest) (Attr, error)

	Lookup(ctx context.Context, hdr RequestHeader, name PathComponent) (InodeNumber, Attr, error)
	Readdir(ctx context.Context, hdr RequestHeader, offset int, budget int) ([]DirEntry, bool, error)

	Open(ctx context.Context, hdr RequestHeader, flags int) error
	Read(ctx context.Context, hdr RequestHeader, off int64, size int) ([]byte, error)
	Write(ctx context.Context, hdr RequestHeader, off int64, data []byte) (int, error)
	Flush(ctx context.Context, hdr RequestHeader) error
	Fsync(ctx context.Context, hdr RequestHeader, dataOnly bool) error

	Symlink(ctx context.Context, hdr RequestHeader, name PathComponent, target string) (InodeNumber, Attr, error)
	Readlink(ctx context.Context, hdr RequestHeader) (string, error)

	Create(ctx context.Context, hdr RequestHeader, name PathComponent, mode uint32) (InodeNumber, Attr, error)
	Mkdir(ctx context.Context, hdr RequestHeader, name PathComponent, mode uint32) (InodeNumber, Attr, error)
	Mknod(ctx context.Context, hdr RequestHeader, name PathComponent, mode uint32) (InodeNumber, Attr, error)
	Unlink(ctx context.Context, hdr RequestHeader, name PathComponent) error
	Rmdir(ctx context.Context, hdr RequestHeader, name PathComponent) error
	Rename(ctx context.Context, hdr RequestHeader, name PathComponent, newParent InodeNumber, newName PathComponent) error
}

// Attr is the kernel-facing attribute view of an inode.
type Attr struct {
	Inode InodeNumber
	Mode  uint32
	Size  uint64
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// SetattrRequest carries only the fields the caller actually wants
// changed (spec §9 open question: "setattr with an unchanged uid/gid
// should succeed as a no-op when the caller lacks privilege" — Mount.Setattr
// accepts every field without a privilege check and applies only Size).
type SetattrRequest struct {
	Mode      *uint32
	UID       *uint32
	GID       *uint32
	Size      *int64
	Atime     *time.Time
	Mtime     *time.Time
}

// DirEntry is one readdir result (spec §4.4).
type DirEntry struct {
	Name  PathComponent
	Inode InodeNumber
	IsDir bool
}

// TraceEvent is one entry on the tracing bus (spec §4.9 "publishes
// START/FINISH events per request with opcode, unique id, PID, latency").
type TraceEvent struct {
	Kind     string // "START" or "FINISH"
	Opcode   string
	Unique   uint64
	PID      int
	Latency  time.Duration
	Args     string // populated only when detailed-argument tracing is enabled
}

// TraceBus is a simple fan-out publisher for TraceEvents.
type TraceBus struct {
	mu            sync.RWMutex
	subs          map[int]func(TraceEvent)
	next          int
	detailedArgs  bool
}

func newTraceBus() *TraceBus {
	return &TraceBus{subs: make(map[int]func(TraceEvent))}
}

func (b *TraceBus) Subscribe(cb func(TraceEvent)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = cb
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *TraceBus) EnableDetailedArgs(enabled bool) {
	b.mu.Lock()
	b.detailedArgs = enabled
	b.mu.Unlock()
}

func (b *TraceBus) publish(ev TraceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.detailedArgs {
		ev.Args = ""
	}
	for _, cb := range b.subs {
		cb(ev)
	}
}
