package fusechannel

import (
	"context"
	"fmt"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
	"github.com/edenfs-go/eden/internal/fs"
)

// Channel implements fs.Channel (internal/fs/channel.go) over a running
// go-fuse server: InvalidateInode/InvalidateEntry push straight into the
// kernel's dentry/attribute cache via the server's own notify calls, so a
// checkout's out-of-band writes (the overlay and object store are written
// directly, never through a kernel write()) still show up to readers
// immediately (spec §4.9 "Channel invalidation").
type Channel struct {
	server *gofuse.Server
}

// NewChannel wraps an already-mounted go-fuse server.
func NewChannel(server *gofuse.Server) *Channel {
	return &Channel{server: server}
}

func (c *Channel) InvalidateInode(ino fs.InodeNumber) error {
	// InodeNotify's size=-1 tells the kernel to drop any cached page range
	// for the inode rather than invalidate a specific byte window.
	code := c.server.InodeNotify(uint64(ino), 0, -1)
	if code != gofuse.OK && code != gofuse.ENOENT {
		return gofuseStatusErr(code)
	}
	return nil
}

func (c *Channel) InvalidateEntry(parent fs.InodeNumber, name fs.PathComponent) error {
	code := c.server.EntryNotify(uint64(parent), string(name))
	if code != gofuse.OK && code != gofuse.ENOENT {
		return gofuseStatusErr(code)
	}
	return nil
}

// FlushInvalidations is a no-op: go-fuse's notify calls above are
// synchronous kernel writes, so there is nothing left buffered to drain
// once they return (spec §4.9 flush_invalidations exists for channel
// implementations whose notify path is itself asynchronous).
func (c *Channel) FlushInvalidations(ctx context.Context) error {
	return nil
}

// TakeoverStop is a Non-goal for this adapter (spec §4.10 Non-goals:
// "the wire protocol for passing an open fd across a graceful restart");
// go-fuse's own session handoff is out of scope here.
func (c *Channel) TakeoverStop() (fs.StopData, error) {
	return fs.StopData{}, nil
}

func gofuseStatusErr(code gofuse.Status) error {
	return edenerrors.NewInternal(fmt.Sprintf("kernel notify failed: %v", code), nil)
}

var _ fs.Channel = (*Channel)(nil)
