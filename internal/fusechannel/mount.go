package fusechannel

import (
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
	"github.com/edenfs-go/eden/internal/fs"
)

// MountOptions narrows the teacher's fuse.MountOptions selection
// (cmd/onemount/main.go initializeFilesystem) to the fields EdenFS cares
// about; AllowOther mirrors the teacher's /etc/fuse.conf-gated check.
type MountOptions struct {
	AllowOther bool
	ReadOnly   bool
	FsName     string
	Debug      bool
}

// Serve mounts m at mountpoint via go-fuse, wires the resulting server as
// m's Channel (spec §4.10 start_channel), and blocks until the kernel
// unmounts it or ctx-driven Unmount completes — the same life-cycle shape
// as the teacher's main.go (mount, register signal handler, Serve, Unmount).
func Serve(m *fs.Mount, mountpoint string, opts MountOptions) error {
	raw := NewRawFS(m)
	mountOpts := &gofuse.MountOptions{
		AllowOther: opts.AllowOther,
		Debug:      opts.Debug,
		FsName:     opts.FsName,
		Name:       "edenfs",
	}
	server, err := gofuse.NewServer(raw, mountpoint, mountOpts)
	if err != nil {
		return edenerrors.NewInternal("mount fuse server", err)
	}

	ch := NewChannel(server)
	if err := m.StartChannel(ch, opts.ReadOnly); err != nil {
		server.Unmount()
		return err
	}

	server.Serve()
	return nil
}
