// Command edenfsd mounts one checkout as a FUSE filesystem. It is a thin
// coordinator: flag/config parsing, wiring a BackingStore, Mount
// Coordinator lifecycle, and signal-driven unmount, mirroring the
// teacher's cmd/onemount/main.go shape (setupFlags -> open -> mount ->
// setupSignalHandler -> Serve) without its OneDrive-specific auth and
// delta-sync concerns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/edenfs-go/eden/internal/config"
	"github.com/edenfs-go/eden/internal/fs"
	"github.com/edenfs-go/eden/internal/fs/backingstore"
	"github.com/edenfs-go/eden/internal/fusechannel"
	"github.com/edenfs-go/eden/internal/logging"
)

func usage() {
	fmt.Printf(`edenfsd - mount a checkout as a FUSE filesystem.

Usage: edenfsd [options] <mountpoint>

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.StringP("config-file", "f", config.DefaultConfigPath(),
		"A YAML-formatted edenfsd configuration file.")
	overlayDir := flag.StringP("overlay-dir", "o", "",
		"Directory holding this checkout's overlay and object-store cache.")
	initialRoot := flag.StringP("root", "r", "1",
		"The root id to check out on first mount.")
	allowOther := flag.Bool("allow-other", false,
		"Allow users other than the mount owner to access the filesystem.")
	readOnly := flag.Bool("read-only", false,
		"Mount read-only.")
	debugFuse := flag.Bool("debug", false,
		"Enable verbose FUSE request logging.")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	mountpoint, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid mountpoint: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load(*configPath)
	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetGlobalLevel(lvl)
	}
	log := logging.NewLogContext("edenfsd").WithMount(mountpoint).Logger()

	dir := *overlayDir
	if dir == "" {
		dir = filepath.Join(cfg.CacheDir, "mounts", strings.ReplaceAll(mountpoint, "/", "_"))
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("could not create overlay directory")
		os.Exit(1)
	}

	// No Non-goal-excluded real source-control backend is wired here (spec
	// Non-goals: "re-implementing source-control semantics"); edenfsd runs
	// against an in-memory backing store seeded with a single empty root,
	// suitable for a bare mount with everything materialized locally.
	backing := backingstore.NewFake()
	root := fs.RootId(*initialRoot)
	emptyTree := backing.NewTreeBuilder(cfg.CasePolicy()).Build(fs.ObjectId("root-" + *initialRoot))
	backing.PutCommit(root, emptyTree)

	mount, err := fs.OpenMount(fs.MountParams{
		Path:               mountpoint,
		OverlayDir:         dir,
		Backing:            backing,
		InitialRoot:        root,
		CasePolicy:         cfg.CasePolicy(),
		ObjectStoreConfig:  fs.DefaultObjectStoreConfig(),
		JournalMemoryLimit: 64 << 20,
		AsyncDurability:    cfg.AsyncDurability(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize mount")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(ctx, cancel, mount, log)

	fs.NotifyReady()
	log.Info().Str("mountpoint", mountpoint).Msg("serving filesystem")
	if err := fusechannel.Serve(mount, mountpoint, fusechannel.MountOptions{
		AllowOther: *allowOther,
		ReadOnly:   *readOnly,
		Debug:      *debugFuse,
		FsName:     "edenfs",
	}); err != nil {
		log.Error().Err(err).Msg("fuse server exited with error")
		os.Exit(1)
	}
}

// setupSignalHandler unmounts gracefully on SIGINT/SIGTERM, mirroring the
// teacher's setupSignalHandler but driving the Mount Coordinator's own
// Unmount/Destroy instead of filesystem-specific background-loop stops.
func setupSignalHandler(ctx context.Context, cancel context.CancelFunc, mount *fs.Mount, log *logging.ScopedLogger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", strings.ToUpper(sig.String())).Msg("signal received, unmounting")
		fs.NotifyStopping()

		if err := mount.Unmount(ctx); err != nil {
			log.Warn().Err(err).Msg("unmount reported an error")
		}
		if err := mount.Destroy(); err != nil {
			log.Warn().Err(err).Msg("destroy reported an error")
		}
		cancel()
		os.Exit(0)
	}()
}
