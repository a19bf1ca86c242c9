package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
	"github.com/edenfs-go/eden/internal/logging"
)

// MountState is the Mount Coordinator's state machine (spec C10 / §4.10):
// Uninitialized -> Initializing -> Initialized -> Starting -> Running ->
// ShuttingDown -> ShutDown, with InitError/ChannelError reachable on
// failure and Destroying reachable from any state.
type MountState int

const (
	StateUninitialized MountState = iota
	StateInitializing
	StateInitialized
	StateStarting
	StateRunning
	StateShuttingDown
	StateShutDown
	StateInitError
	StateChannelError
	StateDestroying
)

func (s MountState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateInitialized:
		return "Initialized"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateShutDown:
		return "ShutDown"
	case StateInitError:
		return "InitError"
	case StateChannelError:
		return "ChannelError"
	case StateDestroying:
		return "Destroying"
	default:
		return "Unknown"
	}
}

// MountGeneration is a 64-bit id distinguishing successive processes that
// have served the same on-disk mount: the high 48 bits derive from (pid,
// boot time), the low 16 bits are a per-process monotonic counter (spec
// §4.10, SPEC_FULL supplement 4). It lets a channel adapter detect a stale
// request from a predecessor process during takeover.
type MountGeneration uint64

var mountGenCounter uint32 // process-wide low-16-bits source; wraps is acceptable

func newMountGeneration() MountGeneration {
	high := (uint64(os.Getpid()) << 24) ^ uint64(time.Now().UnixNano())
	high &^= 0xffff // clear low 16 bits, reserved for the counter
	low := uint64(nextMountCounter()) & 0xffff
	return MountGeneration(high | low)
}

func nextMountCounter() uint32 {
	mountGenMu.Lock()
	defer mountGenMu.Unlock()
	mountGenCounter++
	return mountGenCounter
}

var mountGenMu sync.Mutex

// Mount is the per-checkout coordinator: it owns the object store, overlay,
// inode graph, journal, and channel for one mounted working copy (spec
// C10). Construction order follows dependency order: overlay and object
// store first, then the inode map (which needs both), then the mount
// itself wires a channel and starts serving once StartChannel succeeds.
type Mount struct {
	Path       string
	CasePolicy CasePolicy

	Objects *ObjectStore
	Overlay *Overlay
	Inodes  *InodeMap
	Journal *Journal
	Channel Channel
	Stats   *RequestAccountant
	Trace   *TraceBus

	renameLock renameLock
	parentsLk  parentsLock

	mu                 sync.Mutex
	state              MountState
	currentParent      RootId
	lastCheckedOutRoot RootId
	lastCheckoutTime   time.Time
	generation         MountGeneration
	edenDirIno         InodeNumber
	edenDirSetupDone   bool

	configPath string
	logCore    *logging.ScopedLogger
}

// MountParams bundles the dependencies OpenMount needs to assemble a
// Mount (spec §4.10 initialize()).
type MountParams struct {
	Path       string
	OverlayDir string
	Backing    BackingStore
	InitialRoot RootId
	CasePolicy CasePolicy
	ObjectStoreConfig ObjectStoreConfig
	JournalMemoryLimit int
	// AsyncDurability selects the daemon config's "async" overlay
	// durability mode (OpenOverlayAsync) over the fsync-per-commit default.
	AsyncDurability bool
}

// OpenMount implements the C10 initialize() step: it opens the overlay
// (creating it on first mount), builds the object store façade over the
// given backing store, loads or seeds the root inode, and leaves the mount
// in StateInitialized — the caller still must call StartChannel to begin
// serving (spec §4.10 "Initialize ... then start_channel").
func OpenMount(params MountParams) (*Mount, error) {
	log := logging.NewLogContext("mount").WithMount(params.Path).Logger()

	open := OpenOverlay
	if params.AsyncDurability {
		open = OpenOverlayAsync
	}
	overlay, err := open(params.OverlayDir)
	if err != nil {
		return nil, edenerrors.Wrap(err, "open mount: overlay")
	}

	durable, err := openObjectStoreDurableDB(filepath.Join(params.OverlayDir, "objects.db"))
	if err != nil {
		overlay.Close()
		return nil, edenerrors.Wrap(err, "open mount: object store durable cache")
	}

	objects := NewObjectStore(params.Backing, durable, params.ObjectStoreConfig)

	m := &Mount{
		Path:       params.Path,
		CasePolicy: params.CasePolicy,
		Objects:    objects,
		Overlay:    overlay,
		Journal:    NewJournal(params.JournalMemoryLimit),
		Stats:      newRequestAccountant(),
		Trace:      newTraceBus(),
		state:      StateInitializing,
		configPath: filepath.Join(params.OverlayDir, "config.json"),
		logCore:    log,
		generation: newMountGeneration(),
	}
	m.Inodes = newInodeMap(m)

	if err := m.loadOrSeedRoot(params.InitialRoot); err != nil {
		m.state = StateInitError
		return nil, edenerrors.Wrap(err, "open mount: root")
	}

	if err := m.setupEdenMagicDir(); err != nil {
		m.state = StateInitError
		return nil, edenerrors.Wrap(err, "open mount: .eden")
	}

	m.mu.Lock()
	m.state = StateInitialized
	m.mu.Unlock()
	return m, nil
}

func (m *Mount) loadOrSeedRoot(initial RootId) error {
	rootDir, found, err := m.Overlay.LoadDir(RootInodeNumber)
	if err != nil {
		return err
	}
	if !found {
		tree, err := m.Objects.GetRootTree(context.Background(), initial, NewFetchContext(0, "initialize"))
		if err != nil {
			return err
		}
		rootDir = dirFromTree(tree)
		rootDir.SourceTree = ""
		rootDir.Materialized = false
		if err := m.Overlay.SaveDir(RootInodeNumber, rootDir); err != nil {
			return err
		}
		m.currentParent = initial
		m.lastCheckedOutRoot = initial
	} else {
		cfg, ok, err := loadMountConfig(m.configPath)
		if err != nil {
			return err
		}
		if ok {
			m.currentParent = cfg.ParentRoot
			m.lastCheckedOutRoot = cfg.ParentRoot
			m.CasePolicy = cfg.CasePolicy
		} else {
			m.currentParent = initial
			m.lastCheckedOutRoot = initial
		}
	}
	root := newTreeInode(m, RootInodeNumber, rootDir)
	m.Inodes.register(root)
	return nil
}

// setupEdenMagicDir implements the C10 initialize() requirement to create
// the ".eden" magic directory and its well-known symlinks, pinning its
// inode number so the same directory is recognized across a remount (spec
// §4.10, §9 "construct as a normal tree under the root but pin its inode
// number ... test that it survives remount"). It bypasses the TreeInode
// mutation API (Mkdir/Symlink) deliberately: those invoke the channel,
// which isn't wired up until StartChannel runs after initialize() returns.
func (m *Mount) setupEdenMagicDir() error {
	root, ok := m.Inodes.peek(RootInodeNumber)
	if !ok {
		return edenerrors.NewInternal("setup .eden: root not loaded", nil)
	}
	rootTree, err := AsTree(root)
	if err != nil {
		return err
	}

	rootTree.mu.Lock()
	_, entry, found := rootTree.lookupLocked(EdenMagicDirName)
	var dir *OverlayDir
	if found && entry.Type == EntryTree && entry.Inode != UnsetInodeNumber {
		loaded, ok, err := m.Overlay.LoadDir(entry.Inode)
		if err != nil {
			rootTree.mu.Unlock()
			return err
		}
		if !ok {
			loaded = NewOverlayDir()
		}
		dir = loaded
	} else {
		if err := m.Overlay.bumpCounterPast(EdenMagicDirInodeNumber); err != nil {
			rootTree.mu.Unlock()
			return err
		}
		dir = NewOverlayDir()
		dir.Materialized = true
		rootTree.contents.Entries[EdenMagicDirName] = OverlayEntry{Mode: 0755, Inode: EdenMagicDirInodeNumber, Type: EntryTree}
		rootTree.touchLocked()
	}
	rootTree.mu.Unlock()

	if err := m.Overlay.SaveDir(EdenMagicDirInodeNumber, dir); err != nil {
		return err
	}

	edenDir, loaded := m.Inodes.peek(EdenMagicDirInodeNumber)
	var edenTree *TreeInode
	if loaded {
		edenTree, err = AsTree(edenDir)
		if err != nil {
			return err
		}
	} else {
		edenTree = newTreeInode(m, EdenMagicDirInodeNumber, dir)
		edenTree.setParentRef(rootTree, EdenMagicDirName)
		m.Inodes.register(edenTree)
	}

	stateDir := filepath.Dir(m.configPath)
	links := map[PathComponent]string{
		"root":     m.Path,
		"client":   stateDir,
		"socket":   filepath.Join(stateDir, "socket"),
		"this-dir": filepath.Join(m.Path, string(EdenMagicDirName)),
	}
	for name, target := range links {
		if err := m.ensureEdenSymlink(edenTree, name, target); err != nil {
			m.logCore.Warn().Err(err).Str("symlink", string(name)).Msg("failed to set up .eden symlink")
		}
	}

	// Only refuse mutation once every symlink above has had its chance to
	// be created or repaired.
	m.mu.Lock()
	m.edenDirIno = EdenMagicDirInodeNumber
	m.edenDirSetupDone = true
	m.mu.Unlock()
	return nil
}

// ensureEdenSymlink creates or repairs one ".eden" well-known symlink,
// leaving it untouched if it already has the desired target.
func (m *Mount) ensureEdenSymlink(dir *TreeInode, name PathComponent, target string) error {
	dir.mu.Lock()
	key, entry, found := dir.lookupLocked(name)
	if found {
		if entry.Type == EntrySymlink && entry.Inode != UnsetInodeNumber {
			dir.mu.Unlock()
			body, err := m.Overlay.Read(entry.Inode, 0, maxSymlinkTarget)
			if err == nil && string(body) == target {
				return nil
			}
			dir.mu.Lock()
			key, _, found = dir.lookupLocked(name)
		}
		if found {
			delete(dir.contents.Entries, key)
			dir.touchLocked()
		}
	}
	dir.mu.Unlock()

	ino, err := m.Overlay.AllocateInodeNumber()
	if err != nil {
		return err
	}
	if _, err := m.Overlay.Write(ino, 0, []byte(target)); err != nil {
		return err
	}
	dir.mu.Lock()
	dir.contents.Entries[name] = OverlayEntry{Mode: 0777, Inode: ino, Type: EntrySymlink}
	dir.touchLocked()
	dir.mu.Unlock()
	return nil
}

// checkEdenDirMutable refuses a mutation touching the ".eden" magic
// directory once its one-time setup has completed (spec §4.10, §9
// "refuse further mutations after setup").
func (m *Mount) checkEdenDirMutable(ino InodeNumber) error {
	m.mu.Lock()
	locked := m.edenDirSetupDone && ino == m.edenDirIno
	m.mu.Unlock()
	if locked {
		return edenerrors.NewInvalidArgument(fmt.Sprintf("%s is read-only", EdenMagicDirName))
	}
	return nil
}

// CurrentParent reports the checkout's current parent root, held under the
// parents lock's shared mode for reader consistency with a concurrent
// checkout (spec §4.5).
func (m *Mount) CurrentParent() (RootId, error) {
	m.parentsLk.RLock()
	defer m.parentsLk.RUnlock()
	return m.currentParent, nil
}

func (m *Mount) saveMountConfig() error {
	return saveMountConfig(m.configPath, mountConfig{ParentRoot: m.currentParent, CasePolicy: m.CasePolicy})
}

// StartChannel transitions Initialized -> Starting -> Running once the
// given channel is wired and ready to dispatch requests (spec §4.10
// start_channel). readOnly is recorded for observability; enforcement of
// read-only semantics belongs to the channel adapter, which sees every
// mutating Dispatcher call before it reaches core.
func (m *Mount) StartChannel(ch Channel, readOnly bool) error {
	m.mu.Lock()
	if m.state != StateInitialized {
		m.mu.Unlock()
		return edenerrors.NewInternal(fmt.Sprintf("start_channel: invalid state %s", m.state), nil)
	}
	m.state = StateStarting
	m.Channel = ch
	m.mu.Unlock()

	m.logCore.Info().Bool("read_only", readOnly).Msg("mount channel starting")

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()
	return nil
}

// TakeoverChannel resumes serving using a StopData handed off by a
// predecessor process's graceful TakeoverStop, bumping the per-process
// generation counter so stale in-flight requests from the old process are
// distinguishable (spec §4.10 takeover_channel).
func (m *Mount) TakeoverChannel(ch Channel, stop StopData) error {
	if err := m.StartChannel(ch, false); err != nil {
		return err
	}
	m.mu.Lock()
	m.generation = newMountGeneration()
	m.mu.Unlock()
	return nil
}

// Unmount requests a graceful shutdown; it is idempotent — a second caller
// observes the same outcome as the first rather than erroring (spec §4.10
// unmount: "idempotent, shared promise").
func (m *Mount) Unmount(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateShuttingDown || m.state == StateShutDown {
		m.mu.Unlock()
		return nil
	}
	m.state = StateShuttingDown
	m.mu.Unlock()

	if m.Channel != nil {
		if err := m.Channel.FlushInvalidations(ctx); err != nil {
			m.logCore.Warn().Err(err).Msg("flush invalidations failed during unmount")
		}
	}

	m.mu.Lock()
	m.state = StateShutDown
	m.mu.Unlock()
	return nil
}

// Shutdown optionally serializes the inode map for a graceful takeover,
// flushes pending async overlay writes and releases the overlay (spec
// §4.10 shutdown). Loads still in flight are not waited for.
func (m *Mount) Shutdown(doTakeover bool) (*SerializedInodeMap, error) {
	sm := m.Inodes.Shutdown(doTakeover)
	m.Overlay.FlushPendingAsync()
	if err := m.Overlay.Close(); err != nil {
		return sm, err
	}
	return sm, nil
}

// Destroy tears the mount down unconditionally, reachable from any state
// (spec §4.10: "Destroying reachable from any state").
func (m *Mount) Destroy() error {
	m.mu.Lock()
	m.state = StateDestroying
	m.mu.Unlock()
	_, err := m.Shutdown(false)
	return err
}

func (m *Mount) State() MountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
