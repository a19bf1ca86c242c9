package fs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// loadKey identifies an in-flight child load so concurrent callers for
// the same (parent, name) attach to one another instead of racing (spec
// §4.3: "At most one concurrent load per (parent, name) is started;
// subsequent callers attach to the in-flight future.").
type loadKey struct {
	parent InodeNumber
	name   PathComponent
}

type loadFuture struct {
	done  chan struct{}
	inode Inode
	err   error
}

// InodeMap is the per-mount registry: for any live InodeNumber at most one
// inode object exists (spec C4).
type InodeMap struct {
	mount *Mount

	mu       sync.Mutex
	byNumber map[InodeNumber]Inode
	loading  map[loadKey]*loadFuture
}

func newInodeMap(mount *Mount) *InodeMap {
	return &InodeMap{
		mount:    mount,
		byNumber: make(map[InodeNumber]Inode),
		loading:  make(map[loadKey]*loadFuture),
	}
}

func (m *InodeMap) register(i Inode) {
	m.mu.Lock()
	m.byNumber[i.Number()] = i
	m.mu.Unlock()
}

// peek returns the live inode for ino without attempting a load.
func (m *InodeMap) peek(ino InodeNumber) (Inode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byNumber[ino]
	return i, ok
}

// LookupInode resolves an inode number that is currently live in the map
// (spec §4.3 lookup_inode). It does not load on demand: a number that is
// not live (never allocated, unloaded, or unlinked and forgotten) surfaces
// NotFound.
func (m *InodeMap) LookupInode(ctx context.Context, ino InodeNumber) (Inode, error) {
	if i, ok := m.peek(ino); ok {
		return i, nil
	}
	return nil, edenerrors.NewNotFound(fmt.Sprintf("inode %d not found", ino), nil)
}

func (m *InodeMap) LookupTree(ctx context.Context, ino InodeNumber) (*TreeInode, error) {
	i, err := m.LookupInode(ctx, ino)
	if err != nil {
		return nil, err
	}
	return AsTree(i)
}

func (m *InodeMap) LookupFile(ctx context.Context, ino InodeNumber) (*FileInode, error) {
	i, err := m.LookupInode(ctx, ino)
	if err != nil {
		return nil, err
	}
	return AsFile(i)
}

// loadChild implements the loading protocol of spec §4.3 steps 1-4.
func (m *InodeMap) loadChild(ctx context.Context, parent *TreeInode, name PathComponent, fctx *FetchContext) (Inode, error) {
	parent.mu.RLock()
	key, entry, ok := parent.lookupLocked(name)
	parent.mu.RUnlock()
	if !ok {
		return nil, edenerrors.NewNotFound(fmt.Sprintf("%s not found", name), nil)
	}

	if entry.Inode != UnsetInodeNumber {
		if child, ok := m.peek(entry.Inode); ok {
			return child, nil
		}
	}

	lk := loadKey{parent: parent.ino, name: key}
	m.mu.Lock()
	if fut, inflight := m.loading[lk]; inflight {
		m.mu.Unlock()
		<-fut.done
		return fut.inode, fut.err
	}
	fut := &loadFuture{done: make(chan struct{})}
	m.loading[lk] = fut
	m.mu.Unlock()

	child, err := m.buildChild(ctx, parent, key, entry, fctx)
	if err == nil {
		m.register(child)
		if entry.Inode == UnsetInodeNumber {
			parent.mu.Lock()
			e := parent.contents.Entries[key]
			e.Inode = child.Number()
			parent.contents.Entries[key] = e
			parent.touchLocked()
			parent.mu.Unlock()
		}
		child.setParentRef(parent, key)
	}

	fut.inode, fut.err = child, err
	close(fut.done)
	m.mu.Lock()
	delete(m.loading, lk)
	m.mu.Unlock()

	return child, err
}

func (m *InodeMap) buildChild(ctx context.Context, parent *TreeInode, name PathComponent, entry OverlayEntry, fctx *FetchContext) (Inode, error) {
	ino := entry.Inode
	var err error
	if ino == UnsetInodeNumber {
		ino, err = m.mount.Overlay.AllocateInodeNumber()
		if err != nil {
			return nil, err
		}
	}

	if entry.Type == EntryTree {
		dir, found, err := m.mount.Overlay.LoadDir(ino)
		if err != nil {
			return nil, err
		}
		if !found {
			if entry.Hash.IsZero() {
				return nil, edenerrors.NewInternal(fmt.Sprintf("materialized tree %s missing overlay record", name), nil)
			}
			tree, err := m.mount.Objects.GetTree(ctx, entry.Hash, fctx)
			if err != nil {
				return nil, err
			}
			dir = dirFromTree(tree)
			dir.SourceTree = entry.Hash
			if err := m.mount.Overlay.SaveDir(ino, dir); err != nil {
				return nil, err
			}
		}
		return newTreeInode(m.mount, ino, dir), nil
	}

	if entry.Hash.IsZero() {
		return newFileInode(m.mount, ino, entry.Mode, StateMaterialized, ""), nil
	}
	return newFileInode(m.mount, ino, entry.Mode, StateNotLoaded, entry.Hash), nil
}

func dirFromTree(tree *Tree) *OverlayDir {
	d := NewOverlayDir()
	for _, e := range tree.Entries() {
		d.Entries[e.Name] = OverlayEntry{Mode: e.Mode, Type: e.Type, Hash: e.ID}
	}
	return d
}

// GetPathForInode walks parent references to reconstruct a path; returns
// ok=false iff the inode is unlinked (spec §4.3 get_path_for_inode).
func (m *InodeMap) GetPathForInode(ino InodeNumber) (RelativePath, bool) {
	if ino == RootInodeNumber {
		return "", true
	}
	i, ok := m.peek(ino)
	if !ok {
		return "", false
	}
	if i.isUnlinked() {
		return "", false
	}
	var components []PathComponent
	cur := i
	for {
		parent := cur.parentRef()
		if parent == nil {
			if cur.Number() == RootInodeNumber {
				break
			}
			return "", false
		}
		components = append([]PathComponent{cur.inodeName()}, components...)
		if parent.Number() == RootInodeNumber {
			break
		}
		cur = parent
	}
	var path RelativePath
	for _, c := range components {
		path = path.Join(c)
	}
	return path, true
}

func (m *InodeMap) IncFSRefcount(ino InodeNumber) {
	if i, ok := m.peek(ino); ok {
		i.incFS()
	}
}

// DecFSRefcount drops the kernel refcount by n and, once it reaches zero,
// forgets the inode if it is unlinked or not materialized. The local
// refcount is not consulted.
func (m *InodeMap) DecFSRefcount(ino InodeNumber, n int32) {
	i, ok := m.peek(ino)
	if !ok {
		return
	}
	if i.decFS(n) <= 0 {
		m.maybeForget(i)
	}
}

func (m *InodeMap) maybeForget(i Inode) {
	forgettable := true
	switch v := i.(type) {
	case *FileInode:
		forgettable = v.State() != StateMaterialized || v.isUnlinked()
	case *TreeInode:
		forgettable = !v.Contents().Materialized || v.isUnlinked()
	}
	if !forgettable {
		return
	}
	m.mu.Lock()
	delete(m.byNumber, i.Number())
	m.mu.Unlock()
}

func (m *InodeMap) scheduleBodyReclaim(ino InodeNumber) {
	// file bodies are content-addressed by inode number directly in the
	// overlay; there is no separate dir record to reclaim, so this is a
	// best-effort hook kept symmetrical with TreeInode's RemoveDir path.
}

// UnloadSweep walks the live graph and drops inodes that the kernel does
// not reference and that are not materialized (spec §4.3 "Unload sweep").
func (m *InodeMap) UnloadSweep() int {
	m.mu.Lock()
	candidates := make([]Inode, 0, len(m.byNumber))
	for _, i := range m.byNumber {
		candidates = append(candidates, i)
	}
	m.mu.Unlock()

	dropped := 0
	for _, i := range candidates {
		if i.Number() == RootInodeNumber {
			continue
		}
		switch v := i.(type) {
		case *FileInode:
			if v.State() == StateMaterialized || atomic.LoadInt32(&v.fsRefcount) > 0 {
				continue
			}
		case *TreeInode:
			if v.Contents().Materialized || atomic.LoadInt32(&v.fsRefcount) > 0 {
				continue
			}
		}
		m.mu.Lock()
		delete(m.byNumber, i.Number())
		m.mu.Unlock()
		dropped++
	}
	return dropped
}

// SerializedInodeMap is the takeover-handoff payload (spec §4.3
// shutdown/initialize_from_takeover): kernel-referenced inode numbers and
// their paths, restored verbatim by a successor process.
type SerializedInodeMap struct {
	Entries []SerializedInode
}

type SerializedInode struct {
	Number InodeNumber
	Path   RelativePath
	IsDir  bool
}

// Shutdown, if doTakeover, serializes the number and path of every live
// inode whose path resolves, whether or not the kernel references it, for
// handoff continuity. It does not wait for loads still in flight.
func (m *InodeMap) Shutdown(doTakeover bool) *SerializedInodeMap {
	if !doTakeover {
		return nil
	}
	m.mu.Lock()
	live := make(map[InodeNumber]Inode, len(m.byNumber))
	for ino, i := range m.byNumber {
		live[ino] = i
	}
	m.mu.Unlock()
	out := &SerializedInodeMap{}
	for ino, i := range live {
		path, ok := m.GetPathForInode(ino)
		if !ok {
			continue
		}
		out.Entries = append(out.Entries, SerializedInode{Number: ino, Path: path, IsDir: i.IsDir()})
	}
	return out
}

// InitializeFromTakeover restores inode numbers from a predecessor's
// SerializedInodeMap so kernel-visible inode-number identity survives a
// graceful restart (spec §4.3, §8 scenario F).
func (m *InodeMap) InitializeFromTakeover(root *TreeInode, sm *SerializedInodeMap) error {
	if sm == nil {
		return nil
	}
	for _, e := range sm.Entries {
		if err := m.mount.Overlay.bumpCounterPast(e.Number); err != nil {
			return err
		}
		if err := m.pinPathToInode(root, e.Path, e.Number, e.IsDir); err != nil {
			return err
		}
	}
	return nil
}

func (m *InodeMap) pinPathToInode(root *TreeInode, path RelativePath, ino InodeNumber, isDir bool) error {
	dir := root
	comps := path.Components()
	for idx, c := range comps {
		last := idx == len(comps)-1
		dir.mu.Lock()
		key, entry, ok := dir.lookupLocked(c)
		if !ok {
			dir.mu.Unlock()
			return edenerrors.NewInternal(fmt.Sprintf("takeover path %s missing component %s", path, c), nil)
		}
		if last {
			entry.Inode = ino
			dir.contents.Entries[key] = entry
			dir.touchLocked()
			dir.mu.Unlock()
			return nil
		}
		dir.mu.Unlock()
		child, err := m.loadChild(context.Background(), dir, c, NewFetchContext(0, "takeover"))
		if err != nil {
			return err
		}
		next, err := AsTree(child)
		if err != nil {
			return err
		}
		dir = next
	}
	return nil
}
