package fs

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

const parentsLockTimeout = 10 * time.Second

// Checkout transforms the working copy from the current parent to toRoot
// (spec C5 / §4.5).
func (m *Mount) Checkout(ctx context.Context, toRoot RootId, mode CheckoutMode) (*CheckoutResult, error) {
	var timings PhaseTimings
	t0 := time.Now()

	if err := m.parentsLk.TryLockExclusive(parentsLockTimeout); err != nil {
		return nil, err
	}
	defer m.parentsLk.UnlockExclusive()
	timings.AcquireLocks = int64(time.Since(t0))

	m.lastCheckoutTime = time.Now()
	fromRoot := m.currentParent

	t1 := time.Now()
	var treeFrom, treeTo *Tree
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		treeFrom, err = m.Objects.GetRootTree(gctx, fromRoot, NewFetchContext(0, "checkout"))
		return err
	})
	g.Go(func() (err error) {
		treeTo, err = m.Objects.GetRootTree(gctx, toRoot, NewFetchContext(0, "checkout"))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, edenerrors.Wrap(err, "checkout: fetch roots")
	}
	timings.FetchTrees = int64(time.Since(t1))

	var uncleanPaths []RelativePath
	if mode != ModeDryRun {
		uncleanPaths = m.collectUncleanPaths(ctx, treeFrom)
	}

	t2 := time.Now()
	m.renameLock.Lock()
	defer m.renameLock.Unlock()

	if mode != ModeDryRun {
		m.Inodes.UnloadSweep()
	}

	root, err := m.Inodes.LookupTree(ctx, RootInodeNumber)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var conflicts []Conflict
	record := func(c Conflict) {
		mu.Lock()
		conflicts = append(conflicts, c)
		mu.Unlock()
	}

	if err := m.checkoutDir(ctx, root, treeFrom, treeTo, "", mode, record); err != nil {
		return nil, edenerrors.Wrap(err, "checkout: walk")
	}
	timings.WalkAndApply = int64(time.Since(t2))

	if mode != ModeDryRun {
		t3 := time.Now()
		if err := m.Channel.FlushInvalidations(ctx); err != nil {
			m.logCore.Error().Err(err).Msg("flush invalidations failed after checkout")
		}
		timings.FlushInvalidate = int64(time.Since(t3))
	}

	if mode != ModeDryRun && len(conflicts) == 0 {
		m.currentParent = toRoot
		m.lastCheckedOutRoot = toRoot
		if err := m.saveMountConfig(); err != nil {
			return nil, err
		}
	}

	if mode != ModeDryRun {
		m.Journal.RecordUncleanPaths(fromRoot, toRoot, uncleanPaths)
	}

	return &CheckoutResult{Conflicts: conflicts, Timings: timings}, nil
}

// collectUncleanPaths snapshots currently-unclean (materialized/dirty)
// paths before a mutating checkout begins (spec §4.5 step 4), via a
// degenerate diff-style walk over the current tree.
func (m *Mount) collectUncleanPaths(ctx context.Context, fromTree *Tree) []RelativePath {
	root, err := m.Inodes.LookupTree(ctx, RootInodeNumber)
	if err != nil {
		return nil
	}
	collector := &uncleanCollector{}
	// Checkout already holds parentsLk exclusively here, so this calls
	// diffTree directly rather than Diff (which would re-acquire it).
	_ = m.diffTree(ctx, fromTree, root, "", nil, collector, DiffOptions{})
	return collector.paths
}

type uncleanCollector struct{ paths []RelativePath }

func (c *uncleanCollector) AddedFile(path RelativePath)                      { c.paths = append(c.paths, path) }
func (c *uncleanCollector) RemovedFile(path RelativePath, _ TreeEntry)       { c.paths = append(c.paths, path) }
func (c *uncleanCollector) ModifiedFile(path RelativePath, _ TreeEntry)      { c.paths = append(c.paths, path) }
func (c *uncleanCollector) IgnoredFile(path RelativePath)                    {}
func (c *uncleanCollector) DiffError(path RelativePath, _ error)             {}

// checkoutDir runs one CheckoutAction per child name of dirInode in
// parallel (spec §4.5 concurrency: "actions for independent directory
// entries run in parallel; the per-directory mutation lock serializes
// their commits"), recursing into subdirectories.
func (m *Mount) checkoutDir(ctx context.Context, dirInode *TreeInode, from, to *Tree, dirPath RelativePath, mode CheckoutMode, record func(Conflict)) error {
	names := map[PathComponent]bool{}
	oldByName := map[PathComponent]TreeEntry{}
	if from != nil {
		for _, e := range from.Entries() {
			oldByName[e.Name] = e
			names[e.Name] = true
		}
	}
	newByName := map[PathComponent]TreeEntry{}
	if to != nil {
		for _, e := range to.Entries() {
			newByName[e.Name] = e
			names[e.Name] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for name := range names {
		name := name
		old, hasOld := oldByName[name]
		next, hasNew := newByName[name]
		g.Go(func() error {
			return m.checkoutEntry(gctx, dirInode, name, old, hasOld, next, hasNew, dirPath, mode, record)
		})
	}
	return g.Wait()
}

// checkoutEntry is CheckoutAction for one child name (spec §4.5
// "Per-entry algorithm"). Conflict detection reads only the live
// OverlayEntry by name — it never needs to demand-load the child inode,
// since an unmaterialized entry's hash/type is already known from the
// directory record; the load (via replaceWithSubtree/GetOrLoadChild)
// happens only once an entry is actually being applied.
func (m *Mount) checkoutEntry(ctx context.Context, dirInode *TreeInode, name PathComponent, old TreeEntry, hasOld bool, next TreeEntry, hasNew bool, dirPath RelativePath, mode CheckoutMode, record func(Conflict)) error {
	childPath := dirPath.Join(name)

	dirInode.mu.RLock()
	_, liveEntry, liveOK := dirInode.lookupLocked(name)
	dirInode.mu.RUnlock()

	if hasOld && hasNew && old.ID == next.ID && old.Mode == next.Mode && old.Type == next.Type {
		// A directory's own hash being unchanged says nothing about its
		// descendants' local state, so trees always recurse. A file can
		// only skip here when nothing live diverges from source control:
		// an absent or clean (non-materialized) entry is genuinely
		// untouched, but a materialized one still needs the conflict
		// check/revert below.
		if old.Type != EntryTree && (!liveOK || !liveEntry.IsMaterialized()) {
			return nil
		}
	}

	conflict, hasConflict, err := m.detectConflict(ctx, old, hasOld, next, hasNew, liveEntry, liveOK, childPath)
	if err != nil {
		record(Conflict{Path: childPath, Kind: ConflictError, Message: err.Error()})
		return nil
	}
	if hasConflict {
		// Conflicts are always reported, even under Force (spec §4.5:
		// "record conflict and do not mutate" for Normal; Force still
		// surfaces what it overwrote).
		record(conflict)
		if mode != ModeForce {
			return nil
		}
	}

	return m.applyCheckoutEntry(ctx, dirInode, name, old, hasOld, next, hasNew, childPath, mode, record)
}

func (m *Mount) detectConflict(ctx context.Context, old TreeEntry, hasOld bool, next TreeEntry, hasNew bool, liveEntry OverlayEntry, liveOK bool, childPath RelativePath) (Conflict, bool, error) {
	if !hasOld {
		if liveOK {
			return Conflict{Path: childPath, Kind: ConflictUntrackedAdded}, true, nil
		}
		return Conflict{}, false, nil
	}

	if old.Type == EntryTree {
		if liveOK && liveEntry.Type != EntryTree {
			return Conflict{Path: childPath, Kind: ConflictModifiedModified}, true, nil
		}
		return Conflict{}, false, nil // directory: recursion handles descendants
	}

	// old is a blob/symlink/executable
	if !liveOK {
		// The file is gone from the working copy entirely (user deleted
		// it). If the destination still wants it, that's a real
		// conflict: re-creating it silently would throw away the
		// deletion.
		if hasNew {
			return Conflict{Path: childPath, Kind: ConflictRemovedModified}, true, nil
		}
		return Conflict{}, false, nil
	}
	if liveEntry.Type == EntryTree {
		return Conflict{Path: childPath, Kind: ConflictModifiedModified}, true, nil
	}
	if !liveEntry.IsMaterialized() {
		if liveEntry.Hash != old.ID {
			return Conflict{Path: childPath, Kind: ConflictModifiedModified}, true, nil
		}
		return Conflict{}, false, nil
	}

	sha1, err := m.Overlay.Sha1(liveEntry.Inode)
	if err != nil {
		if edenerrors.Is(err, os.ErrNotExist) {
			// The overlay entry claims to be materialized, but its body
			// file is gone: the working copy lost track of content the
			// source tree still carries.
			return Conflict{Path: childPath, Kind: ConflictMissingRemoved}, true, nil
		}
		return Conflict{}, false, err
	}
	diverged, err := blobDivergesFromOld(ctx, m, old, sha1)
	if err != nil {
		return Conflict{}, false, err
	}
	if !diverged {
		return Conflict{}, false, nil
	}
	if !hasNew {
		// Locally modified, and the destination drops the file outright.
		return Conflict{Path: childPath, Kind: ConflictModifiedRemoved}, true, nil
	}
	return Conflict{Path: childPath, Kind: ConflictModifiedModified}, true, nil
}

// blobDivergesFromOld reports whether a materialized file's current
// content differs from the blob its source-control entry names.
func blobDivergesFromOld(ctx context.Context, m *Mount, old TreeEntry, liveSha1 [20]byte) (bool, error) {
	oldSha1, err := m.Objects.GetBlobSHA1(ctx, old.ID, NewFetchContext(0, "checkout"))
	if err != nil {
		return false, err
	}
	return liveSha1 != oldSha1, nil
}

func (m *Mount) applyCheckoutEntry(ctx context.Context, dirInode *TreeInode, name PathComponent, old TreeEntry, hasOld bool, next TreeEntry, hasNew bool, childPath RelativePath, mode CheckoutMode, record func(Conflict)) error {
	dirInode.mu.Lock()
	defer dirInode.mu.Unlock()

	entry, entryOK := dirInode.contents.Entries[name]

	if mode == ModeDryRun {
		// A dry run changes nothing; it only descends where
		// replaceWithSubtree would walk, so conflicts below are reported.
		if hasOld && hasNew && next.Type == EntryTree && entryOK && entry.Inode != UnsetInodeNumber {
			if d, found, err := m.Overlay.LoadDir(entry.Inode); err == nil && found && (len(d.Entries) > 0 || d.Materialized) {
				return m.replaceWithSubtree(ctx, dirInode, name, old, next, childPath, mode, record)
			}
		}
		return nil
	}

	switch {
	case hasOld && !hasNew:
		delete(dirInode.contents.Entries, name)
		if entryOK && entry.Inode != UnsetInodeNumber {
			if child, ok := m.Inodes.peek(entry.Inode); ok {
				child.markUnlinked()
			}
		}
	case !hasOld && hasNew:
		dirInode.contents.Entries[name] = OverlayEntry{Mode: next.Mode, Type: next.Type, Hash: next.ID}
	case hasOld && hasNew:
		if next.Type == EntryTree {
			if err := m.replaceWithSubtree(ctx, dirInode, name, old, next, childPath, mode, record); err != nil {
				return err
			}
		} else {
			if entryOK && entry.Inode != UnsetInodeNumber {
				if child, ok := m.Inodes.peek(entry.Inode); ok {
					if f, ok := child.(*FileInode); ok {
						f.DematerializeIfClean(next.ID)
					}
				}
			}
			dirInode.contents.Entries[name] = OverlayEntry{Mode: next.Mode, Type: next.Type, Hash: next.ID}
		}
	}
	dirInode.touchLocked()
	return nil
}

// replaceWithSubtree recurses into a directory whose target hash changed.
// If the entry has no inode yet, or its overlay record is missing or is
// empty and unmaterialized, it takes the "fast path": the entry is
// re-pointed at next and gets a fresh inode number on its next load,
// without walking the old tree (spec §4.5 "Recursive tree-replace uses the
// fast path..."). Otherwise it walks old's source-control tree (none when
// old is not a tree) against next inside the loaded child directory.
func (m *Mount) replaceWithSubtree(ctx context.Context, dirInode *TreeInode, name PathComponent, old, next TreeEntry, childPath RelativePath, mode CheckoutMode, record func(Conflict)) error {
	entry, ok := dirInode.contents.Entries[name]
	if !ok || entry.Inode == UnsetInodeNumber {
		dirInode.contents.Entries[name] = OverlayEntry{Mode: next.Mode, Type: EntryTree, Hash: next.ID}
		return nil
	}
	oldDir, found, err := m.Overlay.LoadDir(entry.Inode)
	if err != nil {
		return err
	}
	if !found || (len(oldDir.Entries) == 0 && !oldDir.Materialized) {
		dirInode.contents.Entries[name] = OverlayEntry{Mode: next.Mode, Type: EntryTree, Hash: next.ID}
		return nil
	}

	// Everything below loads a child through the InodeMap, which needs
	// dirInode's lock itself (loadChild RLocks the parent) — released for
	// the whole sub-walk and reacquired once before returning so the
	// caller's deferred Unlock stays balanced.
	dirInode.mu.Unlock()
	var fromTree *Tree
	if old.Type == EntryTree {
		fromTree, err = m.Objects.GetTree(ctx, old.ID, NewFetchContext(0, "checkout"))
	}
	var newTree *Tree
	if err == nil {
		newTree, err = m.Objects.GetTree(ctx, next.ID, NewFetchContext(0, "checkout"))
	}
	var childTree *TreeInode
	if err == nil {
		var child Inode
		child, err = dirInode.GetOrLoadChild(ctx, name, NewFetchContext(0, "checkout"))
		if err == nil {
			childTree, err = AsTree(child)
		}
	}
	if err == nil {
		err = m.checkoutDir(ctx, childTree, fromTree, newTree, childPath, mode, record)
	}
	dirInode.mu.Lock()
	return err
}

func overlayDirToTreeEntries(d *OverlayDir) []TreeEntry {
	out := make([]TreeEntry, 0, len(d.Entries))
	for name, e := range d.Entries {
		out = append(out, TreeEntry{Name: name, Mode: e.Mode, Type: e.Type, ID: e.Hash})
	}
	return out
}
