package fs

import (
	"context"
)

// DiffCallback receives the results of a diff/status walk (spec §4.6).
type DiffCallback interface {
	AddedFile(path RelativePath)
	RemovedFile(path RelativePath, scmEntry TreeEntry)
	ModifiedFile(path RelativePath, scmEntry TreeEntry)
	IgnoredFile(path RelativePath)
	DiffError(path RelativePath, err error)
}

// DiffOptions tunes one diff walk.
type DiffOptions struct {
	ListIgnored          bool
	EnforceCurrentParent bool
}

// Diff compares a source-control tree to the live working copy (spec C6).
// It is a read operation: it holds the parents lock in shared mode for
// its duration, and aborts deep recursion early if ctx is cancelled.
func (m *Mount) Diff(ctx context.Context, scmRoot *Tree, wc *TreeInode, cb DiffCallback, opts DiffOptions) error {
	m.parentsLk.RLock()
	defer m.parentsLk.RUnlock()

	if opts.EnforceCurrentParent {
		current, _ := m.CurrentParent()
		if current != m.lastCheckedOutRoot {
			return edenOutOfDateParentErr(string(current), string(m.lastCheckedOutRoot))
		}
	}

	return m.diffTree(ctx, scmRoot, wc, "", nil, cb, opts)
}

func (m *Mount) diffTree(ctx context.Context, scmTree *Tree, wc *TreeInode, dirPath RelativePath, stack *GitIgnoreStack, cb DiffCallback, opts DiffOptions) error {
	select {
	case <-ctx.Done():
		cb.DiffError(dirPath, ctx.Err())
		return ctx.Err()
	default:
	}

	stack = m.pushIgnoreForDir(stack, wc, dirPath)

	scmNames := map[PathComponent]TreeEntry{}
	for _, e := range scmTree.Entries() {
		scmNames[e.Name] = e
	}
	wcDir := wc.Contents()
	wcNames := map[PathComponent]OverlayEntry{}
	for k, v := range wcDir.Entries {
		wcNames[k] = v
	}

	all := map[PathComponent]bool{}
	for k := range scmNames {
		all[k] = true
	}
	for k := range wcNames {
		all[k] = true
	}

	for name := range all {
		childPath := dirPath.Join(name)
		if hiddenNames[string(name)] {
			continue
		}
		scmEntry, inSCM := scmNames[name]
		wcEntry, inWC := wcNames[name]

		switch {
		case inSCM && !inWC:
			m.reportRemoved(ctx, scmEntry, childPath, cb)
		case !inSCM && inWC:
			m.reportAdded(ctx, wc, wcEntry, childPath, stack, cb, opts)
		case inSCM && inWC:
			m.diffBoth(ctx, scmEntry, wc, wcEntry, childPath, stack, cb, opts)
		}
	}
	return nil
}

func (m *Mount) pushIgnoreForDir(stack *GitIgnoreStack, wc *TreeInode, dirPath RelativePath) *GitIgnoreStack {
	dir := wc.Contents()
	entry, ok := dir.Entries[".gitignore"]
	if !ok || entry.Type == EntryTree {
		return NewGitIgnoreStack(stack, nil)
	}
	var body []byte
	var err error
	if entry.Hash.IsZero() {
		body, err = m.Overlay.Read(entry.Inode, 0, 1<<20)
	} else {
		var blob *Blob
		blob, err = m.Objects.GetBlob(context.Background(), entry.Hash, NewFetchContext(0, "diff"))
		if blob != nil {
			body = blob.Data
		}
	}
	if err != nil {
		return NewGitIgnoreStack(stack, nil)
	}
	return NewGitIgnoreStack(stack, LoadGitIgnore(string(body)))
}

func (m *Mount) reportRemoved(ctx context.Context, scmEntry TreeEntry, childPath RelativePath, cb DiffCallback) {
	if scmEntry.Type != EntryTree {
		cb.RemovedFile(childPath, scmEntry)
		return
	}
	tree, err := m.Objects.GetTree(ctx, scmEntry.ID, NewFetchContext(0, "diff"))
	if err != nil {
		cb.DiffError(childPath, err)
		return
	}
	for _, e := range tree.Entries() {
		m.reportRemoved(ctx, e, childPath.Join(e.Name), cb)
	}
}

func (m *Mount) reportAdded(ctx context.Context, parent *TreeInode, wcEntry OverlayEntry, childPath RelativePath, stack *GitIgnoreStack, cb DiffCallback, opts DiffOptions) {
	isDir := wcEntry.Type == EntryTree

	// An excluded directory still has to be walked: its files are
	// reported individually as ignored rather than collapsed into one
	// directory-level IgnoredFile (spec §4.8 scenario D — an inner `!`
	// rule never un-ignores a path under an already-excluded ancestor).
	if isDir && stack.DirectoryExcluded(string(childPath)) {
		if opts.ListIgnored {
			child, err := parent.GetOrLoadChild(ctx, childPath.lastComponent(), NewFetchContext(0, "diff"))
			if err != nil {
				cb.DiffError(childPath, err)
				return
			}
			childTree, err := AsTree(child)
			if err != nil {
				cb.DiffError(childPath, err)
				return
			}
			m.reportAllIgnored(ctx, childTree, childPath, cb)
		}
		return
	}

	verdict := stack.Match(string(childPath), isDir)
	if verdict == Hidden {
		return
	}
	if verdict == Exclude {
		if opts.ListIgnored {
			cb.IgnoredFile(childPath)
		}
		return
	}
	if !isDir {
		cb.AddedFile(childPath)
		return
	}
	child, err := parent.GetOrLoadChild(ctx, childPath.lastComponent(), NewFetchContext(0, "diff"))
	if err != nil {
		cb.DiffError(childPath, err)
		return
	}
	childTree, err := AsTree(child)
	if err != nil {
		cb.DiffError(childPath, err)
		return
	}
	m.walkAllAdded(ctx, childTree, childPath, stack, cb, opts)
}

func (m *Mount) walkAllAdded(ctx context.Context, wc *TreeInode, dirPath RelativePath, stack *GitIgnoreStack, cb DiffCallback, opts DiffOptions) {
	stack = m.pushIgnoreForDir(stack, wc, dirPath)
	for name, entry := range wc.Contents().Entries {
		if hiddenNames[string(name)] {
			continue
		}
		childPath := dirPath.Join(name)
		isDir := entry.Type == EntryTree

		if isDir && stack.DirectoryExcluded(string(childPath)) {
			if opts.ListIgnored {
				child, err := wc.GetOrLoadChild(ctx, name, NewFetchContext(0, "diff"))
				if err != nil {
					cb.DiffError(childPath, err)
					continue
				}
				childTree, err := AsTree(child)
				if err != nil {
					cb.DiffError(childPath, err)
					continue
				}
				m.reportAllIgnored(ctx, childTree, childPath, cb)
			}
			continue
		}

		verdict := stack.Match(string(childPath), isDir)
		if verdict == Hidden {
			continue
		}
		if verdict == Exclude {
			if opts.ListIgnored {
				cb.IgnoredFile(childPath)
			}
			continue
		}
		if !isDir {
			cb.AddedFile(childPath)
			continue
		}
		child, err := wc.GetOrLoadChild(ctx, name, NewFetchContext(0, "diff"))
		if err != nil {
			cb.DiffError(childPath, err)
			continue
		}
		childTree, err := AsTree(child)
		if err != nil {
			cb.DiffError(childPath, err)
			continue
		}
		m.walkAllAdded(ctx, childTree, childPath, stack, cb, opts)
	}
}

// reportAllIgnored recurses into a directory already confirmed excluded,
// reporting every contained file as ignored unconditionally: once a
// directory is excluded, rules inside it (including negations) never
// resurrect a nested path (spec §4.8 scenario D).
func (m *Mount) reportAllIgnored(ctx context.Context, wc *TreeInode, dirPath RelativePath, cb DiffCallback) {
	for name, entry := range wc.Contents().Entries {
		if hiddenNames[string(name)] {
			continue
		}
		childPath := dirPath.Join(name)
		if entry.Type != EntryTree {
			cb.IgnoredFile(childPath)
			continue
		}
		child, err := wc.GetOrLoadChild(ctx, name, NewFetchContext(0, "diff"))
		if err != nil {
			cb.DiffError(childPath, err)
			continue
		}
		childTree, err := AsTree(child)
		if err != nil {
			cb.DiffError(childPath, err)
			continue
		}
		m.reportAllIgnored(ctx, childTree, childPath, cb)
	}
}

func (m *Mount) diffBoth(ctx context.Context, scmEntry TreeEntry, parent *TreeInode, wcEntry OverlayEntry, childPath RelativePath, stack *GitIgnoreStack, cb DiffCallback, opts DiffOptions) {
	scmIsDir := scmEntry.Type == EntryTree
	wcIsDir := wcEntry.Type == EntryTree

	if scmIsDir != wcIsDir {
		m.reportRemoved(ctx, scmEntry, childPath, cb)
		m.reportAdded(ctx, parent, wcEntry, childPath, stack, cb, opts)
		return
	}
	if scmIsDir {
		child, err := parent.GetOrLoadChild(ctx, childPath.lastComponent(), NewFetchContext(0, "diff"))
		if err != nil {
			cb.DiffError(childPath, err)
			return
		}
		childTree, err := AsTree(child)
		if err != nil {
			cb.DiffError(childPath, err)
			return
		}
		scmTree, err := m.Objects.GetTree(ctx, scmEntry.ID, NewFetchContext(0, "diff"))
		if err != nil {
			cb.DiffError(childPath, err)
			return
		}
		if err := m.diffTree(ctx, scmTree, childTree, childPath, stack, cb, opts); err != nil {
			return
		}
		return
	}

	// both files
	if wcEntry.Hash == scmEntry.ID && wcEntry.Mode == scmEntry.Mode && wcEntry.IsMaterialized() == false {
		return
	}
	if !wcEntry.IsMaterialized() {
		if wcEntry.Hash != scmEntry.ID || wcEntry.Mode != scmEntry.Mode {
			cb.ModifiedFile(childPath, scmEntry)
		}
		return
	}
	fileIno, ok := parent.Contents().Entries[childPath.lastComponent()]
	if !ok {
		cb.DiffError(childPath, edenNotFoundPath(childPath))
		return
	}
	liveSha1, err := m.Overlay.Sha1(fileIno.Inode)
	if err != nil {
		cb.DiffError(childPath, err)
		return
	}
	scmSha1, err := m.Objects.GetBlobSHA1(ctx, scmEntry.ID, NewFetchContext(0, "diff"))
	if err != nil {
		cb.DiffError(childPath, err)
		return
	}
	if liveSha1 != scmSha1 {
		cb.ModifiedFile(childPath, scmEntry)
	}
}

// DiffCommits is the degenerate case comparing two source-control trees
// with no working-copy side (spec §4.6 diff_commits).
func (m *Mount) DiffCommits(ctx context.Context, a, b RootId, cb DiffCallback) error {
	treeA, err := m.Objects.GetRootTree(ctx, a, NewFetchContext(0, "diff_commits"))
	if err != nil {
		return err
	}
	treeB, err := m.Objects.GetRootTree(ctx, b, NewFetchContext(0, "diff_commits"))
	if err != nil {
		return err
	}
	return m.diffTreeCommits(ctx, treeA, treeB, "", cb)
}

func (m *Mount) diffTreeCommits(ctx context.Context, a, b *Tree, dirPath RelativePath, cb DiffCallback) error {
	aByName := map[PathComponent]TreeEntry{}
	for _, e := range a.Entries() {
		aByName[e.Name] = e
	}
	bByName := map[PathComponent]TreeEntry{}
	for _, e := range b.Entries() {
		bByName[e.Name] = e
	}
	for name, ae := range aByName {
		childPath := dirPath.Join(name)
		be, inB := bByName[name]
		if !inB {
			m.reportRemoved(ctx, ae, childPath, cb)
			continue
		}
		if ae.Type != be.Type {
			m.reportRemoved(ctx, ae, childPath, cb)
			m.reportAddedTree(ctx, be, childPath, cb)
			continue
		}
		if ae.Type == EntryTree {
			if ae.ID == be.ID {
				continue
			}
			subA, err := m.Objects.GetTree(ctx, ae.ID, NewFetchContext(0, "diff_commits"))
			if err != nil {
				cb.DiffError(childPath, err)
				continue
			}
			subB, err := m.Objects.GetTree(ctx, be.ID, NewFetchContext(0, "diff_commits"))
			if err != nil {
				cb.DiffError(childPath, err)
				continue
			}
			if err := m.diffTreeCommits(ctx, subA, subB, childPath, cb); err != nil {
				return err
			}
			continue
		}
		if ae.ID != be.ID || ae.Mode != be.Mode {
			cb.ModifiedFile(childPath, be)
		}
	}
	for name, be := range bByName {
		if _, ok := aByName[name]; ok {
			continue
		}
		m.reportAddedTree(ctx, be, dirPath.Join(name), cb)
	}
	return nil
}

func (m *Mount) reportAddedTree(ctx context.Context, e TreeEntry, childPath RelativePath, cb DiffCallback) {
	if e.Type != EntryTree {
		cb.AddedFile(childPath)
		return
	}
	tree, err := m.Objects.GetTree(ctx, e.ID, NewFetchContext(0, "diff_commits"))
	if err != nil {
		cb.DiffError(childPath, err)
		return
	}
	for _, sub := range tree.Entries() {
		m.reportAddedTree(ctx, sub, childPath.Join(sub.Name), cb)
	}
}

func (r RelativePath) lastComponent() PathComponent {
	_, c := r.Split()
	return c
}
