package fs

import (
	"context"
	"fmt"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// TreeInode is a loaded directory (spec §3 TreeInode state, §4.4).
// Mutations are serialized per-directory by inodeBase.mu; rename/unlink
// additionally take the mount-wide rename lock (locks.go).
type TreeInode struct {
	inodeBase

	mount    *Mount
	contents *OverlayDir
}

func newTreeInode(mount *Mount, ino InodeNumber, contents *OverlayDir) *TreeInode {
	return &TreeInode{
		inodeBase: inodeBase{ino: ino, mode: 0755 | modeDirBit},
		mount:     mount,
		contents:  contents,
	}
}

const modeDirBit = 1 << 31 // directory tag distinct from any real POSIX mode bit we store

func (t *TreeInode) IsDir() bool { return true }

// Contents returns a shallow snapshot of the directory record taken under
// its lock; callers must not mutate it.
func (t *TreeInode) Contents() *OverlayDir {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.contents
}

// GetOrLoadChild resolves name to a live inode, demand-loading through
// the InodeMap on miss (spec §4.3 loading protocol).
func (t *TreeInode) GetOrLoadChild(ctx context.Context, name PathComponent, fctx *FetchContext) (Inode, error) {
	return t.mount.Inodes.loadChild(ctx, t, name, fctx)
}

// Readdir returns entries starting at offset up to budget, plus whether
// the listing reached EOF (spec §4.4: stable offset ordering, 0 reserved
// as "start" and never assigned to an entry).
func (t *TreeInode) Readdir(offset, budget int) (names []PathComponent, eof bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sorted := t.contents.SortedNames(t.mount.CasePolicy)
	if offset >= len(sorted) {
		return nil, true
	}
	end := offset + budget
	if end >= len(sorted) {
		end = len(sorted)
		eof = true
	}
	return sorted[offset:end], eof
}

func (t *TreeInode) lookupLocked(name PathComponent) (PathComponent, OverlayEntry, bool) {
	return t.contents.Lookup(name, t.mount.CasePolicy)
}

// Mkdir creates an empty materialized subdirectory (spec §4.4 mkdir).
func (t *TreeInode) Mkdir(name PathComponent, mode uint32) (*TreeInode, error) {
	if err := t.mount.checkEdenDirMutable(t.ino); err != nil {
		return nil, err
	}
	t.mount.renameLock.RLock()
	defer t.mount.renameLock.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, _, ok := t.lookupLocked(name); ok {
		return nil, edenerrors.NewAlreadyExists(fmt.Sprintf("%s already exists", name), nil)
	}
	ino, err := t.mount.Overlay.AllocateInodeNumber()
	if err != nil {
		return nil, err
	}
	dir := NewOverlayDir()
	dir.Materialized = true
	if err := t.mount.Overlay.SaveDir(ino, dir); err != nil {
		return nil, err
	}
	t.contents.Entries[name] = OverlayEntry{Mode: mode, Inode: ino, Type: EntryTree}
	t.touchLocked()

	child := newTreeInode(t.mount, ino, dir)
	child.setParentRef(t, name)
	t.mount.Inodes.register(child)
	t.materializeUpLocked()
	t.mount.Channel.InvalidateEntry(t.ino, name)
	t.mount.Journal.RecordCreated(t.pathLocked(name))
	return child, nil
}

// MknodRegular creates an empty materialized file (spec §4.4 mknod_regular).
func (t *TreeInode) MknodRegular(name PathComponent, mode uint32) (*FileInode, error) {
	return t.createFile(name, mode, EntryRegular, nil)
}

// Symlink creates a file whose body is the link target bytes.
func (t *TreeInode) Symlink(name PathComponent, target string) (*FileInode, error) {
	return t.createFile(name, 0777, EntrySymlink, []byte(target))
}

func (t *TreeInode) createFile(name PathComponent, mode uint32, typ EntryType, body []byte) (*FileInode, error) {
	if err := t.mount.checkEdenDirMutable(t.ino); err != nil {
		return nil, err
	}
	t.mount.renameLock.RLock()
	defer t.mount.renameLock.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, _, ok := t.lookupLocked(name); ok {
		return nil, edenerrors.NewAlreadyExists(fmt.Sprintf("%s already exists", name), nil)
	}
	ino, err := t.mount.Overlay.AllocateInodeNumber()
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if _, err := t.mount.Overlay.Write(ino, 0, body); err != nil {
			return nil, err
		}
	} else if _, err := t.mount.Overlay.OpenFile(ino); err != nil {
		return nil, err
	} else {
		// ensure the body file exists even when empty
	}
	t.contents.Entries[name] = OverlayEntry{Mode: mode, Inode: ino, Type: typ}
	t.touchLocked()

	child := newFileInode(t.mount, ino, mode, StateMaterialized, "")
	child.isExec = typ == EntryExecutable
	child.isSymlink = typ == EntrySymlink
	child.setParentRef(t, name)
	t.mount.Inodes.register(child)
	t.materializeUpLocked()
	t.mount.Channel.InvalidateEntry(t.ino, name)
	t.mount.Journal.RecordCreated(t.pathLocked(name))
	return child, nil
}

// Unlink removes a file entry (spec §4.4 unlink).
func (t *TreeInode) Unlink(name PathComponent) error {
	if err := t.mount.checkEdenDirMutable(t.ino); err != nil {
		return err
	}
	t.mount.renameLock.RLock()
	defer t.mount.renameLock.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	key, entry, ok := t.lookupLocked(name)
	if !ok {
		return edenerrors.NewNotFound(fmt.Sprintf("%s not found", name), nil)
	}
	if entry.Type == EntryTree {
		return edenerrors.NewIsADirectory(fmt.Sprintf("%s is a directory", name))
	}
	path := t.pathLocked(name)
	delete(t.contents.Entries, key)
	t.touchLocked()

	if entry.Inode != UnsetInodeNumber {
		if child, ok := t.mount.Inodes.peek(entry.Inode); ok {
			child.markUnlinked()
			if entry.Hash.IsZero() {
				t.mount.Inodes.scheduleBodyReclaim(entry.Inode)
			}
		} else if entry.Hash.IsZero() {
			t.mount.Inodes.scheduleBodyReclaim(entry.Inode)
		}
	}
	t.mount.Channel.InvalidateEntry(t.ino, name)
	t.mount.Journal.RecordRemoved(path)
	return nil
}

// Rmdir removes an empty subdirectory entry (spec §4.4 rmdir).
func (t *TreeInode) Rmdir(name PathComponent) error {
	if err := t.mount.checkEdenDirMutable(t.ino); err != nil {
		return err
	}
	t.mount.renameLock.RLock()
	defer t.mount.renameLock.RUnlock()
	t.mu.Lock()

	key, entry, ok := t.lookupLocked(name)
	if !ok {
		t.mu.Unlock()
		return edenerrors.NewNotFound(fmt.Sprintf("%s not found", name), nil)
	}
	if entry.Type != EntryTree {
		t.mu.Unlock()
		return edenerrors.NewNotADirectory(fmt.Sprintf("%s is not a directory", name))
	}
	if err := t.mount.checkEdenDirMutable(entry.Inode); err != nil {
		t.mu.Unlock()
		return err
	}
	childIno := entry.Inode
	path := t.pathLocked(name)
	t.mu.Unlock()

	if childIno != UnsetInodeNumber {
		dir, found, err := t.mount.Overlay.LoadDir(childIno)
		if err != nil {
			return err
		}
		if found && len(dir.Entries) > 0 {
			return edenerrors.NewDirectoryNotEmpty(fmt.Sprintf("%s is not empty", name))
		}
	}

	t.mu.Lock()
	delete(t.contents.Entries, key)
	t.touchLocked()
	t.mu.Unlock()

	if childIno != UnsetInodeNumber {
		if child, ok := t.mount.Inodes.peek(childIno); ok {
			child.markUnlinked()
		}
		t.mount.Overlay.RemoveDir(childIno)
	}
	t.mount.Channel.InvalidateEntry(t.ino, name)
	t.mount.Journal.RecordRemoved(path)
	return nil
}

// Rename moves oldName to newParent/newName, holding the mount rename
// lock exclusive for POSIX atomic-replace semantics (spec §4.4 rename).
func (t *TreeInode) Rename(oldName PathComponent, newParent *TreeInode, newName PathComponent) error {
	if newParent.mount != t.mount {
		return edenerrors.NewInvalidArgument("cross-device-link: rename across mounts")
	}
	if err := t.mount.checkEdenDirMutable(t.ino); err != nil {
		return err
	}
	if err := t.mount.checkEdenDirMutable(newParent.ino); err != nil {
		return err
	}
	t.mount.renameLock.Lock()
	defer t.mount.renameLock.Unlock()

	// canonical lock order by inode number avoids deadlock when
	// oldParent == newParent or the two are swapped across calls.
	first, second := t, newParent
	if newParent.ino < t.ino {
		first, second = newParent, t
	}
	if first != second {
		first.mu.Lock()
		defer first.mu.Unlock()
		second.mu.Lock()
		defer second.mu.Unlock()
	} else {
		first.mu.Lock()
		defer first.mu.Unlock()
	}

	key, entry, ok := t.lookupLocked(oldName)
	if !ok {
		return edenerrors.NewNotFound(fmt.Sprintf("%s not found", oldName), nil)
	}
	if err := t.mount.checkEdenDirMutable(entry.Inode); err != nil {
		return err
	}
	if destKey, destEntry, ok := newParent.lookupLocked(newName); ok {
		if destEntry.Type == EntryTree {
			if entry.Type != EntryTree {
				return edenerrors.NewIsADirectory(fmt.Sprintf("%s is a directory", newName))
			}
			if destEntry.Inode != UnsetInodeNumber {
				dir, found, err := t.mount.Overlay.LoadDir(destEntry.Inode)
				if err != nil {
					return err
				}
				if found && len(dir.Entries) > 0 {
					return edenerrors.NewDirectoryNotEmpty(fmt.Sprintf("%s is not empty", newName))
				}
			}
		} else if entry.Type == EntryTree {
			return edenerrors.NewNotADirectory(fmt.Sprintf("%s is not a directory", newName))
		}
		delete(newParent.contents.Entries, destKey)
	}

	oldPath := t.pathLocked(oldName)
	newPath := newParent.pathLocked(newName)

	delete(t.contents.Entries, key)
	newParent.contents.Entries[newName] = entry
	t.touchLocked()
	if newParent != t {
		newParent.touchLocked()
	}

	if entry.Inode != UnsetInodeNumber {
		if child, ok := t.mount.Inodes.peek(entry.Inode); ok {
			child.setParentRef(newParent, newName)
		}
	}

	t.mount.Channel.InvalidateEntry(t.ino, oldName)
	t.mount.Channel.InvalidateEntry(newParent.ino, newName)
	t.mount.Journal.RecordRemoved(oldPath)
	t.mount.Journal.RecordCreated(newPath)
	return nil
}

// touchLocked persists the directory record; caller already holds t.mu.
func (t *TreeInode) touchLocked() {
	t.contents.Materialized = true
	if err := t.mount.Overlay.SaveDir(t.ino, t.contents); err != nil {
		t.mount.logCore.Error().Err(err).Uint64("inode", uint64(t.ino)).Msg("failed to persist directory record")
	}
	t.mount.Channel.InvalidateInode(t.ino)
}

// materializeUp sets contents.materialized=true on this inode and every
// ancestor up to root, clearing source_tree hashes accordingly (spec §4.4
// "Materialization propagation").
func (t *TreeInode) materializeUp() {
	t.mu.Lock()
	t.materializeUpLocked()
	t.mu.Unlock()
}

func (t *TreeInode) materializeUpLocked() {
	t.contents.Materialized = true
	t.contents.SourceTree = ""
	parent := t.parentRef()
	for parent != nil {
		parent.mu.Lock()
		already := parent.contents.Materialized
		parent.contents.Materialized = true
		parent.contents.SourceTree = ""
		if err := parent.mount.Overlay.SaveDir(parent.ino, parent.contents); err != nil {
			parent.mount.logCore.Error().Err(err).Msg("failed to persist ancestor materialization")
		}
		next := parent.parentRef()
		parent.mu.Unlock()
		if already {
			break
		}
		parent = next
	}
}

// pathLocked computes this directory's path plus a child name; caller
// holds t.mu. Used only for journal/log annotation, not identity.
func (t *TreeInode) pathLocked(child PathComponent) RelativePath {
	base, _ := t.mount.Inodes.GetPathForInode(t.ino)
	return base.Join(child)
}
