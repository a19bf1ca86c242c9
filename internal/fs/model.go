package fs

import "sort"

// EntryType is a TreeEntry's kind (spec §3 Tree).
type EntryType int

const (
	EntryRegular EntryType = iota
	EntryExecutable
	EntrySymlink
	EntryTree
)

func (t EntryType) IsDir() bool { return t == EntryTree }

// TreeEntry is one named child of a source-control Tree.
type TreeEntry struct {
	Name PathComponent
	Mode uint32
	Type EntryType
	ID   ObjectId
}

// Tree is the immutable, sorted source-control view of a directory.
type Tree struct {
	entries []TreeEntry
}

// NewTree sorts entries under policy and returns an immutable Tree.
func NewTree(entries []TreeEntry, policy CasePolicy) *Tree {
	cp := make([]TreeEntry, len(entries))
	copy(cp, entries)
	sort.Slice(cp, func(i, j int) bool {
		return cp[i].Name.Compare(cp[j].Name, policy) < 0
	})
	return &Tree{entries: cp}
}

func (t *Tree) Entries() []TreeEntry { return t.entries }

// Entry looks up a child by name under policy; ok is false if absent.
func (t *Tree) Entry(name PathComponent, policy CasePolicy) (TreeEntry, bool) {
	for _, e := range t.entries {
		if e.Name.Equal(name, policy) {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// BlobMetadata is derivable from a blob and cheap to cache.
type BlobMetadata struct {
	SHA1 [20]byte
	Size uint64
}

// Blob is an immutable source-control file body.
type Blob struct {
	ID   ObjectId
	Data []byte
}

// OverlayEntry is one child record inside an OverlayDir (spec §3).
// Exactly one of {Hash set, Hash unset} holds for a file entry: Hash set
// means unmodified (refers to source-control); unset means materialized
// (body lives in the overlay under Inode).
type OverlayEntry struct {
	Mode  uint32
	Inode InodeNumber // UnsetInodeNumber if never allocated
	Hash  ObjectId    // zero value if materialized
	Type  EntryType
}

func (e OverlayEntry) IsMaterialized() bool { return e.Hash.IsZero() }

// OverlayDir is the mutable, durable directory record keyed by inode
// number in the overlay (spec §3, §4.2).
type OverlayDir struct {
	Entries      map[PathComponent]OverlayEntry
	Materialized bool
	SourceTree   ObjectId // zero if Materialized and no longer tree-backed
}

func NewOverlayDir() *OverlayDir {
	return &OverlayDir{Entries: make(map[PathComponent]OverlayEntry)}
}

func (d *OverlayDir) Clone() *OverlayDir {
	cp := &OverlayDir{
		Entries:      make(map[PathComponent]OverlayEntry, len(d.Entries)),
		Materialized: d.Materialized,
		SourceTree:   d.SourceTree,
	}
	for k, v := range d.Entries {
		cp.Entries[k] = v
	}
	return cp
}

// Lookup finds a child under the mount's case policy.
func (d *OverlayDir) Lookup(name PathComponent, policy CasePolicy) (PathComponent, OverlayEntry, bool) {
	if policy == CaseSensitive {
		e, ok := d.Entries[name]
		return name, e, ok
	}
	for k, e := range d.Entries {
		if k.Equal(name, policy) {
			return k, e, true
		}
	}
	return "", OverlayEntry{}, false
}

// SortedNames returns the directory's child names ordered by policy, used
// by readdir to produce a stable offset ordering (spec §4.4).
func (d *OverlayDir) SortedNames(policy CasePolicy) []PathComponent {
	names := make([]PathComponent, 0, len(d.Entries))
	for k := range d.Entries {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i].Compare(names[j], policy) < 0
	})
	return names
}
