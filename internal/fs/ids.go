// Package fs implements the eden core: the inode graph, overlay, object
// store façade, checkout/diff engines, journal, ignore engine, channel
// dispatcher, and mount coordinator (spec components C1-C10).
package fs

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// InodeNumber is a 64-bit, mount-scoped, persistent identity for a loaded
// or ever-referenced inode. 0 is reserved "unset"; the root is always 1.
type InodeNumber uint64

// UnsetInodeNumber is the reserved zero value; never assigned to an entry.
const UnsetInodeNumber InodeNumber = 0

// RootInodeNumber is the fixed inode number of the mount root.
const RootInodeNumber InodeNumber = 1

// EdenMagicDirInodeNumber is the pinned inode number of the ".eden" magic
// directory (spec §4.10, §9 "pin its inode number"). The allocator counter
// is bumped past it during setup so it is never handed out again.
const EdenMagicDirInodeNumber InodeNumber = 2

// EdenMagicDirName is the hidden directory every mount exposes at its root
// once initialize() has run (spec §4.10, §6).
const EdenMagicDirName PathComponent = ".eden"

// ObjectId is an opaque content hash identifying a tree, blob, or root.
// Equality is byte equality.
type ObjectId string

func (id ObjectId) String() string { return string(id) }

// IsZero reports whether id carries no identity (e.g. a brand new,
// never-checked-out file).
func (id ObjectId) IsZero() bool { return id == "" }

// CasePolicy governs how PathComponent/RelativePath comparisons behave.
type CasePolicy int

const (
	CaseSensitive CasePolicy = iota
	CaseInsensitivePreserving
)

// PathComponent is a single path segment; it never contains '/' or NUL.
type PathComponent string

// RelativePath is a mount-relative, '/'-separated path with no leading
// slash; the empty string denotes the mount root.
type RelativePath string

var foldCaser = cases.Fold()

// Compare orders two components under the given case policy.
func (p PathComponent) Compare(other PathComponent, policy CasePolicy) int {
	a, b := string(p), string(other)
	if policy == CaseInsensitivePreserving {
		a, b = foldCaser.String(a), foldCaser.String(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports whether p and other name the same entry under policy.
func (p PathComponent) Equal(other PathComponent, policy CasePolicy) bool {
	return p.Compare(other, policy) == 0
}

// Join appends a component to a relative path.
func (r RelativePath) Join(c PathComponent) RelativePath {
	if r == "" {
		return RelativePath(c)
	}
	return RelativePath(string(r) + "/" + string(c))
}

// Split returns the parent relative path and the final component; for the
// root it returns ("", "").
func (r RelativePath) Split() (RelativePath, PathComponent) {
	s := string(r)
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return "", PathComponent(s)
	}
	return RelativePath(s[:idx]), PathComponent(s[idx+1:])
}

func (r RelativePath) Components() []PathComponent {
	if r == "" {
		return nil
	}
	parts := strings.Split(string(r), "/")
	out := make([]PathComponent, len(parts))
	for i, p := range parts {
		out[i] = PathComponent(p)
	}
	return out
}

func (r RelativePath) String() string { return string(r) }
