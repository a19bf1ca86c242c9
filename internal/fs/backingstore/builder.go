package backingstore

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/edenfs-go/eden/internal/fs"
)

// HashBlob derives a content-addressed id for data, the same convenience
// FakeBackingStore::putBlob(StringPiece) provides when a caller doesn't
// care what hash scheme is used, only that it's stable for the test.
func HashBlob(data []byte) fs.ObjectId {
	sum := sha1.Sum(data)
	return fs.ObjectId(hex.EncodeToString(sum[:]))
}

// PutBlobContent registers data under its content hash and returns the id,
// so callers don't have to invent ids for leaf files.
func (f *Fake) PutBlobContent(data []byte) fs.ObjectId {
	id := HashBlob(data)
	f.PutBlob(id, data)
	return id
}

// TreeBuilder accumulates entries for one directory before handing them to
// the Fake store, mirroring FakeTreeBuilder's entries-list-then-build
// shape without translating its std::initializer_list-based API.
type TreeBuilder struct {
	store   *Fake
	entries []fs.TreeEntry
	policy  fs.CasePolicy
}

// NewTreeBuilder starts a tree under store, sorted per policy.
func (f *Fake) NewTreeBuilder(policy fs.CasePolicy) *TreeBuilder {
	return &TreeBuilder{store: f, policy: policy}
}

// File adds a regular or executable file entry, registering its content as
// a blob in the owning store.
func (b *TreeBuilder) File(name fs.PathComponent, data []byte, mode uint32) *TreeBuilder {
	id := b.store.PutBlobContent(data)
	typ := fs.EntryRegular
	if mode&0111 != 0 {
		typ = fs.EntryExecutable
	}
	b.entries = append(b.entries, fs.TreeEntry{Name: name, Mode: mode, Type: typ, ID: id})
	return b
}

// Symlink adds a symlink entry whose blob body is the link target.
func (b *TreeBuilder) Symlink(name fs.PathComponent, target string) *TreeBuilder {
	id := b.store.PutBlobContent([]byte(target))
	b.entries = append(b.entries, fs.TreeEntry{Name: name, Mode: 0777, Type: fs.EntrySymlink, ID: id})
	return b
}

// Dir adds a subdirectory entry pointing at an already-built tree id.
func (b *TreeBuilder) Dir(name fs.PathComponent, treeID fs.ObjectId) *TreeBuilder {
	b.entries = append(b.entries, fs.TreeEntry{Name: name, Mode: 0755, Type: fs.EntryTree, ID: treeID})
	return b
}

// Build registers the accumulated entries as a tree under id and returns
// it, ready for use as a Dir() child or as a commit's root.
func (b *TreeBuilder) Build(id fs.ObjectId) fs.ObjectId {
	tree := fs.NewTree(b.entries, b.policy)
	b.store.PutTree(id, tree)
	return id
}
