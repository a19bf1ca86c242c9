package fs

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

func sha1Of(data []byte) [20]byte { return sha1.Sum(data) }

// encodeTree/decodeTree implement the canonical on-disk form used by both
// the durable object-store cache and the round-trip tests in spec §8
// ("serialize a Tree, deserialize: equal (byte-for-byte on canonical
// form)"): a flat list of (name, mode, type, object id) tuples in the
// Tree's already-sorted order.
func encodeTree(t *Tree) []byte {
	var buf bytes.Buffer
	entries := t.Entries()
	writeUvarint(&buf, uint64(len(entries)))
	for _, e := range entries {
		writeString(&buf, string(e.Name))
		writeUvarint(&buf, uint64(e.Mode))
		buf.WriteByte(byte(e.Type))
		writeString(&buf, string(e.ID))
	}
	return buf.Bytes()
}

func decodeTree(raw []byte) (*Tree, error) {
	r := bytes.NewReader(raw)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("decode tree: count: %w", err)
	}
	entries := make([]TreeEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("decode tree: name: %w", err)
		}
		mode, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("decode tree: mode: %w", err)
		}
		typByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("decode tree: type: %w", err)
		}
		id, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("decode tree: id: %w", err)
		}
		entries = append(entries, TreeEntry{
			Name: PathComponent(name),
			Mode: uint32(mode),
			Type: EntryType(typByte),
			ID:   ObjectId(id),
		})
	}
	// already in canonical order on disk; preserve it exactly rather than
	// re-sorting under an assumed policy.
	return &Tree{entries: entries}, nil
}

// encodeOverlayDir/decodeOverlayDir are the overlay's on-disk directory
// record form (spec §4.2 save_dir/load_dir, §8 OverlayDir round-trip).
func encodeOverlayDir(d *OverlayDir) []byte {
	var buf bytes.Buffer
	if d.Materialized {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeString(&buf, string(d.SourceTree))
	writeUvarint(&buf, uint64(len(d.Entries)))
	for name, e := range d.Entries {
		writeString(&buf, string(name))
		writeUvarint(&buf, uint64(e.Mode))
		buf.WriteByte(byte(e.Type))
		writeUvarint(&buf, uint64(e.Inode))
		writeString(&buf, string(e.Hash))
	}
	return buf.Bytes()
}

func decodeOverlayDir(raw []byte) (*OverlayDir, error) {
	r := bytes.NewReader(raw)
	matByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("decode overlay dir: materialized: %w", err)
	}
	sourceTree, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("decode overlay dir: source tree: %w", err)
	}
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("decode overlay dir: count: %w", err)
	}
	d := &OverlayDir{
		Entries:      make(map[PathComponent]OverlayEntry, n),
		Materialized: matByte != 0,
		SourceTree:   ObjectId(sourceTree),
	}
	for i := uint64(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("decode overlay dir: name: %w", err)
		}
		mode, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("decode overlay dir: mode: %w", err)
		}
		typByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("decode overlay dir: type: %w", err)
		}
		inode, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("decode overlay dir: inode: %w", err)
		}
		hash, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("decode overlay dir: hash: %w", err)
		}
		d.Entries[PathComponent(name)] = OverlayEntry{
			Mode:  uint32(mode),
			Type:  EntryType(typByte),
			Inode: InodeNumber(inode),
			Hash:  ObjectId(hash),
		}
	}
	return d, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}
