package fs

import (
	"sync"
	"time"

	edenerrors "github.com/edenfs-go/eden/pkg/errors"
)

// JournalEntryKind tags a Journal record (spec §4.7).
type JournalEntryKind int

const (
	KindChanged JournalEntryKind = iota
	KindCreated
	KindRemoved
	KindHashUpdate
	KindUncleanPaths
)

// JournalEntry is one append-only change record (spec §4.7).
type JournalEntry struct {
	SeqID         uint64
	Kind          JournalEntryKind
	Paths         []RelativePath
	RootFrom      RootId
	RootTo        RootId
	Timestamp     time.Time
	ExistedBefore *bool
	ExistedAfter  *bool
}

func (e JournalEntry) memSize() int {
	n := 64
	for _, p := range e.Paths {
		n += len(p) + 8
	}
	return n
}

// JournalStats mirrors spec §4.7 stats().
type JournalStats struct {
	EntryCount           int
	EarliestTS           time.Time
	LatestTS             time.Time
	MemoryBytes          int
	MaxFilesAccumulated  int
}

// AccumulateSummary is the result of accumulate_range (spec §4.7).
type AccumulateSummary struct {
	FromSeq          uint64
	ToSeq            uint64
	ChangedFiles      map[RelativePath]FileChangeInfo
	UncleanPaths     map[RelativePath]struct{}
	Truncated        bool
}

// FileChangeInfo tracks whether a path existed before/after the summarized
// range, used by scenario E's compaction check.
type FileChangeInfo struct {
	ExistedBefore bool
	ExistedAfter  bool
}

// Journal is the append-only, memory-budgeted change log (spec C7).
// Consecutive Changed records for the same path are merged into one on
// append (compaction), and the oldest entries are dropped once the byte
// budget is exceeded, always keeping at least one entry and recording
// that a truncation happened.
type Journal struct {
	mu          sync.Mutex
	entries     []JournalEntry
	nextSeq     uint64
	memoryLimit int
	memoryUsed  int
	truncated   bool
	maxFiles    int

	subMu       sync.Mutex
	subscribers map[int]func(JournalEntry)
	nextSubID   int
}

func NewJournal(memoryLimit int) *Journal {
	return &Journal{
		memoryLimit: memoryLimit,
		subscribers: make(map[int]func(JournalEntry)),
	}
}

func (j *Journal) append(kind JournalEntryKind, paths []RelativePath, rootFrom, rootTo RootId) JournalEntry {
	j.mu.Lock()
	j.nextSeq++
	entry := JournalEntry{
		SeqID:     j.nextSeq,
		Kind:      kind,
		Paths:     paths,
		RootFrom:  rootFrom,
		RootTo:    rootTo,
		Timestamp: time.Now(),
	}

	if kind == KindChanged && len(j.entries) > 0 {
		last := &j.entries[len(j.entries)-1]
		if last.Kind == KindChanged && len(last.Paths) == 1 && len(paths) == 1 && last.Paths[0] == paths[0] {
			j.memoryUsed -= last.memSize()
			last.SeqID = entry.SeqID
			last.Timestamp = entry.Timestamp
			j.memoryUsed += last.memSize()
			j.enforceMemoryLimitLocked()
			j.mu.Unlock()
			j.notify(*last)
			return *last
		}
	}

	j.entries = append(j.entries, entry)
	j.memoryUsed += entry.memSize()
	if len(paths) > j.maxFiles {
		j.maxFiles = len(paths)
	}
	j.enforceMemoryLimitLocked()
	j.mu.Unlock()

	j.notify(entry)
	return entry
}

func (j *Journal) enforceMemoryLimitLocked() {
	for j.memoryUsed > j.memoryLimit && len(j.entries) > 1 {
		dropped := j.entries[0]
		j.entries = j.entries[1:]
		j.memoryUsed -= dropped.memSize()
		j.truncated = true
	}
}

func (j *Journal) RecordChanged(path RelativePath) JournalEntry {
	return j.append(KindChanged, []RelativePath{path}, "", "")
}

func (j *Journal) RecordCreated(path RelativePath) JournalEntry {
	return j.append(KindCreated, []RelativePath{path}, "", "")
}

func (j *Journal) RecordRemoved(path RelativePath) JournalEntry {
	return j.append(KindRemoved, []RelativePath{path}, "", "")
}

func (j *Journal) RecordHashUpdate(from, to RootId) JournalEntry {
	return j.append(KindHashUpdate, nil, from, to)
}

func (j *Journal) RecordUncleanPaths(from, to RootId, paths []RelativePath) JournalEntry {
	return j.append(KindUncleanPaths, paths, from, to)
}

// Latest returns the most recently appended entry, if any (spec §4.7).
func (j *Journal) Latest() (JournalEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return JournalEntry{}, false
	}
	return j.entries[len(j.entries)-1], true
}

// AccumulateRange summarizes every record with seq_id >= fromSeq, flagging
// Truncated if fromSeq precedes the oldest retained entry and entries have
// been dropped to stay within the memory limit (spec §4.7,
// §8 invariant 3/4: idempotent, reflects latest().seq_id as ToSeq).
func (j *Journal) AccumulateRange(fromSeq uint64) (AccumulateSummary, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return AccumulateSummary{}, false
	}
	summary := AccumulateSummary{
		FromSeq:      fromSeq,
		ToSeq:        j.entries[len(j.entries)-1].SeqID,
		ChangedFiles: make(map[RelativePath]FileChangeInfo),
		UncleanPaths: make(map[RelativePath]struct{}),
	}
	if fromSeq < j.entries[0].SeqID {
		summary.Truncated = j.truncated
	}
	for _, e := range j.entries {
		if e.SeqID < fromSeq {
			continue
		}
		switch e.Kind {
		case KindChanged, KindCreated, KindRemoved:
			for _, p := range e.Paths {
				info := summary.ChangedFiles[p]
				switch e.Kind {
				case KindCreated:
					info.ExistedAfter = true
				case KindRemoved:
					info.ExistedBefore = true
				default:
					info.ExistedBefore, info.ExistedAfter = true, true
				}
				summary.ChangedFiles[p] = info
			}
		case KindUncleanPaths:
			for _, p := range e.Paths {
				summary.UncleanPaths[p] = struct{}{}
			}
		}
	}
	return summary, true
}

// Subscribe registers a notify-on-change callback; the returned cancel
// unsubscribes it (spec §2 supplement 1, grounded on Journal.h).
func (j *Journal) Subscribe(cb func(JournalEntry)) (cancel func()) {
	j.subMu.Lock()
	id := j.nextSubID
	j.nextSubID++
	j.subscribers[id] = cb
	j.subMu.Unlock()
	return func() {
		j.subMu.Lock()
		delete(j.subscribers, id)
		j.subMu.Unlock()
	}
}

func (j *Journal) notify(e JournalEntry) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	for _, cb := range j.subscribers {
		cb(e)
	}
}

func (j *Journal) Stats() JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := JournalStats{EntryCount: len(j.entries), MemoryBytes: j.memoryUsed, MaxFilesAccumulated: j.maxFiles}
	if len(j.entries) > 0 {
		s.EarliestTS = j.entries[0].Timestamp
		s.LatestTS = j.entries[len(j.entries)-1].Timestamp
	}
	return s
}

// Flush drops all entries (spec §4.7: "used by tests / explicit reset").
func (j *Journal) Flush() {
	j.mu.Lock()
	j.entries = nil
	j.memoryUsed = 0
	j.truncated = false
	j.mu.Unlock()
}

// EnsureNotTruncated returns JournalTruncated if fromSeq is older than the
// oldest retained entry and entries have been dropped; callers that must not silently skip history call
// this before trusting an AccumulateRange result.
func (j *Journal) EnsureNotTruncated(fromSeq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) > 0 && fromSeq < j.entries[0].SeqID && j.truncated {
		return edenerrors.NewJournalTruncated("requested range precedes retained journal window")
	}
	return nil
}
