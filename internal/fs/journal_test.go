package fs

import "testing"

func TestJournalRecordAndLatest(t *testing.T) {
	j := NewJournal(1 << 20)
	if _, ok := j.Latest(); ok {
		t.Fatalf("empty journal should have no latest entry")
	}
	j.RecordCreated("a.txt")
	e := j.RecordChanged("b.txt")
	latest, ok := j.Latest()
	if !ok || latest.SeqID != e.SeqID {
		t.Fatalf("Latest did not return the last appended entry")
	}
}

func TestJournalCompactsConsecutiveChangedForSamePath(t *testing.T) {
	j := NewJournal(1 << 20)
	first := j.RecordChanged("a.txt")
	second := j.RecordChanged("a.txt")
	if second.SeqID == first.SeqID {
		t.Fatalf("compacted entry should still bump seq id")
	}
	stats := j.Stats()
	if stats.EntryCount != 1 {
		t.Fatalf("expected consecutive Changed(a.txt) to compact into one entry, got %d", stats.EntryCount)
	}
}

func TestJournalAccumulateRangeSummarizesChanges(t *testing.T) {
	j := NewJournal(1 << 20)
	j.RecordCreated("a.txt")
	j.RecordRemoved("b.txt")
	j.RecordChanged("c.txt")
	j.RecordUncleanPaths("root1", "root2", []RelativePath{"d.txt"})

	summary, ok := j.AccumulateRange(0)
	if !ok {
		t.Fatalf("expected a summary for a non-empty journal")
	}
	if info := summary.ChangedFiles["a.txt"]; !info.ExistedAfter || info.ExistedBefore {
		t.Fatalf("created file should be ExistedAfter only, got %+v", info)
	}
	if info := summary.ChangedFiles["b.txt"]; !info.ExistedBefore || info.ExistedAfter {
		t.Fatalf("removed file should be ExistedBefore only, got %+v", info)
	}
	if info := summary.ChangedFiles["c.txt"]; !info.ExistedBefore || !info.ExistedAfter {
		t.Fatalf("changed file should be both ExistedBefore and ExistedAfter, got %+v", info)
	}
	if _, ok := summary.UncleanPaths["d.txt"]; !ok {
		t.Fatalf("expected d.txt to be recorded as an unclean path")
	}
}

func TestJournalEnforcesMemoryLimitAndFlagsTruncated(t *testing.T) {
	j := NewJournal(1)
	for i := 0; i < 10; i++ {
		j.RecordCreated(RelativePath("file" + string(rune('a'+i)) + ".txt"))
	}
	stats := j.Stats()
	if stats.EntryCount < 1 {
		t.Fatalf("journal should never drop below one entry")
	}
	if err := j.EnsureNotTruncated(0); err == nil {
		t.Fatalf("expected JournalTruncated error for a range older than the retained window")
	}
}

func TestJournalSubscribeAndCancel(t *testing.T) {
	j := NewJournal(1 << 20)
	var seen []JournalEntry
	cancel := j.Subscribe(func(e JournalEntry) { seen = append(seen, e) })

	j.RecordCreated("a.txt")
	if len(seen) != 1 {
		t.Fatalf("expected subscriber to observe one notification, got %d", len(seen))
	}

	cancel()
	j.RecordCreated("b.txt")
	if len(seen) != 1 {
		t.Fatalf("expected no further notifications after cancel, got %d", len(seen))
	}
}

func TestJournalFlushResetsState(t *testing.T) {
	j := NewJournal(1 << 20)
	j.RecordCreated("a.txt")
	j.Flush()
	if _, ok := j.Latest(); ok {
		t.Fatalf("expected no entries after Flush")
	}
	stats := j.Stats()
	if stats.EntryCount != 0 || stats.MemoryBytes != 0 {
		t.Fatalf("expected zeroed stats after Flush, got %+v", stats)
	}
}
