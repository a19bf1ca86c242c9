package fs

import "testing"

func TestGitIgnoreMatchBasicGlob(t *testing.T) {
	g := LoadGitIgnore("*.o\n/build/\n!keep.o\n")

	if v := g.Match("foo.o", false); v != Exclude {
		t.Fatalf("foo.o: got %v, want Exclude", v)
	}
	if v := g.Match("keep.o", false); v != Include {
		t.Fatalf("keep.o: got %v, want Include (negated rule wins, last-match)", v)
	}
	if v := g.Match("build", true); v != Exclude {
		t.Fatalf("build dir: got %v, want Exclude", v)
	}
	if v := g.Match("build", false); v != NoMatch {
		t.Fatalf("non-dir named build: dirOnly rule should not apply, got %v", v)
	}
}

func TestGitIgnoreDoubleStarMatchesAnyDepth(t *testing.T) {
	g := LoadGitIgnore("**/logs\n")
	if v := g.Match("logs", true); v != Exclude {
		t.Fatalf("logs at root: got %v, want Exclude", v)
	}
	if v := g.Match("a/b/logs", true); v != Exclude {
		t.Fatalf("nested logs: got %v, want Exclude", v)
	}
}

func TestGitIgnoreStackHiddenNamesShortCircuit(t *testing.T) {
	stack := NewGitIgnoreStack(nil, nil)
	if v := stack.Match(".hg", true); v != Hidden {
		t.Fatalf(".hg with no rules loaded: got %v, want Hidden", v)
	}
	if v := stack.Match(".eden", true); v != Hidden {
		t.Fatalf(".eden with no rules loaded: got %v, want Hidden", v)
	}
	if v := stack.Match("visible", false); v != NoMatch {
		t.Fatalf("unmatched name: got %v, want NoMatch", v)
	}
}

func TestGitIgnoreStackWalksOutward(t *testing.T) {
	root := NewGitIgnoreStack(nil, LoadGitIgnore("*.log\n"))
	sub := NewGitIgnoreStack(root, LoadGitIgnore("!keep.log\n"))

	if v := sub.Match("src/debug.log", false); v != Exclude {
		t.Fatalf("debug.log: got %v, want Exclude (from root rule)", v)
	}
	if v := sub.Match("src/keep.log", false); v != Include {
		t.Fatalf("keep.log: got %v, want Include (inner negation wins, closest node checked first)", v)
	}
}

func TestGitIgnoreStackDirectoryExcludedBlocksDescendants(t *testing.T) {
	stack := NewGitIgnoreStack(nil, LoadGitIgnore("/vendor/\n"))
	if !stack.DirectoryExcluded("vendor") {
		t.Fatalf("expected vendor to be excluded")
	}
	if stack.DirectoryExcluded("src") {
		t.Fatalf("src should not be excluded")
	}
}
