package fs

import (
	"path"
	"strings"
)

// MatchVerdict is the result of matching a path against a GitIgnoreStack
// (spec §4.8), grounded directly on original_source's
// eden/fs/model/git/GitIgnore.h MatchResult enum.
type MatchVerdict int

const (
	NoMatch MatchVerdict = iota
	Include
	Exclude
	Hidden
)

// gitIgnoreRule is one parsed line of a .gitignore file.
type gitIgnoreRule struct {
	negated     bool
	anchored    bool // leading '/'
	dirOnly     bool // trailing '/'
	pattern     string
	hasSlash    bool // pattern contains an internal '/', forcing full-path match
}

// GitIgnore is a parsed set of rules from a single .gitignore file (spec
// §4.8 parse rules: '#', '!', leading/trailing '/', '**/', '*', '?',
// '[...]'; later rules override earlier within one file).
type GitIgnore struct {
	rules []gitIgnoreRule
}

// LoadGitIgnore parses .gitignore file contents.
func LoadGitIgnore(contents string) *GitIgnore {
	g := &GitIgnore{}
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := gitIgnoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negated = true
			line = line[1:]
		}
		if strings.HasPrefix(line, "/") {
			rule.anchored = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") && !strings.HasSuffix(line, "\\/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		rule.hasSlash = strings.Contains(line, "/")
		rule.pattern = line
		g.rules = append(g.rules, rule)
	}
	return g
}

// Match tests relPath (relative to this ignore file's directory)
// against every rule, last-match-wins within the file.
func (g *GitIgnore) Match(relPath string, isDir bool) MatchVerdict {
	verdict := NoMatch
	base := path.Base(relPath)
	for _, r := range g.rules {
		if r.dirOnly && !isDir {
			continue
		}
		var candidate string
		if r.hasSlash || r.anchored {
			candidate = relPath
		} else {
			candidate = base
		}
		if globMatch(r.pattern, candidate) {
			if r.negated {
				verdict = Include
			} else {
				verdict = Exclude
			}
		}
	}
	return verdict
}

// globMatch implements the gitignore-flavored glob subset: '**/' matches
// zero or more components, '*' matches within one component, '?' matches
// one rune, '[...]' is a character class (delegated to path.Match per
// component after expanding '**').
func globMatch(pattern, candidate string) bool {
	if pattern == candidate {
		return true
	}
	segments := strings.Split(pattern, "/")
	candSegs := strings.Split(candidate, "/")
	return matchSegments(segments, candSegs)
}

func matchSegments(pat, cand []string) bool {
	if len(pat) == 0 {
		return len(cand) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], cand) {
			return true
		}
		for i := 1; i <= len(cand); i++ {
			if matchSegments(pat[1:], cand[i:]) {
				return true
			}
		}
		return false
	}
	if len(cand) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], cand[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], cand[1:])
}

// hiddenNames are always Hidden regardless of any loaded rule (spec §2
// supplement 2, grounded on GitIgnoreStack.cpp's basename short-circuit).
var hiddenNames = map[string]bool{".hg": true, ".eden": true}

// GitIgnoreStack is a linked chain of (rules, parent) nodes mirroring
// original_source's GitIgnoreStack.h/.cpp, one node per directory from the
// root down: match walks from the innermost node outward. The innermost
// node sees only the final path component, each hop outward adds one
// leading component back, and once the full path is reached any further
// node (root-level system/user ignore nodes) sees the full path.
type GitIgnoreStack struct {
	ignore *GitIgnore // nil for a node with no .gitignore file (root-level system/user nodes)
	parent *GitIgnoreStack
}

// NewGitIgnoreStack pushes a new node in front of parent.
func NewGitIgnoreStack(parent *GitIgnoreStack, ignore *GitIgnore) *GitIgnoreStack {
	return &GitIgnoreStack{ignore: ignore, parent: parent}
}

// Match walks the stack for relPath (mount-relative), returning the first
// non-NoMatch verdict, or NoMatch if every node is silent. Hidden names
// short-circuit before any rule lookup (spec §2 supplement 2). Match does
// not look at ancestor directories; diff calls DirectoryExcluded on each
// directory to ignore everything below an excluded one (spec §4.8,
// scenario D).
func (s *GitIgnoreStack) Match(relPath string, isDir bool) MatchVerdict {
	base := path.Base(relPath)
	if hiddenNames[base] {
		return Hidden
	}

	comps := strings.Split(relPath, "/")
	idx := -1
	for node := s; node != nil; node = node.parent {
		idx++
	}
	if idx > len(comps)-1 {
		idx = len(comps) - 1
	}
	for node := s; node != nil; node = node.parent {
		if node.ignore != nil {
			if v := node.ignore.Match(strings.Join(comps[idx:], "/"), isDir); v != NoMatch {
				return v
			}
		}
		if idx > 0 {
			idx--
		}
	}
	return NoMatch
}

func popFirstComponent(p string) string {
	idx := strings.IndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// DirectoryExcluded reports whether the directory dirPath itself is
// Excluded by the stack; diff then treats every descendant as ignored even
// if an inner rule would otherwise Include it (spec §4.8). Ancestors of
// dirPath are not checked here: diff calls this for each directory on its
// way down.
func (s *GitIgnoreStack) DirectoryExcluded(dirPath string) bool {
	if dirPath == "" {
		return false
	}
	return s.Match(dirPath, true) == Exclude
}
