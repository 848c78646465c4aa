// Package exclude matches vault-relative paths against exclusion patterns.
//
// A pattern is one of:
//   - a directory pattern ending in "/" (".obsidian/", "archive/old/"): matches
//     anything inside a directory with that name at any depth;
//   - a glob containing *, ?, [ or { ("templates/**", "*.excalidraw.md"),
//     matched with doublestar against the full path, or against the base name
//     when the pattern has no "/";
//   - a plain path prefix ("Archive", "daily/2023"): matches the path itself and
//     everything under it.
//
// The same Matcher is used by the vault walk and by the diagnostics queries.
package exclude

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns are applied when the configuration does not override them.
var DefaultPatterns = []string{".obsidian/", ".git/", ".trash/"}

type kind int

const (
	kindDir kind = iota
	kindGlob
	kindPrefix
)

type pattern struct {
	raw  string
	kind kind
	expr string
}

// Matcher is an immutable, concurrency-safe set of patterns. The zero value
// and a nil *Matcher match nothing.
type Matcher struct {
	patterns []pattern
}

// New compiles patterns. Blank entries are ignored.
func New(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(path.Clean("/"+strings.TrimSuffix(p, "/")), "/")
		if strings.HasSuffix(strings.TrimSpace(raw), "/") {
			m.patterns = append(m.patterns, pattern{raw: raw, kind: kindDir, expr: p})
			continue
		}
		if strings.ContainsAny(p, "*?[{") {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("exclude: invalid pattern %q", raw)
			}
			m.patterns = append(m.patterns, pattern{raw: raw, kind: kindGlob, expr: p})
			continue
		}
		m.patterns = append(m.patterns, pattern{raw: raw, kind: kindPrefix, expr: p})
	}
	return m, nil
}

// MustNew is New for patterns known at compile time.
func MustNew(patterns ...string) *Matcher {
	m, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return m
}

// Merge returns a matcher holding the patterns of both.
func (m *Matcher) Merge(other *Matcher) *Matcher {
	out := &Matcher{}
	if m != nil {
		out.patterns = append(out.patterns, m.patterns...)
	}
	if other != nil {
		out.patterns = append(out.patterns, other.patterns...)
	}
	return out
}

// Patterns returns the patterns as configured.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.raw
	}
	return out
}

// Match reports whether the vault-relative file path is excluded.
func (m *Matcher) Match(rel string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	for _, p := range m.patterns {
		if p.match(rel, false) {
			return true
		}
	}
	return false
}

// MatchDir reports whether the whole directory can be skipped by a walk.
func (m *Matcher) MatchDir(rel string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return false
	}
	for _, p := range m.patterns {
		if p.match(rel, true) {
			return true
		}
	}
	return false
}

func (p pattern) match(rel string, isDir bool) bool {
	switch p.kind {
	case kindDir:
		if isDir && (rel == p.expr || strings.HasSuffix(rel, "/"+p.expr)) {
			return true
		}
		return strings.HasPrefix(rel, p.expr+"/") || strings.Contains(rel, "/"+p.expr+"/")
	case kindPrefix:
		return rel == p.expr || strings.HasPrefix(rel, p.expr+"/")
	case kindGlob:
		if ok, _ := doublestar.Match(p.expr, rel); ok {
			return true
		}
		if !strings.Contains(p.expr, "/") {
			ok, _ := doublestar.Match(p.expr, path.Base(rel))
			return ok
		}
		// "dir/**" also prunes the directory itself during a walk.
		if isDir && strings.HasSuffix(p.expr, "/**") {
			ok, _ := doublestar.Match(strings.TrimSuffix(p.expr, "/**"), rel)
			return ok
		}
	}
	return false
}
