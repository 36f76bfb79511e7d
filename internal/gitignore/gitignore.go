// Package gitignore matches paths against gitignore pattern lists,
// following the syntax of https://git-scm.com/docs/gitignore: wildcards,
// anchored patterns, directory-only patterns, negation, and nested
// ignore files scoped to a base directory.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher is a compiled list of gitignore rules. Later rules override
// earlier ones, so negations work the way git applies them. Safe for
// concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	base     string // Nested .gitignore scope, "" for the root file
	negate   bool
	dirOnly  bool
	anchored bool
}

// New returns an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds one root-scoped pattern. Blank lines and comments are
// ignored.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that applies only under base, the
// directory (relative to the project root) containing the nested
// .gitignore it came from.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	escapedSpace := strings.HasSuffix(pattern, `\ `)
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{base: base}

	switch {
	case strings.HasPrefix(pattern, `\#`), strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
	case strings.HasPrefix(pattern, "!"):
		r.negate = true
		pattern = pattern[1:]
	}

	// "file\ " keeps its trailing space through the trim above.
	if escapedSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// A slash anywhere in the pattern anchors it: "doc/frotz" means
	// /doc/frotz, not **/doc/frotz.
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.re = regexp.MustCompile("^" + toRegexp(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile loads patterns from a .gitignore file with the given base
// scope.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open gitignore: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddPatternWithBase(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read gitignore: %w", err)
	}
	return nil
}

// Match reports whether path (relative to the project root) is ignored.
// The last matching rule wins.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.match(path, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) match(path string, isDir bool) bool {
	// Scope nested rules to their base directory.
	if r.base != "" {
		switch {
		case path == r.base:
			path = filepath.Base(path)
		case strings.HasPrefix(path, r.base+"/"):
			path = strings.TrimPrefix(path, r.base+"/")
		default:
			return false
		}
	}

	parts := strings.Split(path, "/")

	if r.anchored {
		if r.re.MatchString(path) {
			return !r.dirOnly || isDir
		}
		if r.dirOnly {
			// A file under a matched directory is ignored too.
			for i := range parts[:len(parts)-1] {
				if r.re.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.re.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	if r.re.MatchString(parts[len(parts)-1]) || r.re.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.re.MatchString(part) {
			return true
		}
	}
	return false
}

// toRegexp translates one gitignore glob into regexp source. "**/"
// crosses directories, "*" and "?" stop at slashes, character classes
// pass through.
func toRegexp(pattern string) string {
	var b strings.Builder

	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch c {
		case '*':
			if strings.HasPrefix(pattern[i:], "**/") {
				b.WriteString("(?:.*/)?")
				i += 3
				continue
			}
			if strings.HasPrefix(pattern[i:], "**") && (i == 0 || pattern[i-1] == '/') {
				b.WriteString(".*")
				i += 2
				continue
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			if j := strings.IndexByte(pattern[i:], ']'); j > 0 {
				b.WriteString(pattern[i : i+j+1])
				i += j + 1
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				b.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}
