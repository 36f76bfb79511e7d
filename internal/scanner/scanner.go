package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/gitignore"
)

// matcherCacheSize bounds the per-directory gitignore matcher cache so a
// long-lived daemon scanning many projects does not grow without limit.
const matcherCacheSize = 512

// Scanner walks project trees. Safe for concurrent use; the gitignore
// matcher cache is shared across scans.
type Scanner struct {
	matchers *lru.Cache[string, *gitignore.Matcher]
	mu       sync.Mutex
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore matcher cache: %w", err)
	}
	return &Scanner{matchers: cache}, nil
}

// Scan streams indexable files under opts.Root. The returned channel
// closes when the walk finishes or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	out := make(chan Result, 64)
	go func() {
		defer close(out)
		s.walk(ctx, root, opts, maxSize, out)
	}()
	return out, nil
}

func (s *Scanner) walk(ctx context.Context, root string, opts Options, maxSize int64, out chan<- Result) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.excludeDir(rel, d.Name(), root, opts) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if s.excludeFile(rel, root, opts) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}
		if opts.SkipGenerated && isGenerated(path) {
			return nil
		}
		if len(opts.Include) > 0 && !matchAny(rel, opts.Include) {
			return nil
		}

		f := &FileInfo{
			Path:     rel,
			AbsPath:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: chunk.DetectLanguage(rel),
		}
		select {
		case out <- Result{File: f}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case out <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

// Check reports whether a single path would be picked up by a scan with
// the given options. The watcher uses it to filter change events.
func (s *Scanner) Check(root, rel string, opts Options) bool {
	rel = filepath.ToSlash(rel)
	for dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
		if s.excludeDir(dir, filepath.Base(dir), root, opts) {
			return false
		}
	}
	if s.excludeFile(rel, root, opts) {
		return false
	}
	if len(opts.Include) > 0 && !matchAny(rel, opts.Include) {
		return false
	}
	return true
}

func (s *Scanner) excludeDir(rel, name, root string, opts Options) bool {
	if alwaysExcludedDirs[name] {
		return true
	}
	for _, p := range opts.Exclude {
		if matchDir(rel, p) {
			return true
		}
	}
	if opts.RespectGitignore && s.ignored(rel, root, true) {
		return true
	}
	return false
}

func (s *Scanner) excludeFile(rel, root string, opts Options) bool {
	base := filepath.Base(rel)
	for _, p := range sensitivePatterns {
		if matchFile(base, rel, p) {
			return true
		}
	}
	for _, p := range opts.Exclude {
		if matchFile(base, rel, p) {
			return true
		}
	}
	if opts.RespectGitignore && s.ignored(rel, root, false) {
		return true
	}
	return false
}

// matchDir matches a directory path against one exclude pattern.
// Supported shapes: "**/name/**" (name anywhere), "name/**" (rooted
// prefix) and a bare path prefix.
func matchDir(rel, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(rel, "/") {
			if part == name {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}
	return rel == pattern || strings.HasPrefix(rel, pattern+"/")
}

// matchFile matches a file against one pattern: "**/*.ext" extension
// patterns, "dir/**" prefixes, glob base names, or exact names.
func matchFile(base, rel, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "**/"):
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			return strings.HasSuffix(base, strings.TrimPrefix(suffix, "*"))
		}
		if strings.HasSuffix(suffix, "/**") {
			return matchDir(rel, pattern)
		}
		ok, err := filepath.Match(suffix, base)
		return err == nil && ok
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(rel, prefix+"/")
	case strings.ContainsAny(pattern, "*?["):
		ok, err := filepath.Match(pattern, base)
		return err == nil && ok
	default:
		return base == pattern || rel == pattern
	}
}

func matchAny(rel string, patterns []string) bool {
	base := filepath.Base(rel)
	for _, p := range patterns {
		if matchFile(base, rel, p) || matchDir(rel, p) {
			return true
		}
	}
	return false
}

// ignored checks rel against the root .gitignore and every .gitignore
// on the path down to it.
func (s *Scanner) ignored(rel, root string, isDir bool) bool {
	if m := s.matcher(root, ""); m != nil && m.Match(rel, isDir) {
		return true
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	prefix := ""
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if prefix == "" {
			prefix = part
		} else {
			prefix = prefix + "/" + part
		}
		m := s.matcher(filepath.Join(root, filepath.FromSlash(prefix)), prefix)
		if m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

// matcher returns the cached gitignore matcher for dir, parsing the
// file on first use. Directories without a .gitignore cache nil.
func (s *Scanner) matcher(dir, base string) *gitignore.Matcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.matchers.Get(dir); ok {
		return m
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		s.matchers.Add(dir, nil)
		return nil
	}
	m := gitignore.New()
	if err := m.AddFromFile(path, base); err != nil {
		s.matchers.Add(dir, nil)
		return nil
	}
	s.matchers.Add(dir, m)
	return m
}

// InvalidateCache drops all cached gitignore matchers. Called when a
// .gitignore file changes.
func (s *Scanner) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchers.Purge()
}

// isBinary sniffs for a NUL byte in the first 512 bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

var generatedMarkers = [][]byte{
	[]byte("Code generated"),
	[]byte("DO NOT EDIT"),
	[]byte("@generated"),
	[]byte("Generated by"),
}

// isGenerated sniffs the first kilobyte for generated-code markers.
func isGenerated(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	for _, m := range generatedMarkers {
		if bytes.Contains(buf[:n], m) {
			return true
		}
	}
	return false
}
