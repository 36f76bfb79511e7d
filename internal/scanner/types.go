// Package scanner discovers indexable files under a project root,
// honoring exclude patterns, .gitignore rules and a binary-content
// sniff. Results stream over a channel so large trees never buffer
// fully in memory.
package scanner

import (
	"time"
)

// DefaultMaxFileSize caps file size when the caller passes none.
const DefaultMaxFileSize = 1 << 20 // 1 MiB

// FileInfo describes one discovered file.
type FileInfo struct {
	Path     string // Relative to the project root, slash-separated
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string // Empty when the extension is unknown
}

// Result is one item from the scan stream: a file or a walk error.
// Per-file access errors are skipped, not reported; only a failure of
// the walk itself surfaces here.
type Result struct {
	File *FileInfo
	Err  error
}

// Options configures a scan.
type Options struct {
	// Root is the project root directory. Required.
	Root string

	// Include limits the scan to matching paths when non-empty.
	Include []string

	// Exclude lists patterns to skip, on top of the built-in defaults.
	Exclude []string

	// RespectGitignore applies .gitignore rules, including nested files.
	RespectGitignore bool

	// MaxFileSize skips files larger than this many bytes.
	// Zero means DefaultMaxFileSize.
	MaxFileSize int64

	// SkipGenerated skips files carrying a generated-code marker in
	// their first kilobyte.
	SkipGenerated bool
}

// alwaysExcludedDirs are never scanned regardless of configuration.
// The project's own data directory heads the list: indexing the index
// feeds every write back into the watcher.
var alwaysExcludedDirs = map[string]bool{
	".quarry":      true,
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

// sensitivePatterns match files that are never indexed, whatever the
// configuration says.
var sensitivePatterns = []string{
	".env", ".env.*", "*.pem", "*.key", "*.p12", "*.pfx",
	"*credentials*", "*secrets*", ".netrc", ".npmrc", ".pypirc",
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
}
