package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// LexicalBackend selects the keyword search implementation.
type LexicalBackend string

const (
	// LexicalBackendFTS5 uses SQLite FTS5 (default). WAL mode permits
	// concurrent multi-process access.
	LexicalBackendFTS5 LexicalBackend = "fts5"

	// LexicalBackendBleve uses Bleve v2. BoltDB holds an exclusive file
	// lock, so a Bleve index serves a single process at a time.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// NewLexicalIndex creates a LexicalIndex using the named backend. The
// base path carries no extension; the backend appends .db or .bleve.
// An empty base path creates an in-memory index for testing.
func NewLexicalIndex(basePath string, config LexicalConfig, backend string) (LexicalIndex, error) {
	switch backend {
	case string(LexicalBackendFTS5), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewFTS5Index(path, config)

	case string(LexicalBackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveIndex(path, config)

	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: fts5, bleve)", backend)
	}
}

// DetectLexicalBackend reports which backend an existing index uses based
// on what's on disk, or empty if no index exists. Lets an index built
// under one configured backend keep opening with it.
func DetectLexicalBackend(basePath string) LexicalBackend {
	if fileExists(basePath + ".db") {
		return LexicalBackendFTS5
	}
	if dirExists(basePath + ".bleve") {
		return LexicalBackendBleve
	}
	return ""
}

// LexicalIndexPath returns the index file or directory for a backend
// inside the data directory.
func LexicalIndexPath(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "lexical")
	switch backend {
	case string(LexicalBackendBleve):
		return basePath + ".bleve"
	default:
		return basePath + ".db"
	}
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
