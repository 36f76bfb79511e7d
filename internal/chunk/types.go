// Package chunk splits files into retrievable units. The built-in
// chunker works on line windows; smarter boundary detection plugs in
// behind the Chunker interface.
package chunk

import (
	"context"
)

// Line window defaults
const (
	// DefaultWindowLines is the chunk window height
	DefaultWindowLines = 64

	// DefaultOverlapLines is how many lines consecutive chunks share
	DefaultOverlapLines = 8

	// DefaultMaxChunkBytes caps chunk size for files with very long
	// lines (minified bundles, data files)
	DefaultMaxChunkBytes = 16 * 1024
)

// ContentType classifies chunk content for ranking and display.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// FileInput is the input for the Chunker interface.
type FileInput struct {
	Path     string // relative to project root
	Content  []byte
	Language string // detected from the extension when empty
}

// Chunk is one retrievable window of a file.
//
// Content equals the source bytes in [StartByte, EndByte), without the
// trailing newline of the last line. Lines are 1-indexed and EndLine is
// inclusive.
type Chunk struct {
	Seq         int
	Content     string
	StartLine   int
	EndLine     int
	StartByte   int
	EndByte     int
	ContentType ContentType
	Language    string
}

// Chunker splits a file into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
}
