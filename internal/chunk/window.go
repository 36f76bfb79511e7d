package chunk

import (
	"context"
	"strings"
	"unicode/utf8"
)

// LineChunker splits files into fixed-height line windows with overlap.
// Window boundaries prefer blank lines near the nominal cut so chunks
// tend to end on paragraph or block boundaries.
type LineChunker struct {
	windowLines  int
	overlapLines int
	maxBytes     int
}

// LineChunkerOption configures a LineChunker.
type LineChunkerOption func(*LineChunker)

// WithWindowLines sets the chunk window height.
func WithWindowLines(n int) LineChunkerOption {
	return func(c *LineChunker) {
		if n > 0 {
			c.windowLines = n
		}
	}
}

// WithOverlapLines sets how many lines consecutive chunks share.
func WithOverlapLines(n int) LineChunkerOption {
	return func(c *LineChunker) {
		if n >= 0 {
			c.overlapLines = n
		}
	}
}

// WithMaxChunkBytes caps chunk size in bytes.
func WithMaxChunkBytes(n int) LineChunkerOption {
	return func(c *LineChunker) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// NewLineChunker creates a line-window chunker with the given options.
func NewLineChunker(opts ...LineChunkerOption) *LineChunker {
	c := &LineChunker{
		windowLines:  DefaultWindowLines,
		overlapLines: DefaultOverlapLines,
		maxBytes:     DefaultMaxChunkBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlapLines >= c.windowLines {
		c.overlapLines = c.windowLines / 2
	}
	return c
}

// line is one source line with its byte position.
type line struct {
	start int // Byte offset of the first character
	end   int // Byte offset past the content, excluding the newline
}

// splitLines records the byte extent of every line. The trailing newline
// belongs to no line; a final line without a newline is still a line.
func splitLines(content []byte) []line {
	var lines []line
	start := 0
	for i, b := range content {
		if b == '\n' {
			lines = append(lines, line{start: start, end: i})
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, line{start: start, end: len(content)})
	}
	return lines
}

// Chunk splits the file into overlapping line windows. Offsets index the
// original content; lines are 1-indexed with inclusive ends. An empty or
// whitespace-only file produces no chunks, not an error.
func (c *LineChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(file.Content) == 0 {
		return nil, nil
	}

	language := file.Language
	if language == "" {
		language = DetectLanguage(file.Path)
	}
	contentType := DetectContentType(file.Path)

	lines := splitLines(file.Content)
	if len(lines) == 0 {
		return nil, nil
	}

	var chunks []*Chunk
	seq := 0
	startLine := 0 // 0-based index into lines
	for startLine < len(lines) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		endLine := c.windowEnd(file.Content, lines, startLine)
		startByte := lines[startLine].start
		endByte := lines[endLine].end

		text := string(file.Content[startByte:endByte])
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, &Chunk{
				Seq:         seq,
				Content:     text,
				StartLine:   startLine + 1,
				EndLine:     endLine + 1,
				StartByte:   startByte,
				EndByte:     endByte,
				ContentType: contentType,
				Language:    language,
			})
			seq++
		}

		if endLine == len(lines)-1 {
			break
		}
		next := endLine + 1 - c.overlapLines
		if next <= startLine {
			next = startLine + 1
		}
		startLine = next
	}

	return chunks, nil
}

// windowEnd picks the last line (0-based, inclusive) of the window that
// starts at startLine. The nominal cut is windowLines down; a blank line
// in the last quarter of the window pulls the cut up to it. The byte cap
// overrides everything.
func (c *LineChunker) windowEnd(content []byte, lines []line, startLine int) int {
	nominal := startLine + c.windowLines - 1
	if nominal >= len(lines) {
		nominal = len(lines) - 1
	}

	// Byte cap for files with very long lines.
	startByte := lines[startLine].start
	end := startLine
	for end <= nominal {
		if lines[end].end-startByte > c.maxBytes && end > startLine {
			return end - 1
		}
		end++
	}

	if nominal == len(lines)-1 {
		return nominal
	}

	// Prefer a blank line near the nominal cut.
	searchFrom := startLine + (c.windowLines*3)/4
	for i := nominal; i >= searchFrom; i-- {
		l := lines[i]
		if isBlank(content[l.start:l.end]) {
			return i
		}
	}
	return nominal
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}

// Snippet returns the first lines of a chunk trimmed to a byte budget.
// The result is always valid UTF-8; a trim appends an ellipsis.
func Snippet(content string, maxLines, maxBytes int) string {
	if maxLines <= 0 || maxBytes <= 0 {
		return ""
	}

	end := len(content)
	seen := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			seen++
			if seen == maxLines {
				end = i
				break
			}
		}
	}
	s := content[:end]

	if len(s) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	return strings.TrimRight(s, " \t\r\n")
}
