package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LogEntry is a parsed JSON log line.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Attrs   map[string]any `json:"-"`
	Raw     string         `json:"-"`
	IsValid bool           `json:"-"`
}

// ParseLine parses one JSON log line. Unparseable lines are returned
// verbatim with IsValid false so the viewer never hides output.
func ParseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return entry
	}
	entry.IsValid = true

	if ts, ok := m["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = t
		}
	}
	if lvl, ok := m["level"].(string); ok {
		entry.Level = lvl
	}
	if msg, ok := m["msg"].(string); ok {
		entry.Msg = msg
	}

	delete(m, "time")
	delete(m, "level")
	delete(m, "msg")
	entry.Attrs = m
	return entry
}

// Viewer reads and filters daemon log files for the logs command.
type Viewer struct {
	minLevel string
	out      io.Writer
}

// NewViewer creates a viewer writing filtered entries to out.
// level filters entries below the given level; empty shows everything.
func NewViewer(level string, out io.Writer) *Viewer {
	return &Viewer{minLevel: strings.ToUpper(level), out: out}
}

// Tail prints the last n matching entries of the file.
func (v *Viewer) Tail(path string, n int) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		v.print(ParseLine(line))
	}
	return nil
}

// Follow tails the file until ctx is cancelled, printing new entries as
// they are appended.
func (v *Viewer) Follow(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			v.print(ParseLine(strings.TrimRight(line, "\n")))
			continue
		}
		if err != io.EOF {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (v *Viewer) print(entry LogEntry) {
	if !entry.IsValid {
		fmt.Fprintln(v.out, entry.Raw)
		return
	}
	if !v.levelAllowed(entry.Level) {
		return
	}
	ts := entry.Time.Format("15:04:05.000")
	fmt.Fprintf(v.out, "%s %-5s %s", ts, entry.Level, entry.Msg)
	for k, val := range entry.Attrs {
		fmt.Fprintf(v.out, " %s=%v", k, val)
	}
	fmt.Fprintln(v.out)
}

func (v *Viewer) levelAllowed(level string) bool {
	if v.minLevel == "" {
		return true
	}
	return levelRank(strings.ToUpper(level)) >= levelRank(v.minLevel)
}

func levelRank(level string) int {
	switch level {
	case "DEBUG":
		return 0
	case "INFO":
		return 1
	case "WARN", "WARNING":
		return 2
	case "ERROR":
		return 3
	default:
		return 1
	}
}
