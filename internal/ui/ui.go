// Package ui renders indexing progress and status output: a bubbletea
// TUI on interactive terminals, plain lines everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Phase is a step of an index run.
type Phase int

const (
	// PhaseScanning walks the tree collecting candidate files.
	PhaseScanning Phase = iota
	// PhaseIndexing chunks, embeds and stores files.
	PhaseIndexing
	// PhaseReconciling removes documents whose files vanished.
	PhaseReconciling
	// PhaseDone marks the run finished.
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseScanning:
		return "Scanning"
	case PhaseIndexing:
		return "Indexing"
	case PhaseReconciling:
		return "Reconciling"
	case PhaseDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Tag is the short phase marker for plain output.
func (p Phase) Tag() string {
	switch p {
	case PhaseScanning:
		return "SCAN"
	case PhaseIndexing:
		return "INDEX"
	case PhaseReconciling:
		return "SWEEP"
	case PhaseDone:
		return "DONE"
	default:
		return "???"
	}
}

// Progress is one progress update.
type Progress struct {
	Phase   Phase
	Current int
	Total   int
	Path    string
}

// Failure is one file that could not be indexed.
type Failure struct {
	Path string
	Err  error
}

// Summary is the final report of an index run.
type Summary struct {
	FilesScanned int
	FilesIndexed int
	FilesSkipped int
	FilesRemoved int
	FilesFailed  int
	Chunks       int
	Duration     time.Duration
}

// Renderer displays an index run.
type Renderer interface {
	Start(ctx context.Context) error
	Update(p Progress)
	Fail(f Failure)
	Done(s Summary)
	Stop() error
}

// Config selects and configures a renderer.
type Config struct {
	Output  io.Writer
	Plain   bool
	NoColor bool
	Root    string
}

// NewRenderer picks the renderer for the environment: plain for
// pipes, CI and --plain, TUI for interactive terminals.
func NewRenderer(cfg Config) Renderer {
	if cfg.Plain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor honors the NO_COLOR convention.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// DetectCI reports whether we appear to run under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"} {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}
