package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per update, suitable for pipes and CI
// logs.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	phase    Phase
	failures []Failure
}

// NewPlainRenderer creates a plain line renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

func (r *PlainRenderer) Start(context.Context) error { return nil }

func (r *PlainRenderer) Update(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Phase != r.phase {
		r.phase = p.Phase
		if p.Phase != PhaseDone {
			fmt.Fprintf(r.out, "[%s]\n", p.Phase.Tag())
		}
	}
	switch {
	case p.Total > 0:
		fmt.Fprintf(r.out, "[%s] %d/%d %s\n", p.Phase.Tag(), p.Current, p.Total, p.Path)
	case p.Path != "":
		fmt.Fprintf(r.out, "[%s] %s\n", p.Phase.Tag(), p.Path)
	}
}

func (r *PlainRenderer) Fail(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures = append(r.failures, f)
	fmt.Fprintf(r.out, "ERROR: %s: %v\n", f.Path, f.Err)
}

func (r *PlainRenderer) Done(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "Indexed %d files (%d unchanged, %d removed) in %s\n",
		s.FilesIndexed, s.FilesSkipped, s.FilesRemoved,
		s.Duration.Round(10*time.Millisecond))
	if s.FilesFailed > 0 {
		fmt.Fprintf(r.out, "%d files failed; see errors above\n", s.FilesFailed)
	}
}

func (r *PlainRenderer) Stop() error { return nil }
