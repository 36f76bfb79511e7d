package async

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarrysearch/quarry/internal/index"
)

// defaultKeepFinished bounds how many finished jobs stay pollable.
const defaultKeepFinished = 32

// IndexFunc performs the actual index run.
type IndexFunc func(ctx context.Context) (*index.Result, error)

// Tracker launches and tracks background jobs.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*Job
	keep int
}

// NewTracker creates a Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*Job),
		keep: defaultKeepFinished,
	}
}

// Start launches fn in the background and returns its job handle
// immediately. A job already running for the same root is returned
// instead of starting a second writer.
func (t *Tracker) Start(ctx context.Context, root string, fn IndexFunc) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, j := range t.jobs {
		if j.root == root && j.State() == JobRunning {
			return j
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &Job{
		id:      uuid.NewString(),
		root:    root,
		cancel:  cancel,
		state:   JobRunning,
		started: time.Now(),
	}
	t.jobs[j.id] = j
	t.pruneLocked()

	go func() {
		defer cancel()
		res, err := fn(jobCtx)
		j.finish(res, err)
	}()
	return j
}

// Get returns a job by ID, or nil.
func (t *Tracker) Get(id string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[id]
}

// ForRoot returns the most recently started job for a project root,
// or nil.
func (t *Tracker) ForRoot(root string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var latest *Job
	for _, j := range t.jobs {
		if j.root != root {
			continue
		}
		if latest == nil || j.started.After(latest.started) {
			latest = j
		}
	}
	return latest
}

// Snapshots returns every tracked job, newest first.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].StartedAt.After(out[k].StartedAt)
	})
	return out
}

// CancelAll stops every running job.
func (t *Tracker) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.State() == JobRunning {
			j.cancel()
		}
	}
}

// pruneLocked drops the oldest finished jobs beyond the retention cap.
func (t *Tracker) pruneLocked() {
	var finished []*Job
	for _, j := range t.jobs {
		if j.State() != JobRunning {
			finished = append(finished, j)
		}
	}
	if len(finished) <= t.keep {
		return
	}
	sort.Slice(finished, func(i, k int) bool {
		return finished[i].started.Before(finished[k].started)
	})
	for _, j := range finished[:len(finished)-t.keep] {
		delete(t.jobs, j.id)
	}
}
