// Package async tracks background indexing jobs. The daemon's index
// method returns a job handle immediately; progress is polled through
// status calls.
package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/index"
)

// JobState is the lifecycle of one background job.
type JobState string

const (
	// JobRunning means the job is still working.
	JobRunning JobState = "running"
	// JobDone means the job finished cleanly.
	JobDone JobState = "done"
	// JobFailed means the job ended with an error.
	JobFailed JobState = "failed"
	// JobCancelled means the job's context was cancelled.
	JobCancelled JobState = "cancelled"
)

// Job is one background index run.
type Job struct {
	id   string
	root string

	cancel context.CancelFunc

	mu       sync.RWMutex
	state    JobState
	started  time.Time
	finished time.Time
	result   *index.Result
	errMsg   string
}

// Snapshot is an immutable view of a job, shaped for JSON transport.
type Snapshot struct {
	ID        string    `json:"id"`
	Root      string    `json:"root"`
	State     JobState  `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   string    `json:"elapsed"`

	FilesScanned int `json:"files_scanned,omitempty"`
	FilesIndexed int `json:"files_indexed,omitempty"`
	FilesSkipped int `json:"files_skipped,omitempty"`
	FilesRemoved int `json:"files_removed,omitempty"`
	FilesFailed  int `json:"files_failed,omitempty"`

	Error string `json:"error,omitempty"`
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.id }

// Root returns the project root the job indexes.
func (j *Job) Root() string { return j.root }

// State returns the current lifecycle state.
func (j *Job) State() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Cancel asks the job to stop. Committed work stays committed.
func (j *Job) Cancel() {
	j.cancel()
}

// Running reports whether the job is still in flight.
func (j *Job) Running() bool {
	return j.State() == JobRunning
}

// Snapshot copies the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	end := j.finished
	if end.IsZero() {
		end = time.Now()
	}
	s := Snapshot{
		ID:        j.id,
		Root:      j.root,
		State:     j.state,
		StartedAt: j.started,
		Elapsed:   end.Sub(j.started).Round(time.Millisecond).String(),
		Error:     j.errMsg,
	}
	if j.result != nil {
		s.FilesScanned = j.result.FilesScanned
		s.FilesIndexed = j.result.FilesIndexed
		s.FilesSkipped = j.result.FilesSkipped
		s.FilesRemoved = j.result.FilesRemoved
		s.FilesFailed = j.result.FilesFailed
	}
	return s
}

func (j *Job) finish(res *index.Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = time.Now()
	j.result = res
	switch {
	case err == nil:
		j.state = JobDone
	case errors.Is(err, context.Canceled):
		j.state = JobCancelled
		j.errMsg = err.Error()
	default:
		j.state = JobFailed
		j.errMsg = err.Error()
	}
}
