package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/index"
)

func waitState(t *testing.T, j *Job, want JobState) {
	t.Helper()
	require.Eventually(t, func() bool { return j.State() == want },
		5*time.Second, 5*time.Millisecond)
}

func TestTrackerRunsJob(t *testing.T) {
	tr := NewTracker()
	j := tr.Start(context.Background(), "/proj", func(ctx context.Context) (*index.Result, error) {
		return &index.Result{FilesScanned: 3, FilesIndexed: 2, FilesSkipped: 1}, nil
	})
	require.NotEmpty(t, j.ID())
	waitState(t, j, JobDone)

	s := j.Snapshot()
	assert.Equal(t, 3, s.FilesScanned)
	assert.Equal(t, 2, s.FilesIndexed)
	assert.Equal(t, 1, s.FilesSkipped)
	assert.Empty(t, s.Error)
}

func TestTrackerFailedJob(t *testing.T) {
	tr := NewTracker()
	j := tr.Start(context.Background(), "/proj", func(ctx context.Context) (*index.Result, error) {
		return nil, errors.New("disk full")
	})
	waitState(t, j, JobFailed)
	assert.Contains(t, j.Snapshot().Error, "disk full")
}

func TestTrackerCancelledJob(t *testing.T) {
	tr := NewTracker()
	j := tr.Start(context.Background(), "/proj", func(ctx context.Context) (*index.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	j.Cancel()
	waitState(t, j, JobCancelled)
}

func TestTrackerDedupesRunningRoot(t *testing.T) {
	tr := NewTracker()
	release := make(chan struct{})
	fn := func(ctx context.Context) (*index.Result, error) {
		<-release
		return &index.Result{}, nil
	}
	first := tr.Start(context.Background(), "/proj", fn)
	second := tr.Start(context.Background(), "/proj", fn)
	assert.Equal(t, first.ID(), second.ID())

	other := tr.Start(context.Background(), "/other", fn)
	assert.NotEqual(t, first.ID(), other.ID())

	close(release)
	waitState(t, first, JobDone)
	waitState(t, other, JobDone)

	// The root is free again once its job finished.
	third := tr.Start(context.Background(), "/proj", func(ctx context.Context) (*index.Result, error) {
		return &index.Result{}, nil
	})
	assert.NotEqual(t, first.ID(), third.ID())
	waitState(t, third, JobDone)
}

func TestTrackerLookups(t *testing.T) {
	tr := NewTracker()
	j := tr.Start(context.Background(), "/proj", func(ctx context.Context) (*index.Result, error) {
		return &index.Result{}, nil
	})
	waitState(t, j, JobDone)

	assert.Same(t, j, tr.Get(j.ID()))
	assert.Nil(t, tr.Get("no-such-job"))
	assert.Same(t, j, tr.ForRoot("/proj"))
	assert.Nil(t, tr.ForRoot("/elsewhere"))

	snaps := tr.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, j.ID(), snaps[0].ID)
}

func TestTrackerPrunesFinished(t *testing.T) {
	tr := NewTracker()
	tr.keep = 2

	var jobs []*Job
	for i := 0; i < 4; i++ {
		j := tr.Start(context.Background(), string(rune('a'+i)), func(ctx context.Context) (*index.Result, error) {
			return &index.Result{}, nil
		})
		waitState(t, j, JobDone)
		jobs = append(jobs, j)
		time.Sleep(2 * time.Millisecond)
	}
	// One more start triggers the prune.
	last := tr.Start(context.Background(), "z", func(ctx context.Context) (*index.Result, error) {
		return &index.Result{}, nil
	})
	waitState(t, last, JobDone)

	assert.Nil(t, tr.Get(jobs[0].ID()))
	assert.NotNil(t, tr.Get(jobs[3].ID()))
}
