package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// LockFileName is the cross-process lock file inside the project data
// directory.
const LockFileName = "index.lock"

// ProjectLock is the cross-process single-writer lock for one project.
// The in-process serialization the daemon does is not enough when a
// direct CLI run and a daemon share the project.
type ProjectLock struct {
	fl *flock.Flock
}

// AcquireProjectLock takes the writer lock non-blockingly. A held lock
// returns ErrCodeIndexBusy so callers can report who to wait for
// instead of deadlocking two writers.
func AcquireProjectLock(dataDir string) (*ProjectLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fl := flock.New(filepath.Join(dataDir, LockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire project lock: %w", err)
	}
	if !locked {
		return nil, qerrors.New(qerrors.ErrCodeIndexBusy,
			"another indexing run holds the project lock", nil).
			WithDetail("lock_file", fl.Path()).
			WithSuggestion("wait for the running index operation to finish")
	}
	return &ProjectLock{fl: fl}, nil
}

// Release drops the lock. Idempotent.
func (l *ProjectLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
