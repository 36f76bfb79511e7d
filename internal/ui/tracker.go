package ui

import (
	"sync"
	"time"
)

// Tracker aggregates progress updates for rendering: phase, counts,
// throughput and ETA.
type Tracker struct {
	mu sync.RWMutex

	phase      Phase
	current    int
	total      int
	path       string
	started    time.Time
	phaseStart time.Time
	failures   []Failure
}

// TrackerStats is a point-in-time view of a Tracker.
type TrackerStats struct {
	Phase    Phase
	Current  int
	Total    int
	Path     string
	Fraction float64
	Rate     float64
	ETA      time.Duration
	Elapsed  time.Duration
	Failures int
}

// NewTracker creates a tracker; the clock starts immediately.
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{started: now, phaseStart: now}
}

// SetPhase moves to a new phase and resets the per-phase counters.
func (t *Tracker) SetPhase(phase Phase, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.current = 0
	t.total = total
	t.path = ""
	t.phaseStart = time.Now()
}

// Update records the current position within the phase.
func (t *Tracker) Update(current int, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = current
	if path != "" {
		t.path = path
	}
}

// AddFailure records a failed file.
func (t *Tracker) AddFailure(f Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, f)
}

// Failures returns the recorded failures.
func (t *Tracker) Failures() []Failure {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Failure(nil), t.failures...)
}

// Stats snapshots the tracker.
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := TrackerStats{
		Phase:    t.phase,
		Current:  t.current,
		Total:    t.total,
		Path:     t.path,
		Elapsed:  time.Since(t.started),
		Failures: len(t.failures),
	}
	if t.total > 0 {
		s.Fraction = float64(t.current) / float64(t.total)
		if s.Fraction > 1 {
			s.Fraction = 1
		}
	}
	phaseElapsed := time.Since(t.phaseStart)
	if t.current > 0 && phaseElapsed > 0 {
		s.Rate = float64(t.current) / phaseElapsed.Seconds()
		if remaining := t.total - t.current; remaining > 0 && s.Rate > 0 {
			s.ETA = time.Duration(float64(remaining)/s.Rate) * time.Second
		}
	}
	return s
}
