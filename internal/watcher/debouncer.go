package watcher

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Debouncer coalesces per-path events over a window so a burst of saves
// becomes one reindex. Sequences for one path merge as:
//
//	create+modify → create
//	create+delete → dropped
//	modify+delete → delete
//	delete+create → modify
type Debouncer struct {
	window  time.Duration
	out     chan []Event
	dropped atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pending
	timer   *time.Timer
	stopped bool
}

type pending struct {
	event   Event
	firstOp Op
}

// NewDebouncer creates a debouncer emitting batches on Output after
// each quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		out:     make(chan []Event, 16),
		pending: make(map[string]*pending),
	}
}

// Add queues an event for coalescing.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if p, ok := d.pending[ev.Path]; ok {
		merged, keep := coalesce(p, ev)
		if !keep {
			delete(d.pending, ev.Path)
		} else {
			p.event = merged
		}
	} else {
		d.pending[ev.Path] = &pending{event: ev, firstOp: ev.Op}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges a new event into the pending one for the same path.
// The second return is false when the pair cancels out.
func coalesce(p *pending, ev Event) (Event, bool) {
	switch p.firstOp {
	case OpCreate:
		switch ev.Op {
		case OpModify:
			return p.event, true
		case OpDelete:
			return Event{}, false
		}
	case OpDelete:
		if ev.Op == OpCreate {
			ev.Op = OpModify
			return ev, true
		}
	}
	return ev, true
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, p := range d.pending {
		batch = append(batch, p.event)
	}
	d.pending = make(map[string]*pending)

	select {
	case d.out <- batch:
	default:
		n := d.dropped.Add(1)
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("dropped", n))
	}
}

// Output returns the batch channel. Closed by Stop.
func (d *Debouncer) Output() <-chan []Event {
	return d.out
}

// Dropped reports batches lost to a full output channel.
func (d *Debouncer) Dropped() uint64 {
	return d.dropped.Load()
}

// Stop discards pending events and closes Output. Idempotent.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
