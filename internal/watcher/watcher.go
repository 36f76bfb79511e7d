// Package watcher turns filesystem change notifications into debounced
// batches of per-path events. Bursts of saves coalesce into one event;
// renames surface as delete of the old path plus create of the new one.
// Batches feed the indexer's event loop over a channel, keeping event
// delivery decoupled from indexing.
package watcher

import (
	"time"
)

// Op is a filesystem change kind after coalescing.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
	// OpGitignore marks a .gitignore edit. The consumer reconciles the
	// index instead of reindexing one path.
	OpGitignore
	// OpConfig marks a project config edit (.quarry.{yaml,yml,toml}).
	OpConfig
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpGitignore:
		return "gitignore"
	case OpConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Event is one filesystem change, path relative to the watched root.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
	Time  time.Time
}

// Options configures a watcher.
type Options struct {
	// Debounce is the coalescing window before a batch is emitted.
	Debounce time.Duration

	// PollInterval drives the polling fallback when fsnotify is
	// unavailable.
	PollInterval time.Duration

	// BufferSize is the batch channel capacity. Full buffers drop
	// batches and count them rather than block the notifier.
	BufferSize int

	// Ignore adds gitignore-syntax patterns on top of the project's
	// .gitignore files.
	Ignore []string
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 256
	}
	return o
}
