// Package telemetry collects local query metrics: latency buckets,
// query shape counts, zero-result queries and term frequencies. All
// data stays in the project's data directory; nothing is reported
// anywhere.
package telemetry

import (
	"strings"
	"sync"
	"time"
)

// LatencyBucket is a coarse latency histogram bucket.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt10ms"
	BucketUnder50ms  LatencyBucket = "lt50ms"
	BucketUnder100ms LatencyBucket = "lt100ms"
	BucketUnder500ms LatencyBucket = "lt500ms"
	BucketSlow       LatencyBucket = "ge500ms"
)

// BucketFor maps a query latency onto its histogram bucket.
func BucketFor(d time.Duration) LatencyBucket {
	switch ms := d.Milliseconds(); {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketSlow
	}
}

// QueryEvent is one executed search query.
type QueryEvent struct {
	Query       string
	Shape       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// TermCount pairs a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an aggregated view of the collected metrics.
type Snapshot struct {
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultQueries int64                   `json:"zero_result_queries"`
	ShapeCounts       map[string]int64        `json:"shape_counts"`
	LatencyCounts     map[LatencyBucket]int64 `json:"latency_counts"`
	TopTerms          []TermCount             `json:"top_terms,omitempty"`
	RecentZeroResult  []string                `json:"recent_zero_result,omitempty"`
}

// ZeroResultRate is the fraction of queries that found nothing.
func (s *Snapshot) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultQueries) / float64(s.TotalQueries)
}

// zeroResultKeep bounds the in-memory zero-result ring.
const zeroResultKeep = 100

// defaultFlushInterval is how often buffered counters reach the store.
const defaultFlushInterval = time.Minute

// Metrics buffers query events in memory and periodically flushes them
// to an optional store. With a nil store it is purely in-memory, the
// disabled-telemetry mode.
type Metrics struct {
	mu sync.Mutex

	total      int64
	zeroTotal  int64
	shapes     map[string]int64
	latencies  map[LatencyBucket]int64
	terms      map[string]int64
	zeroRecent []string

	store    MetricsStore
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// MetricsStore persists aggregated counters between runs.
type MetricsStore interface {
	SaveShapeCounts(date string, counts map[string]int64) error
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	UpsertTermCounts(terms map[string]int64) error
	AddZeroResultQuery(query string, ts time.Time) error

	TopTerms(limit int) ([]TermCount, error)
	ZeroResultQueries(limit int) ([]string, error)
	ShapeCounts(from, to string) (map[string]int64, error)
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
}

// NewMetrics creates a collector. A nil store disables persistence;
// events still aggregate in memory for the process lifetime.
func NewMetrics(store MetricsStore) *Metrics {
	m := &Metrics{
		shapes:    make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     make(map[string]int64),
		store:     store,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if store != nil {
		go m.flushLoop()
	} else {
		close(m.done)
	}
	return m
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Flush()
		}
	}
}

// Record aggregates one query event.
func (m *Metrics) Record(ev QueryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.total++
	m.shapes[ev.Shape]++
	m.latencies[BucketFor(ev.Latency)]++
	for _, term := range ExtractTerms(ev.Query) {
		m.terms[term]++
	}
	var zero bool
	if ev.ResultCount == 0 {
		zero = true
		m.zeroTotal++
		m.zeroRecent = append(m.zeroRecent, ev.Query)
		if len(m.zeroRecent) > zeroResultKeep {
			m.zeroRecent = m.zeroRecent[1:]
		}
	}
	m.mu.Unlock()

	if zero && m.store != nil {
		// Zero-result queries are the interesting ones; persist them
		// immediately rather than on the next flush.
		_ = m.store.AddZeroResultQuery(ev.Query, ev.Timestamp)
	}
}

// Snapshot aggregates the in-memory state, merged with the store's
// historical counters when one is configured.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	snap := &Snapshot{
		TotalQueries:      m.total,
		ZeroResultQueries: m.zeroTotal,
		ShapeCounts:       make(map[string]int64, len(m.shapes)),
		LatencyCounts:     make(map[LatencyBucket]int64, len(m.latencies)),
		RecentZeroResult:  append([]string(nil), m.zeroRecent...),
	}
	for k, v := range m.shapes {
		snap.ShapeCounts[k] = v
	}
	for k, v := range m.latencies {
		snap.LatencyCounts[k] = v
	}
	terms := make(map[string]int64, len(m.terms))
	for k, v := range m.terms {
		terms[k] = v
	}
	m.mu.Unlock()

	if m.store != nil {
		if top, err := m.store.TopTerms(20); err == nil {
			snap.TopTerms = top
		}
	}
	if len(snap.TopTerms) == 0 {
		snap.TopTerms = topTermsFrom(terms, 20)
	}
	return snap
}

func topTermsFrom(terms map[string]int64, limit int) []TermCount {
	out := make([]TermCount, 0, len(terms))
	for t, c := range terms {
		out = append(out, TermCount{Term: t, Count: c})
	}
	// Insertion sort is fine at this size.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && (out[j].Count > out[j-1].Count ||
			(out[j].Count == out[j-1].Count && out[j].Term < out[j-1].Term)); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Flush drains the buffered counters into the store. A nil store makes
// this a no-op.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	shapes := m.shapes
	latencies := m.latencies
	terms := m.terms
	m.shapes = make(map[string]int64)
	m.latencies = make(map[LatencyBucket]int64)
	m.terms = make(map[string]int64)
	m.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if len(shapes) > 0 {
		record(m.store.SaveShapeCounts(date, shapes))
	}
	if len(latencies) > 0 {
		record(m.store.SaveLatencyCounts(date, latencies))
	}
	record(m.store.UpsertTermCounts(terms))
	return first
}

// Close stops the flush loop and performs a final flush.
func (m *Metrics) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
	return m.Flush()
}

// stopwords are skipped when extracting query terms.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "from": true,
	"how": true, "in": true, "is": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "what": true, "where": true,
	"with": true,
}

// ExtractTerms splits a query into lowercase terms, dropping
// stopwords and single characters.
func ExtractTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
