package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteMetricsStore persists query metrics in a small standalone
// database next to the index, so metric writes never contend with the
// chunk store's writer.
type SQLiteMetricsStore struct {
	db *sql.DB
}

const metricsSchema = `
CREATE TABLE IF NOT EXISTS query_shape_stats (
	date  TEXT NOT NULL,
	shape TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, shape)
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 1,
	last_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	query     TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);
`

// zeroResultRows bounds the zero-result table, oldest rows trimmed
// first.
const zeroResultRows = 100

// OpenSQLiteMetricsStore opens (or creates) the metrics database at
// path.
func OpenSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(metricsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create metrics schema: %w", err)
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// SaveShapeCounts adds the given counts to the day's totals.
func (s *SQLiteMetricsStore) SaveShapeCounts(date string, counts map[string]int64) error {
	return s.upsertCounts(
		`INSERT INTO query_shape_stats (date, shape, count) VALUES (?, ?, ?)
		 ON CONFLICT(date, shape) DO UPDATE SET count = count + excluded.count`,
		date, counts)
}

// SaveLatencyCounts adds the given bucket counts to the day's totals.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	converted := make(map[string]int64, len(counts))
	for b, c := range counts {
		converted[string(b)] = c
	}
	return s.upsertCounts(
		`INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
		 ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
		date, converted)
}

func (s *SQLiteMetricsStore) upsertCounts(query, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer tx.Rollback()

	for key, count := range counts {
		if _, err := tx.Exec(query, date, key, count); err != nil {
			return fmt.Errorf("upsert metrics count: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertTermCounts merges term frequencies into the running totals.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for term, count := range terms {
		_, err := tx.Exec(
			`INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
			 ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = excluded.last_seen`,
			term, count, now)
		if err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}
	return tx.Commit()
}

// AddZeroResultQuery records a query that found nothing, keeping only
// the most recent entries.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, ts time.Time) error {
	if _, err := s.db.Exec(
		`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`,
		query, ts.UnixNano()); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	_, err := s.db.Exec(
		`DELETE FROM zero_result_queries WHERE id NOT IN (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
		zeroResultRows)
	if err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// TopTerms returns the most frequent query terms.
func (s *SQLiteMetricsStore) TopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(
		`SELECT term, count FROM query_terms ORDER BY count DESC, term ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var out []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ZeroResultQueries returns the most recent queries with no results.
func (s *SQLiteMetricsStore) ZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ShapeCounts sums per-shape counts over an inclusive date range.
func (s *SQLiteMetricsStore) ShapeCounts(from, to string) (map[string]int64, error) {
	return s.sumCounts(
		`SELECT shape, SUM(count) FROM query_shape_stats
		 WHERE date >= ? AND date <= ? GROUP BY shape`, from, to)
}

// LatencyCounts sums per-bucket counts over an inclusive date range.
func (s *SQLiteMetricsStore) LatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	raw, err := s.sumCounts(
		`SELECT bucket, SUM(count) FROM query_latency_stats
		 WHERE date >= ? AND date <= ? GROUP BY bucket`, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[LatencyBucket]int64, len(raw))
	for k, v := range raw {
		out[LatencyBucket(k)] = v
	}
	return out, nil
}

func (s *SQLiteMetricsStore) sumCounts(query, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query metrics counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}

// Close closes the metrics database.
func (s *SQLiteMetricsStore) Close() error {
	return s.db.Close()
}
