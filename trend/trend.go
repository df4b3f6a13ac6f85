// Package trend persists admitted-item history to Postgres for cross-date
// trend analysis. The sink is advisory: the pipeline never blocks or fails
// on trend errors, and an unconfigured sink is a no-op.
package trend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/seamline-io/conveyor/types"
)

// Schema is the DDL for the trend tables. Applied by EnsureSchema; safe to
// run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS admitted_items (
    dedup_key   TEXT PRIMARY KEY,
    source_id   TEXT NOT NULL,
    title       TEXT NOT NULL,
    url         TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    theme       TEXT NOT NULL DEFAULT '',
    mean_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
    seen_at     TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS admitted_items_seen_at_idx ON admitted_items (seen_at);
CREATE INDEX IF NOT EXISTS admitted_items_theme_idx ON admitted_items (theme);
`

// DailyCount is the number of admitted items seen on one calendar day.
type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// ThemeCount is the number of admitted items recorded under one theme.
type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

// Store writes admitted items to Postgres and answers trend queries.
// A Store with a nil db is valid and ignores all calls.
type Store struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// Open connects to Postgres using the given DSN. An empty DSN returns a
// disabled store that silently drops writes.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return &Store{}, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("trend: open postgres: %w", err)
	}
	return New(db), nil
}

// New wires a store over an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: time.Now,
	}
}

// Enabled reports whether the store has a backing database.
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

// EnsureSchema creates the trend tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("trend: ensure schema: %w", err)
	}
	return nil
}

// RecordAdmitted upserts an admitted item. Replayed ingests touch the same
// dedup key, so conflicts refresh the score snapshot instead of erroring.
func (s *Store) RecordAdmitted(ctx context.Context, item types.Item) error {
	if !s.Enabled() {
		return nil
	}

	query, args, err := s.sb.
		Insert("admitted_items").
		Columns("dedup_key", "source_id", "title", "url", "source", "theme", "mean_score", "seen_at", "recorded_at").
		Values(
			item.DedupKey,
			item.SourceID,
			item.Title,
			item.URL,
			item.Source,
			item.Theme,
			item.Scores.Mean(types.RequiredMetrics),
			item.SeenAt.UTC(),
			s.now().UTC(),
		).
		Suffix(`ON CONFLICT (dedup_key) DO UPDATE
            SET mean_score = EXCLUDED.mean_score,
                recorded_at = EXCLUDED.recorded_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("trend: build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("trend: upsert admitted item: %w", err)
	}
	return nil
}

// DailyCounts returns admitted-item counts per day over the trailing window.
func (s *Store) DailyCounts(ctx context.Context, days int) ([]DailyCount, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if days <= 0 {
		days = 7
	}
	since := s.now().UTC().AddDate(0, 0, -days)

	query, args, err := s.sb.
		Select("TO_CHAR(seen_at, 'YYYY-MM-DD') AS day", "COUNT(*)").
		From("admitted_items").
		Where(sq.GtOrEq{"seen_at": since}).
		GroupBy("day").
		OrderBy("day").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("trend: build daily counts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("trend: query daily counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("trend: scan daily count: %w", err)
		}
		counts = append(counts, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trend: rows: %w", err)
	}
	return counts, nil
}

// TopThemes returns the most frequent themes over the trailing window.
func (s *Store) TopThemes(ctx context.Context, days, limit int) ([]ThemeCount, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 10
	}
	since := s.now().UTC().AddDate(0, 0, -days)

	query, args, err := s.sb.
		Select("theme", "COUNT(*)").
		From("admitted_items").
		Where(sq.GtOrEq{"seen_at": since}).
		Where(sq.NotEq{"theme": ""}).
		GroupBy("theme").
		OrderBy("COUNT(*) DESC", "theme").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("trend: build top themes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("trend: query top themes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []ThemeCount
	for rows.Next() {
		var tc ThemeCount
		if err := rows.Scan(&tc.Theme, &tc.Count); err != nil {
			return nil, fmt.Errorf("trend: scan theme count: %w", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trend: rows: %w", err)
	}
	return counts, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}
