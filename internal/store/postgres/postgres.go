// Package postgres implements the store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_listings (
	user_id TEXT NOT NULL,
	listing_id CHAR(64) NOT NULL,
	title TEXT NOT NULL,
	company TEXT NOT NULL,
	url TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	salary TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	posted_date TEXT NOT NULL DEFAULT '',
	job_type TEXT NOT NULL DEFAULT '',
	remote BOOLEAN NOT NULL DEFAULT FALSE,
	score DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ,
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	notified_at TIMESTAMPTZ,
	PRIMARY KEY (user_id, listing_id)
);

CREATE INDEX IF NOT EXISTS idx_seen_listings_notified ON seen_listings(user_id, notified_at);

CREATE TABLE IF NOT EXISTS run_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	run_at TIMESTAMPTZ NOT NULL,
	fetched INTEGER NOT NULL DEFAULT 0,
	new_count INTEGER NOT NULL DEFAULT 0,
	matched INTEGER NOT NULL DEFAULT 0,
	notified BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_records_user ON run_records(user_id, run_at DESC);
`

// NewPostgresPool creates and verifies a pgxpool connection pool.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}

// DB is a store backed by a pgx pool.
type DB struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Open connects to databaseURL and creates the schema when missing.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := NewPostgresPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (d *DB) Close() error {
	if !d.closed.Swap(true) {
		d.pool.Close()
	}
	return nil
}

func (d *DB) Begin(ctx context.Context) (store.Tx, error) {
	if d.closed.Load() {
		return nil, store.ErrClosed
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (d *DB) RecordRun(ctx context.Context, rec store.RunRecord) error {
	if d.closed.Load() {
		return store.ErrClosed
	}
	return recordRun(ctx, d.pool, rec)
}

func (d *DB) Seen(ctx context.Context, userID, id string) (*store.SeenListing, error) {
	if d.closed.Load() {
		return nil, store.ErrClosed
	}

	var (
		s         store.SeenListing
		fetchedAt *time.Time
	)
	err := d.pool.QueryRow(ctx, `
	SELECT user_id, listing_id, title, company, url, location, description, salary,
	       source, posted_date, job_type, remote, score, reason, fetched_at,
	       first_seen_at, last_seen_at, notified_at
	FROM seen_listings
	WHERE user_id = $1 AND listing_id = $2`, userID, id).Scan(
		&s.UserID, &s.ID, &s.Listing.Title, &s.Listing.Company, &s.Listing.URL,
		&s.Listing.Location, &s.Listing.Description, &s.Listing.Salary,
		&s.Listing.Source, &s.Listing.PostedDate, &s.Listing.JobType, &s.Listing.Remote,
		&s.Listing.Score, &s.Listing.Reason, &fetchedAt,
		&s.FirstSeenAt, &s.LastSeenAt, &s.NotifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get seen listing: %w", err)
	}
	if fetchedAt != nil {
		s.Listing.FetchedAt = *fetchedAt
	}
	return &s, nil
}

func (d *DB) Stats(ctx context.Context, userID string) (*store.Stats, error) {
	if d.closed.Load() {
		return nil, store.ErrClosed
	}

	stats := &store.Stats{BySource: make(map[string]int)}

	err := d.pool.QueryRow(ctx, `
	SELECT COUNT(*), COUNT(notified_at)
	FROM seen_listings WHERE user_id = $1`, userID).Scan(&stats.Tracked, &stats.Notified)
	if err != nil {
		return nil, fmt.Errorf("count seen listings: %w", err)
	}
	stats.Unnotified = stats.Tracked - stats.Notified

	rows, err := d.pool.Query(ctx, `
	SELECT source, COUNT(*) FROM seen_listings
	WHERE user_id = $1 GROUP BY source ORDER BY source`, userID)
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source string
			count  int
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		stats.BySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM run_records WHERE user_id = $1`, userID).Scan(&stats.Runs); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	if stats.Runs > 0 {
		var (
			rec      store.RunRecord
			errText  *string
			duration int64
		)
		err := d.pool.QueryRow(ctx, `
		SELECT id, user_id, run_at, fetched, new_count, matched, notified, error, duration_ms
		FROM run_records WHERE user_id = $1
		ORDER BY run_at DESC LIMIT 1`, userID).Scan(
			&rec.ID, &rec.UserID, &rec.RunAt, &rec.Fetched, &rec.New, &rec.Matched,
			&rec.Notified, &errText, &duration,
		)
		if err != nil {
			return nil, fmt.Errorf("get last run: %w", err)
		}
		if errText != nil {
			rec.Error = *errText
		}
		rec.Duration = time.Duration(duration) * time.Millisecond
		stats.LastRun = &rec
	}

	return stats, nil
}

// Tx is one run's transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) ClassifyAndFilter(ctx context.Context, userID string, items []listing.Listing, at time.Time) ([]listing.Listing, error) {
	unique, ids := store.UniqueByID(items)
	if len(ids) == 0 {
		return unique, nil
	}

	rows, err := t.tx.Query(ctx, `
	UPDATE seen_listings SET last_seen_at = $3
	WHERE user_id = $1 AND listing_id = ANY($2)
	RETURNING listing_id`, userID, ids, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("touch seen listings: %w", err)
	}
	known, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("touch seen listings: %w", err)
	}

	seen := make(map[string]struct{}, len(known))
	for _, id := range known {
		seen[id] = struct{}{}
	}

	fresh := make([]listing.Listing, 0, len(unique)-len(known))
	for i, id := range ids {
		if _, ok := seen[id]; !ok {
			fresh = append(fresh, unique[i])
		}
	}
	return fresh, nil
}

func (t *Tx) Persist(ctx context.Context, userID string, items []listing.Listing, at time.Time) (int, error) {
	batch := &pgx.Batch{}
	for _, item := range items {
		l := store.Snapshot(item)
		var fetchedAt *time.Time
		if !l.FetchedAt.IsZero() {
			fetchedAt = &l.FetchedAt
		}
		batch.Queue(`
		INSERT INTO seen_listings (
			user_id, listing_id, title, company, url, location, description, salary,
			source, posted_date, job_type, remote, score, reason, fetched_at,
			first_seen_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (user_id, listing_id) DO NOTHING`,
			userID, l.ID(), l.Title, l.Company, l.URL, l.Location, l.Description, l.Salary,
			l.Source, l.PostedDate, l.JobType, l.Remote, l.Score, l.Reason, fetchedAt, at.UTC(),
		)
	}

	results := t.tx.SendBatch(ctx, batch)
	inserted := 0
	for range items {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return inserted, fmt.Errorf("insert seen listing: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return inserted, fmt.Errorf("insert seen listings: %w", err)
	}

	return inserted, nil
}

func (t *Tx) MarkNotified(ctx context.Context, userID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
	UPDATE seen_listings SET notified_at = $3
	WHERE user_id = $1 AND listing_id = ANY($2) AND notified_at IS NULL`, userID, ids, at.UTC())
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (t *Tx) RecordRun(ctx context.Context, rec store.RunRecord) error {
	return recordRun(ctx, t.tx, rec)
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func recordRun(ctx context.Context, db execer, rec store.RunRecord) error {
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}
	_, err := db.Exec(ctx, `
	INSERT INTO run_records (id, user_id, run_at, fetched, new_count, matched, notified, error, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		fetched = EXCLUDED.fetched,
		new_count = EXCLUDED.new_count,
		matched = EXCLUDED.matched,
		notified = EXCLUDED.notified,
		error = EXCLUDED.error,
		duration_ms = EXCLUDED.duration_ms`,
		rec.ID, rec.UserID, rec.RunAt.UTC(), rec.Fetched, rec.New, rec.Matched,
		rec.Notified, errText, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert run record: %w", err)
	}
	return nil
}
