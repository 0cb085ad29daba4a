// Package sqlite implements the store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_listings (
	user_id TEXT NOT NULL,
	listing_id TEXT NOT NULL,
	title TEXT NOT NULL,
	company TEXT NOT NULL,
	url TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	salary TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	posted_date TEXT NOT NULL DEFAULT '',
	job_type TEXT NOT NULL DEFAULT '',
	remote BOOLEAN NOT NULL DEFAULT 0,
	score REAL NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMP,
	first_seen_at TIMESTAMP NOT NULL,
	last_seen_at TIMESTAMP NOT NULL,
	notified_at TIMESTAMP,
	PRIMARY KEY (user_id, listing_id)
);

CREATE INDEX IF NOT EXISTS idx_seen_listings_notified ON seen_listings(user_id, notified_at);

CREATE TABLE IF NOT EXISTS run_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	run_at TIMESTAMP NOT NULL,
	fetched INTEGER NOT NULL DEFAULT 0,
	new_count INTEGER NOT NULL DEFAULT 0,
	matched INTEGER NOT NULL DEFAULT 0,
	notified BOOLEAN NOT NULL DEFAULT 0,
	error TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_records_user ON run_records(user_id, run_at);
`

// DB is a store backed by SQLite.
type DB struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens or creates the database at path. Use "file::memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !strings.Contains(path, ":memory:") {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Begin(ctx context.Context) (store.Tx, error) {
	if d.closed.Load() {
		return nil, store.ErrClosed
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (d *DB) RecordRun(ctx context.Context, rec store.RunRecord) error {
	if d.closed.Load() {
		return store.ErrClosed
	}
	return recordRun(ctx, d.db, rec)
}

func (d *DB) Seen(ctx context.Context, userID, id string) (*store.SeenListing, error) {
	if d.closed.Load() {
		return nil, store.ErrClosed
	}

	var (
		s          store.SeenListing
		fetchedAt  sql.NullTime
		notifiedAt sql.NullTime
	)
	err := d.db.QueryRowContext(ctx, `
	SELECT user_id, listing_id, title, company, url, location, description, salary,
	       source, posted_date, job_type, remote, score, reason, fetched_at,
	       first_seen_at, last_seen_at, notified_at
	FROM seen_listings
	WHERE user_id = ? AND listing_id = ?`, userID, id).Scan(
		&s.UserID, &s.ID, &s.Listing.Title, &s.Listing.Company, &s.Listing.URL,
		&s.Listing.Location, &s.Listing.Description, &s.Listing.Salary,
		&s.Listing.Source, &s.Listing.PostedDate, &s.Listing.JobType, &s.Listing.Remote,
		&s.Listing.Score, &s.Listing.Reason, &fetchedAt,
		&s.FirstSeenAt, &s.LastSeenAt, &notifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get seen listing: %w", err)
	}

	if fetchedAt.Valid {
		s.Listing.FetchedAt = fetchedAt.Time
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		s.NotifiedAt = &t
	}
	return &s, nil
}

func (d *DB) Stats(ctx context.Context, userID string) (*store.Stats, error) {
	if d.closed.Load() {
		return nil, store.ErrClosed
	}

	stats := &store.Stats{BySource: make(map[string]int)}

	err := d.db.QueryRowContext(ctx, `
	SELECT COUNT(*), COUNT(notified_at)
	FROM seen_listings WHERE user_id = ?`, userID).Scan(&stats.Tracked, &stats.Notified)
	if err != nil {
		return nil, fmt.Errorf("count seen listings: %w", err)
	}
	stats.Unnotified = stats.Tracked - stats.Notified

	rows, err := d.db.QueryContext(ctx, `
	SELECT source, COUNT(*) FROM seen_listings
	WHERE user_id = ? GROUP BY source ORDER BY source`, userID)
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

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_records WHERE user_id = ?`, userID).Scan(&stats.Runs); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	if stats.Runs > 0 {
		var (
			rec      store.RunRecord
			errText  sql.NullString
			duration int64
		)
		err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, run_at, fetched, new_count, matched, notified, error, duration_ms
		FROM run_records WHERE user_id = ?
		ORDER BY run_at DESC LIMIT 1`, userID).Scan(
			&rec.ID, &rec.UserID, &rec.RunAt, &rec.Fetched, &rec.New, &rec.Matched,
			&rec.Notified, &errText, &duration,
		)
		if err != nil {
			return nil, fmt.Errorf("get last run: %w", err)
		}
		rec.Error = errText.String
		rec.Duration = time.Duration(duration) * time.Millisecond
		stats.LastRun = &rec
	}

	return stats, nil
}

// Tx is one run's transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) ClassifyAndFilter(ctx context.Context, userID string, items []listing.Listing, at time.Time) ([]listing.Listing, error) {
	unique, ids := store.UniqueByID(items)

	stmt, err := t.tx.PrepareContext(ctx, `
	UPDATE seen_listings SET last_seen_at = ?
	WHERE user_id = ? AND listing_id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare classify: %w", err)
	}
	defer stmt.Close()

	fresh := make([]listing.Listing, 0, len(unique))
	for i, id := range ids {
		res, err := stmt.ExecContext(ctx, at.UTC(), userID, id)
		if err != nil {
			return nil, fmt.Errorf("touch seen listing: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("touch seen listing: %w", err)
		}
		if affected == 0 {
			fresh = append(fresh, unique[i])
		}
	}

	return fresh, nil
}

func (t *Tx) Persist(ctx context.Context, userID string, items []listing.Listing, at time.Time) (int, error) {
	stmt, err := t.tx.PrepareContext(ctx, `
	INSERT INTO seen_listings (
		user_id, listing_id, title, company, url, location, description, salary,
		source, posted_date, job_type, remote, score, reason, fetched_at,
		first_seen_at, last_seen_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, listing_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare persist: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, item := range items {
		l := store.Snapshot(item)
		var fetchedAt any
		if !l.FetchedAt.IsZero() {
			fetchedAt = l.FetchedAt
		}
		res, err := stmt.ExecContext(ctx,
			userID, l.ID(), l.Title, l.Company, l.URL, l.Location, l.Description, l.Salary,
			l.Source, l.PostedDate, l.JobType, l.Remote, l.Score, l.Reason, fetchedAt,
			at.UTC(), at.UTC(),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert seen listing: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	return inserted, nil
}

func (t *Tx) MarkNotified(ctx context.Context, userID string, ids []string, at time.Time) error {
	stmt, err := t.tx.PrepareContext(ctx, `
	UPDATE seen_listings SET notified_at = ?
	WHERE user_id = ? AND listing_id = ? AND notified_at IS NULL`)
	if err != nil {
		return fmt.Errorf("prepare mark notified: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, at.UTC(), userID, id); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
	}
	return nil
}

func (t *Tx) RecordRun(ctx context.Context, rec store.RunRecord) error {
	return recordRun(ctx, t.tx, rec)
}

func (t *Tx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *Tx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordRun(ctx context.Context, db execer, rec store.RunRecord) error {
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}
	_, err := db.ExecContext(ctx, `
	INSERT INTO run_records (id, user_id, run_at, fetched, new_count, matched, notified, error, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		fetched = excluded.fetched,
		new_count = excluded.new_count,
		matched = excluded.matched,
		notified = excluded.notified,
		error = excluded.error,
		duration_ms = excluded.duration_ms`,
		rec.ID, rec.UserID, rec.RunAt.UTC(), rec.Fetched, rec.New, rec.Matched,
		rec.Notified, errText, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert run record: %w", err)
	}
	return nil
}
