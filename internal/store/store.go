// Package store defines the persistent seen-set and run history shared by all pipeline runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/utils"
)

const descriptionLimit = 2000

var (
	ErrClosed   = errors.New("store is closed")
	ErrNotFound = errors.New("not found")
)

// SeenListing records that a listing identity has been processed for a user.
// There is at most one per (user, identity).
type SeenListing struct {
	UserID  string
	ID      string
	Listing listing.Listing

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	NotifiedAt  *time.Time
}

// RunRecord is written exactly once per pipeline invocation.
type RunRecord struct {
	ID       string
	UserID   string
	RunAt    time.Time
	Fetched  int
	New      int
	Matched  int
	Notified bool
	Error    string
	Duration time.Duration
}

type Stats struct {
	Tracked    int
	Notified   int
	Unnotified int
	Runs       int
	LastRun    *RunRecord
	BySource   map[string]int
}

// Store is the durable side of deduplication.
type Store interface {
	// Begin opens a short write transaction. Callers must not keep it open
	// across network calls: SQLite serializes every writer behind it.
	Begin(ctx context.Context) (Tx, error)
	// RecordRun writes a run record outside of any transaction. A record with
	// an existing ID replaces the stored one, so a run keeps exactly one.
	RecordRun(ctx context.Context, rec RunRecord) error
	Seen(ctx context.Context, userID, id string) (*SeenListing, error)
	Stats(ctx context.Context, userID string) (*Stats, error)
	Close() error
}

// Tx groups writes that must land together. Either all of them land or none.
type Tx interface {
	// ClassifyAndFilter returns the listings whose identity has not been seen for
	// the user, keeping the first occurrence of repeated identities. Known
	// identities get their last-seen time moved to at.
	ClassifyAndFilter(ctx context.Context, userID string, items []listing.Listing, at time.Time) ([]listing.Listing, error)
	// Persist records listings as seen with insert-if-absent semantics and
	// returns how many rows were created.
	Persist(ctx context.Context, userID string, items []listing.Listing, at time.Time) (int, error)
	// MarkNotified stamps notified-at on rows that do not have it yet.
	MarkNotified(ctx context.Context, userID string, ids []string, at time.Time) error
	RecordRun(ctx context.Context, rec RunRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Snapshot is the listing as it is persisted: UTC fetch time, bounded description.
func Snapshot(l listing.Listing) listing.Listing {
	l.Description = utils.Truncate(l.Description, descriptionLimit)
	if !l.FetchedAt.IsZero() {
		l.FetchedAt = l.FetchedAt.UTC()
	}
	return l
}

// UniqueByID drops later listings that repeat an identity already in the slice.
func UniqueByID(items []listing.Listing) ([]listing.Listing, []string) {
	out := make([]listing.Listing, 0, len(items))
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, l := range items {
		id := l.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, l)
		ids = append(ids, id)
	}
	return out, ids
}
