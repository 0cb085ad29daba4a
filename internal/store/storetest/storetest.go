// Package storetest holds the behaviour every store implementation must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("classify returns new once", func(t *testing.T) { testIdempotence(t, newStore(t)) })
	t.Run("reobserved listings are touched", func(t *testing.T) { testReobserve(t, newStore(t)) })
	t.Run("same identity across sources", func(t *testing.T) { testCrossSource(t, newStore(t)) })
	t.Run("mark notified and stats", func(t *testing.T) { testNotifiedStats(t, newStore(t)) })
	t.Run("run record is replaced by id", func(t *testing.T) { testRecordReplace(t, newStore(t)) })
	t.Run("rollback discards writes", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("users are isolated", func(t *testing.T) { testUserIsolation(t, newStore(t)) })
	t.Run("closed store", func(t *testing.T) { testClosed(t, newStore(t)) })
}

// Listings returns n distinct listings.
func Listings(n int) []listing.Listing {
	items := make([]listing.Listing, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, listing.Listing{
			Title:       fmt.Sprintf("Engineer %d", i),
			Company:     "Acme",
			URL:         fmt.Sprintf("https://acme.example/jobs/%d", i),
			Source:      "adzuna",
			Description: "Go and Postgres",
			FetchedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		})
	}
	return items
}

func ts(minutes int) time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

func runInTx(t *testing.T, s store.Store, fn func(tx store.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	fn(tx)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func testIdempotence(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Listings(1)

	runInTx(t, s, func(tx store.Tx) {
		fresh, err := tx.ClassifyAndFilter(ctx, "alice", append(items, items...), ts(0))
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if len(fresh) != 1 {
			t.Fatalf("expected repeated identity to collapse to 1 new listing, got %d", len(fresh))
		}

		n, err := tx.Persist(ctx, "alice", items, ts(0))
		if err != nil || n != 1 {
			t.Fatalf("expected 1 inserted row, got %d, %v", n, err)
		}
		n, err = tx.Persist(ctx, "alice", items, ts(1))
		if err != nil || n != 0 {
			t.Fatalf("expected second persist to be a no-op, got %d, %v", n, err)
		}
	})

	runInTx(t, s, func(tx store.Tx) {
		fresh, err := tx.ClassifyAndFilter(ctx, "alice", items, ts(5))
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if len(fresh) != 0 {
			t.Fatalf("expected no new listings on the second run, got %d", len(fresh))
		}
	})

	stats, err := s.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Tracked != 1 {
		t.Fatalf("expected one seen row, got %d", stats.Tracked)
	}
}

func testReobserve(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Listings(10)

	runInTx(t, s, func(tx store.Tx) {
		fresh, err := tx.ClassifyAndFilter(ctx, "alice", items, ts(0))
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if len(fresh) != 10 {
			t.Fatalf("expected 10 new listings, got %d", len(fresh))
		}
		if _, err := tx.Persist(ctx, "alice", items[:3], ts(0)); err != nil {
			t.Fatalf("persist: %v", err)
		}
	})

	runInTx(t, s, func(tx store.Tx) {
		fresh, err := tx.ClassifyAndFilter(ctx, "alice", items, ts(60))
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if len(fresh) != 7 {
			t.Fatalf("expected 7 unseen listings, got %d", len(fresh))
		}
		for i, l := range fresh {
			if l.ID() != items[i+3].ID() {
				t.Fatalf("expected fetch order to be kept, position %d is %q", i, l.Title)
			}
		}
	})

	for _, l := range items[:3] {
		seen, err := s.Seen(ctx, "alice", l.ID())
		if err != nil {
			t.Fatalf("seen: %v", err)
		}
		if !seen.LastSeenAt.Equal(ts(60)) {
			t.Fatalf("expected last-seen to move to %v, got %v", ts(60), seen.LastSeenAt)
		}
		if !seen.FirstSeenAt.Equal(ts(0)) {
			t.Fatalf("expected first-seen to stay %v, got %v", ts(0), seen.FirstSeenAt)
		}
	}

	if _, err := s.Seen(ctx, "alice", items[5].ID()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unpersisted listing, got %v", err)
	}
}

func testCrossSource(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := listing.Listing{Title: "Backend Engineer", Company: "Acme", URL: "https://acme.example/1", Source: "serpapi", Description: strings.Repeat("a", 2500)}
	b := listing.Listing{Title: "backend engineer ", Company: "ACME", URL: "https://acme.example/1", Source: "adzuna", Description: "other text"}

	runInTx(t, s, func(tx store.Tx) {
		fresh, err := tx.ClassifyAndFilter(ctx, "alice", []listing.Listing{a, b}, ts(0))
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if len(fresh) != 1 {
			t.Fatalf("expected 1 new listing, got %d", len(fresh))
		}
		if _, err := tx.Persist(ctx, "alice", []listing.Listing{a, b}, ts(0)); err != nil {
			t.Fatalf("persist: %v", err)
		}
	})

	stats, err := s.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Tracked != 1 {
		t.Fatalf("expected a single seen row, got %d", stats.Tracked)
	}

	seen, err := s.Seen(ctx, "alice", a.ID())
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen.Listing.Source != "serpapi" {
		t.Fatalf("expected first sighting snapshot, got source %q", seen.Listing.Source)
	}
	if len([]rune(seen.Listing.Description)) != 2000 {
		t.Fatalf("expected description snapshot truncated to 2000, got %d", len(seen.Listing.Description))
	}
}

func testNotifiedStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Listings(4)
	items[3].Source = "headhunter"

	runInTx(t, s, func(tx store.Tx) {
		if _, err := tx.Persist(ctx, "alice", items, ts(0)); err != nil {
			t.Fatalf("persist: %v", err)
		}
		if err := tx.MarkNotified(ctx, "alice", []string{items[0].ID(), items[1].ID()}, ts(1)); err != nil {
			t.Fatalf("mark notified: %v", err)
		}
		if err := tx.RecordRun(ctx, store.RunRecord{
			ID: uuid.NewString(), UserID: "alice", RunAt: ts(0),
			Fetched: 4, New: 4, Matched: 2, Notified: true, Duration: 1500 * time.Millisecond,
		}); err != nil {
			t.Fatalf("record run: %v", err)
		}
	})

	runInTx(t, s, func(tx store.Tx) {
		if err := tx.MarkNotified(ctx, "alice", []string{items[0].ID()}, ts(30)); err != nil {
			t.Fatalf("mark notified: %v", err)
		}
	})

	if err := s.RecordRun(ctx, store.RunRecord{ID: uuid.NewString(), UserID: "alice", RunAt: ts(10), Error: "profile: boom"}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	seen, err := s.Seen(ctx, "alice", items[0].ID())
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen.NotifiedAt == nil || !seen.NotifiedAt.Equal(ts(1)) {
		t.Fatalf("expected notified-at to keep the first confirmation, got %v", seen.NotifiedAt)
	}

	stats, err := s.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Tracked != 4 || stats.Notified != 2 || stats.Unnotified != 2 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.BySource["adzuna"] != 3 || stats.BySource["headhunter"] != 1 {
		t.Fatalf("unexpected by-source counts: %v", stats.BySource)
	}
	if stats.Runs != 2 {
		t.Fatalf("expected 2 runs, got %d", stats.Runs)
	}
	if stats.LastRun == nil || stats.LastRun.Error != "profile: boom" {
		t.Fatalf("expected latest run to be the failed one, got %+v", stats.LastRun)
	}
}

func testRecordReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := store.RunRecord{ID: uuid.NewString(), UserID: "alice", RunAt: ts(0), Fetched: 4, New: 4, Matched: 2}

	runInTx(t, s, func(tx store.Tx) {
		if err := tx.RecordRun(ctx, rec); err != nil {
			t.Fatalf("record run: %v", err)
		}
	})

	rec.Notified = true
	rec.Error = "mark notified: disk full"
	rec.Duration = 3 * time.Second
	if err := s.RecordRun(ctx, rec); err != nil {
		t.Fatalf("replace run: %v", err)
	}

	stats, err := s.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Runs != 1 {
		t.Fatalf("expected one record per run id, got %d", stats.Runs)
	}
	last := stats.LastRun
	if last == nil || last.ID != rec.ID || !last.Notified || last.Error != rec.Error || last.Matched != 2 || last.Duration != 3*time.Second {
		t.Fatalf("record not replaced: %+v", last)
	}
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Listings(2)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Persist(ctx, "alice", items, ts(0)); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := tx.RecordRun(ctx, store.RunRecord{ID: uuid.NewString(), UserID: "alice", RunAt: ts(0)}); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("expected second rollback to be harmless, got %v", err)
	}

	stats, err := s.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Tracked != 0 || stats.Runs != 0 {
		t.Fatalf("expected nothing to be stored after rollback, got %+v", stats)
	}
}

func testUserIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Listings(3)

	runInTx(t, s, func(tx store.Tx) {
		if _, err := tx.Persist(ctx, "alice", items, ts(0)); err != nil {
			t.Fatalf("persist: %v", err)
		}
	})

	runInTx(t, s, func(tx store.Tx) {
		fresh, err := tx.ClassifyAndFilter(ctx, "bob", items, ts(1))
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if len(fresh) != 3 {
			t.Fatalf("expected another user's history to be ignored, got %d new", len(fresh))
		}
	})
}

func testClosed(t *testing.T, s store.Store) {
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected double close to be harmless, got %v", err)
	}
	if _, err := s.Begin(context.Background()); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.RecordRun(context.Background(), store.RunRecord{}); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
