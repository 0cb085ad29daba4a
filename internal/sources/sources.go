// Package sources fans a search out to every configured listing provider.
package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/go-errors/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/telemetry"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultConcurrency = 4
)

// Source is one job-listing provider.
// Fetch may return partial results together with an error.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query, location string, maxResults int) ([]listing.Listing, error)
}

type Options struct {
	// Timeout bounds every single source call.
	Timeout     time.Duration
	Concurrency int
}

type Aggregator struct {
	sources []Source
	opts    Options
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewAggregator(sources []Source, opts Options, log *zap.Logger) *Aggregator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Aggregator{
		sources: sources,
		opts:    opts,
		logger:  logger.OrNop(log),
		tracer:  telemetry.GetTracer("job-radar/sources"),
		now:     time.Now,
	}
}

// Names lists the configured sources in order.
func (a *Aggregator) Names() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// Fetch queries every source and concatenates what they return, grouped by source
// in configuration order. A failing source is logged and skipped, so the result
// is empty only when every source failed or found nothing.
func (a *Aggregator) Fetch(ctx context.Context, query, location string, maxPerSource int) []listing.Listing {
	slots := make([][]listing.Listing, len(a.sources))

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)

	for i, src := range a.sources {
		g.Go(func() error {
			slots[i] = a.fetchOne(ctx, src, query, location, maxPerSource)
			return nil
		})
	}
	_ = g.Wait()

	var total int
	for _, s := range slots {
		total += len(s)
	}
	out := make([]listing.Listing, 0, total)
	for _, s := range slots {
		out = append(out, s...)
	}

	a.logger.Info("fetch completed",
		zap.String("query", query),
		zap.String("location", location),
		zap.Int("sources", len(a.sources)),
		zap.Int("listings", len(out)),
	)
	return out
}

type fetchResult struct {
	items []listing.Listing
	err   error
}

func (a *Aggregator) fetchOne(ctx context.Context, src Source, query, location string, max int) []listing.Listing {
	name := src.Name()
	log := a.logger.With(zap.String(logger.FieldSource, name), zap.String("query", query))

	ctx, span := a.tracer.Start(ctx, "sources.fetch",
		trace.WithAttributes(telemetry.String("source", name), telemetry.String("query", query)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	// Buffered so a source that ignores ctx cannot block after we give up on it.
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				wrapped := errors.Wrap(r, 2)
				log.Error("source panicked", zap.String("stack", wrapped.ErrorStack()))
				done <- fetchResult{err: fmt.Errorf("source %s panicked: %v", name, r)}
			}
		}()
		items, err := src.Fetch(ctx, query, location, max)
		done <- fetchResult{items: items, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = fetchResult{err: fmt.Errorf("source %s: %w", name, ctx.Err())}
	}

	if res.err != nil {
		telemetry.RecordError(span, res.err)
		log.Warn("source failed",
			zap.Int("partial", len(res.items)),
			zap.Error(res.err))
	}

	items := a.stamp(res.items, name, max)
	span.SetAttributes(telemetry.Int("listings", len(items)))

	if len(items) == 0 && res.err == nil {
		log.Info("source returned no listings")
	} else {
		log.Debug("source fetched", zap.Int("listings", len(items)))
	}
	return items
}

func (a *Aggregator) stamp(items []listing.Listing, name string, max int) []listing.Listing {
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	now := a.now().UTC()
	for i := range items {
		if items[i].Source == "" {
			items[i].Source = name
		}
		if items[i].FetchedAt.IsZero() {
			items[i].FetchedAt = now
		}
	}
	return items
}
