// Package pipeline runs the fetch, dedup, score and notify cycle for one user.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/lock"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/profile"
	"github.com/spigell/job-radar/internal/scoring"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/telemetry"
	"github.com/spigell/job-radar/internal/users"
)

// ErrRunInProgress is returned when the user already has a run in flight.
var ErrRunInProgress = errors.New("pipeline run already in progress")

const dryRunPreview = 10

// UserSource resolves per-user settings.
type UserSource interface {
	Get(id string) (users.Settings, error)
}

// Fetcher queries every configured listing source. It never fails; failing sources are skipped.
type Fetcher interface {
	Fetch(ctx context.Context, query, location string, maxPerSource int) []listing.Listing
}

// ProfileResolver picks the profile provider for a user.
type ProfileResolver func(users.Settings) profile.Provider

type Deps struct {
	Users    UserSource
	Sources  Fetcher
	Store    store.Store
	Profiles ProfileResolver
	// Semantic is optional. Users opt in through their matching settings.
	Semantic ai.Scorer
	// Notifier is optional. Without it matches are persisted but nobody is told.
	Notifier notify.Notifier
	Locker   lock.Locker
	Logger   *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

type Options struct {
	DryRun          bool
	PreFilter       float64
	SemanticTimeout time.Duration
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	tracer trace.Tracer
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Users == nil {
		return nil, errors.New("pipeline: user source is required")
	}
	if deps.Sources == nil {
		return nil, errors.New("pipeline: listing sources are required")
	}
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if deps.Profiles == nil {
		deps.Profiles = func(s users.Settings) profile.Provider { return s.ProfileProvider() }
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = newRunID
	}
	if opts.PreFilter <= 0 {
		opts.PreFilter = scoring.DefaultPreFilter
	}

	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger.OrNop(deps.Logger),
		tracer: telemetry.GetTracer("job-radar/pipeline"),
	}, nil
}

// WithDryRun returns a copy of the orchestrator that never calls the notifier.
func (o *Orchestrator) WithDryRun(dry bool) *Orchestrator {
	c := *o
	c.opts.DryRun = dry
	return &c
}

// RunPipeline executes one run for the user and always writes exactly one RunRecord.
// The returned error is set for fatal failures only; a failed notification is
// reported through the record.
func (o *Orchestrator) RunPipeline(ctx context.Context, userID string) (*store.RunRecord, error) {
	r := o.newRun(userID)

	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(telemetry.String("user_id", userID), telemetry.String("run_id", r.id)))
	defer span.End()
	r.span = span

	release, err := o.deps.Locker.Acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			err = fmt.Errorf("%w for user %s", ErrRunInProgress, userID)
		} else {
			err = fmt.Errorf("acquire run lock: %w", err)
		}
		r.log.Warn("run rejected", zap.Error(err))
		return r.abort(ctx, err)
	}
	defer release()

	return r.execute(ctx)
}
