package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/filtering"
	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/profile"
	"github.com/spigell/job-radar/internal/scoring"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/telemetry"
	"github.com/spigell/job-radar/internal/users"
)

const profileKeywordCount = 30

func newRunID() string {
	return uuid.NewString()
}

// run carries the mutable state of a single invocation.
type run struct {
	o     *Orchestrator
	id    string
	user  string
	state State
	start time.Time
	log   *zap.Logger
	span  trace.Span

	fetched   int
	fresh     int
	matched   int
	persisted int
	semantic  int
	fallbacks int
	notified  bool
	// notifyErr is the non-fatal delivery failure attached to the record.
	notifyErr error
}

func (o *Orchestrator) newRun(userID string) *run {
	id := o.deps.NewID()
	return &run{
		o:     o,
		id:    id,
		user:  userID,
		state: StateInit,
		start: o.deps.Now(),
		log:   logger.WithRun(o.logger, userID, id),
		span:  trace.SpanFromContext(context.Background()),
	}
}

func (r *run) advance(to State) error {
	if !CanTransition(r.state, to) {
		return &transitionError{from: r.state, to: to}
	}
	r.log.Debug("pipeline state", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.span.AddEvent(string(to))
	r.state = to
	return nil
}

func (r *run) execute(ctx context.Context) (rec *store.RunRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			wrapped := goerrors.Wrap(p, 2)
			r.log.Error("pipeline panicked", zap.String("stack", wrapped.ErrorStack()))
			rec, err = r.abort(ctx, fmt.Errorf("pipeline panic: %w", wrapped))
		}
	}()

	if err := r.steps(ctx); err != nil {
		return r.abort(ctx, err)
	}
	return r.finish(ctx)
}

// steps walks the run up to Recording. Short-circuits return nil with the state
// already moved to Recording.
func (r *run) steps(ctx context.Context) error {
	settings, p, err := r.init(ctx)
	if err != nil {
		return err
	}

	if err := r.advance(StateFetching); err != nil {
		return err
	}
	fetched := r.fetch(ctx, settings)
	r.fetched = len(fetched)
	if len(fetched) == 0 {
		r.log.Warn("no listings fetched from any source")
		return r.advance(StateRecording)
	}

	if err := r.advance(StateDeduping); err != nil {
		return err
	}
	var fresh []listing.Listing
	err = r.inTx(ctx, func(tx store.Tx) error {
		var err error
		fresh, err = tx.ClassifyAndFilter(ctx, r.user, fetched, r.o.deps.Now())
		return err
	})
	if err != nil {
		return fmt.Errorf("dedup listings: %w", err)
	}
	r.fresh = len(fresh)
	r.log.Info("dedup completed", zap.Int("fetched", r.fetched), zap.Int("new", r.fresh))
	if len(fresh) == 0 {
		r.log.Info("no new listings, all have been seen before")
		return r.advance(StateRecording)
	}

	if err := r.advance(StateScoring); err != nil {
		return err
	}
	engine := scoring.NewEngine(scoring.Config{
		SemanticEnabled: settings.Matching.AI,
		PreFilter:       r.o.opts.PreFilter,
		SemanticTimeout: r.o.opts.SemanticTimeout,
	}, r.o.deps.Semantic, r.log)
	matched, summary := engine.ScoreAndFilter(ctx, p, fresh, settings.Matching.Threshold)
	r.scored(summary)
	r.matched = len(matched)

	// Every new listing is persisted, matched or not, so it is never scored again.
	// The record lands with the rows and is replaced when the run finishes.
	if err := r.advance(StatePersisting); err != nil {
		return err
	}
	err = r.inTx(ctx, func(tx store.Tx) error {
		n, err := tx.Persist(ctx, r.user, fresh, r.o.deps.Now())
		if err != nil {
			return fmt.Errorf("persist listings: %w", err)
		}
		r.persisted = n
		if err := tx.RecordRun(ctx, r.record(nil)); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		r.log.Info("no listings above match threshold", zap.Float64("threshold", settings.Matching.Threshold))
		return r.advance(StateRecording)
	}

	if err := r.advance(StateNotifying); err != nil {
		return err
	}
	if err := r.notify(ctx, settings, matched); err != nil {
		return err
	}

	return r.advance(StateRecording)
}

// inTx runs fn in a short store transaction. No network call may happen inside
// fn: the SQLite store has a single connection shared by every run.
func (r *run) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := r.o.deps.Store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store transaction: %w", err)
	}
	// Harmless after a commit. Also covers panics inside fn.
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			r.log.Error("failed to roll back", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *run) scored(summary scoring.Summary) {
	r.semantic = summary.Semantic
	r.fallbacks = summary.Fallbacks
	r.span.SetAttributes(
		telemetry.Int("scored", summary.Scored),
		telemetry.Int("semantic", summary.Semantic),
		telemetry.Int("fallbacks", summary.Fallbacks),
	)
	if summary.Fallbacks > 0 {
		r.log.Warn("semantic scoring fell back to keywords",
			zap.Int("fallbacks", summary.Fallbacks),
			zap.Int("semantic", summary.Semantic),
		)
	}
}

func (r *run) init(ctx context.Context) (users.Settings, *profile.Profile, error) {
	settings, err := r.o.deps.Users.Get(r.user)
	if err != nil {
		return users.Settings{}, nil, fmt.Errorf("load user settings: %w", err)
	}

	p, err := r.o.deps.Profiles(settings).BuildProfile(ctx)
	if err != nil {
		return settings, nil, fmt.Errorf("build profile: %w", err)
	}
	if p == nil {
		return settings, nil, errors.New("build profile: provider returned no profile")
	}

	p = p.Clone()
	enrichProfile(p)
	p.Normalize()
	p.AddTitles(settings.Search.Titles...)

	r.log.Info("profile loaded",
		zap.String("name", p.Name),
		zap.Int("skills", len(p.Skills)),
		zap.Int("keywords", len(p.Keywords)),
		zap.Strings("titles", p.Titles),
	)
	return settings, p, nil
}

// enrichProfile derives skills, keywords and experience from the raw profile text when they are missing.
func enrichProfile(p *profile.Profile) {
	if p.RawText == "" {
		return
	}
	text := p.RawText
	if len(p.Skills) == 0 {
		p.Skills = scoring.ExtractSkills(text)
	}
	if len(p.Keywords) == 0 {
		p.Keywords = scoring.ExtractKeywords(text, profileKeywordCount)
	}
	if p.ExperienceYears == 0 {
		if years, ok := scoring.ExtractYearsExperience(text); ok {
			p.ExperienceYears = years
		}
	}
}

func (r *run) fetch(ctx context.Context, settings users.Settings) []listing.Listing {
	var all []listing.Listing
	for _, title := range settings.Search.Titles {
		all = append(all, r.o.deps.Sources.Fetch(ctx, title, settings.Search.Location, settings.Search.MaxResults)...)
	}
	r.log.Info("total listings fetched", zap.Int("count", len(all)))
	r.span.SetAttributes(telemetry.Int("fetched", len(all)))
	return all
}

// notify runs the pre-notification filters and sends one digest. Only store
// failures are returned; delivery problems land in notifyErr.
func (r *run) notify(ctx context.Context, settings users.Settings, matched []listing.Listing) error {
	steps := filtering.Chain(settings.Exclude.Filters...)
	final, err := filtering.Run(ctx, &filtering.Config{
		ExcludedCompanies: settings.Exclude.Companies,
		RedFlags:          settings.Exclude.RedFlags,
	}, filtering.Deps{Logger: r.log}, steps, matched)
	if err != nil {
		return fmt.Errorf("filter matches: %w", err)
	}
	r.log.Debug("filters applied", zap.Any("filters", filtering.Describe(steps)))
	r.matched = len(final)

	if len(final) == 0 {
		r.log.Info("all matches filtered out before notification")
		return nil
	}

	if r.o.opts.DryRun {
		r.log.Info("dry run, skipping notification", zap.Int("matched", len(final)))
		for i := 0; i < len(final) && i < dryRunPreview; i++ {
			r.log.Info("would notify",
				zap.Int("rank", i+1),
				zap.Float64("score", final[i].Score),
				zap.String("title", final[i].Title),
				zap.String("company", final[i].Company),
			)
		}
		return nil
	}

	if r.o.deps.Notifier == nil {
		r.log.Warn("no notification transport configured", zap.Int("matched", len(final)))
		return nil
	}

	msg := notify.Compose(final, r.o.deps.Now())
	msg.To = settings.Recipients
	if err := r.o.deps.Notifier.Send(ctx, msg); err != nil {
		r.notifyErr = fmt.Errorf("send notification: %w", err)
		r.log.Error("failed to send notification, listings stay unnotified", zap.Error(err))
		telemetry.RecordError(r.span, r.notifyErr)
		return nil
	}

	err = r.inTx(ctx, func(tx store.Tx) error {
		if err := tx.MarkNotified(ctx, r.user, listing.IDs(final), r.o.deps.Now()); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
		sent := r.record(nil)
		sent.Notified = true
		return tx.RecordRun(ctx, sent)
	})
	if err != nil {
		return err
	}
	r.notified = true
	r.log.Info("notification sent and listings marked", zap.Int("listings", len(final)))
	return nil
}

func (r *run) record(runErr error) store.RunRecord {
	rec := store.RunRecord{
		ID:       r.id,
		UserID:   r.user,
		RunAt:    r.start.UTC(),
		Fetched:  r.fetched,
		New:      r.fresh,
		Matched:  r.matched,
		Notified: r.notified,
		Duration: r.o.deps.Now().Sub(r.start),
	}
	switch {
	case runErr != nil:
		rec.Error = runErr.Error()
	case r.notifyErr != nil:
		rec.Error = r.notifyErr.Error()
	}
	return rec
}

// finish writes the final record, replacing the one stored with the persisted rows.
func (r *run) finish(ctx context.Context) (*store.RunRecord, error) {
	rec := r.record(nil)

	if err := r.o.deps.Store.RecordRun(ctx, rec); err != nil {
		return r.abort(ctx, fmt.Errorf("record run: %w", err))
	}

	if err := r.advance(StateDone); err != nil {
		return &rec, err
	}

	r.log.Info("pipeline complete",
		zap.Int("fetched", rec.Fetched),
		zap.Int("new", rec.New),
		zap.Int("matched", rec.Matched),
		zap.Bool("notified", rec.Notified),
		zap.Int("semantic", r.semantic),
		zap.Int("fallbacks", r.fallbacks),
		zap.Duration("duration", rec.Duration),
	)
	r.span.SetAttributes(
		telemetry.Int("new", rec.New),
		telemetry.Int("matched", rec.Matched),
		telemetry.Bool("notified", rec.Notified),
	)
	return &rec, nil
}

// abort records the failure outside of any transaction.
func (r *run) abort(ctx context.Context, runErr error) (*store.RunRecord, error) {
	if r.state.Terminal() {
		return nil, runErr
	}
	r.state = StateErrored
	r.span.AddEvent(string(StateErrored))
	telemetry.RecordError(r.span, runErr)

	// The record must land even when the caller's context is already done.
	ctx = context.WithoutCancel(ctx)

	rec := r.record(runErr)
	r.log.Error("pipeline failed", zap.Error(runErr))

	if err := r.o.deps.Store.RecordRun(ctx, rec); err != nil {
		r.log.Error("failed to record failed run", zap.Error(err))
		return &rec, errors.Join(runErr, fmt.Errorf("record run: %w", err))
	}
	return &rec, runErr
}
