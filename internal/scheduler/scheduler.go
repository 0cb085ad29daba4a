// Package scheduler fires pipeline runs on per-user cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/users"
)

// Runner is the single entry point both scheduled and on-demand runs go through.
type Runner interface {
	RunPipeline(ctx context.Context, userID string) (*store.RunRecord, error)
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler is created once per process and owns every user's schedule.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]entry
	running bool
	// stopped is set once by Stop. wg.Add happens only while it is false and mu is held.
	stopped bool
}

type JobInfo struct {
	UserID string
	Spec   string
	Next   time.Time
	Prev   time.Time
}

type Info struct {
	Running bool
	Jobs    []JobInfo
}

func New(runner Runner, log *zap.Logger) *Scheduler {
	log = logger.OrNop(log)
	cl := cronLogger{sugar: log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		runner:  runner,
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]entry),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop halts future fires, cancels in-flight runs and waits for them until ctx is done.
// Cron-fired runs are awaited through cron itself, manual ones through wg.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	var cronDone context.Context
	if wasRunning {
		cronDone = s.cron.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		if cronDone != nil {
			<-cronDone.Done()
		}
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running pipelines: %w", ctx.Err())
	}
}

// Schedule adds or replaces the user's job. A disabled schedule removes it.
func (s *Scheduler) Schedule(userID string, sch users.Schedule) error {
	s.Unschedule(userID)

	if !sch.Enabled {
		return nil
	}

	spec, err := CronSpec(sch)
	if err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{sugar: s.logger.Sugar()})).Then(s.job(userID))
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("user %s: add cron job %q: %w", userID, spec, err)
	}

	s.mu.Lock()
	s.entries[userID] = entry{id: id, spec: spec}
	s.mu.Unlock()

	s.logger.Info("scheduled pipeline",
		zap.String(logger.FieldUser, userID),
		zap.String("spec", spec),
		zap.Time("next", s.cron.Entry(id).Next),
	)
	return nil
}

// Unschedule removes the user's job and reports whether one existed.
func (s *Scheduler) Unschedule(userID string) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	delete(s.entries, userID)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	s.logger.Info("removed pipeline schedule", zap.String(logger.FieldUser, userID))
	return true
}

// RunNow triggers a run in the background and reports whether it was started.
// Requests after Stop are ignored.
func (s *Scheduler) RunNow(userID string) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("scheduler stopped, run request ignored", zap.String(logger.FieldUser, userID))
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(userID, "manual")
	}()
	return true
}

// NextRun is zero and false when the user has no schedule or the scheduler is not running.
func (s *Scheduler) NextRun(userID string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(e.id).Next
	return next, !next.IsZero()
}

func (s *Scheduler) Info() Info {
	s.mu.Lock()
	info := Info{Running: s.running, Jobs: make([]JobInfo, 0, len(s.entries))}
	for userID, e := range s.entries {
		ce := s.cron.Entry(e.id)
		info.Jobs = append(info.Jobs, JobInfo{UserID: userID, Spec: e.spec, Next: ce.Next, Prev: ce.Prev})
	}
	s.mu.Unlock()

	sort.Slice(info.Jobs, func(i, j int) bool { return info.Jobs[i].UserID < info.Jobs[j].UserID })
	return info
}

func (s *Scheduler) job(userID string) cron.Job {
	return cron.FuncJob(func() {
		s.run(userID, "schedule")
	})
}

func (s *Scheduler) run(userID, trigger string) {
	log := s.logger.With(zap.String(logger.FieldUser, userID), zap.String("trigger", trigger))
	log.Info("scheduler firing pipeline")

	rec, err := s.runner.RunPipeline(s.ctx, userID)
	if err != nil {
		log.Error("scheduled pipeline failed", zap.Error(err))
		return
	}

	fields := []zap.Field{zap.Int("new", rec.New), zap.Int("matched", rec.Matched), zap.Bool("notified", rec.Notified)}
	if rec.Error != "" {
		fields = append(fields, zap.String("run_error", rec.Error))
	}
	log.Info("scheduled pipeline completed", fields...)
}

// CronSpec translates a schedule into a standard five-field cron spec prefixed with its timezone.
func CronSpec(sch users.Schedule) (string, error) {
	tz := sch.Timezone
	if tz == "" {
		tz = users.DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
	}

	var expr string
	if raw := strings.TrimSpace(sch.Cron); raw != "" {
		if strings.HasPrefix(raw, "CRON_TZ=") || strings.HasPrefix(raw, "TZ=") {
			if _, err := cron.ParseStandard(raw); err != nil {
				return "", fmt.Errorf("invalid cron spec %q: %w", raw, err)
			}
			return raw, nil
		}
		expr = raw
	} else {
		switch strings.ToLower(sch.Frequency) {
		case users.FrequencyDaily:
			expr = fmt.Sprintf("%d %d * * *", sch.Minute, sch.Hour)
		case "", users.FrequencyWeekly:
			dow := sch.DayOfWeek
			if dow == "" {
				dow = users.DefaultDayOfWeek
			}
			expr = fmt.Sprintf("%d %d * * %s", sch.Minute, sch.Hour, strings.ToLower(dow))
		case users.FrequencyMonthly:
			day := sch.DayOfMonth
			if day <= 0 {
				day = 1
			}
			expr = fmt.Sprintf("%d %d %d * *", sch.Minute, sch.Hour, day)
		default:
			return "", fmt.Errorf("unknown schedule frequency %q", sch.Frequency)
		}
	}

	spec := fmt.Sprintf("CRON_TZ=%s %s", tz, expr)
	if _, err := cron.ParseStandard(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return spec, nil
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
