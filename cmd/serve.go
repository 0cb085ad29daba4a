package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/lock"
	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/pipeline"
	"github.com/spigell/job-radar/internal/scheduler"
	"github.com/spigell/job-radar/internal/sources"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/telemetry"
	"github.com/spigell/job-radar/internal/users"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and fire every user's pipeline on its schedule",
	Run: func(cmd *cobra.Command, _ []string) {
		runOnStart, _ := cmd.Flags().GetBool("run-on-start")
		serve(runOnStart)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("run-on-start", false, "fire every user's pipeline once right after start")
}

func serve(runOnStart bool) {
	app := fx.New(
		fx.Provide(
			newLogger,
			loadConfig,
			newDirectory,
			provideStore,
			provideLocker,
			provideAggregator,
			provideScorer,
			provideNotifier,
			provideOrchestrator,
			provideScheduler,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(
			registerTracer,
			registerSchedules,
			logFilters,
			func(s *scheduler.Scheduler, dir *users.Directory, lc fx.Lifecycle) {
				if !runOnStart {
					return
				}
				lc.Append(fx.Hook{OnStart: func(context.Context) error {
					for _, id := range dir.IDs() {
						s.RunNow(id)
					}
					return nil
				}})
			},
		),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	<-app.Done()

	if err := app.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func provideStore(lc fx.Lifecycle, cfg *Config) (store.Store, error) {
	db, err := openStore(context.Background(), cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening the store: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return db.Close() }})

	return db, nil
}

func provideLocker(lc fx.Lifecycle, cfg *Config, log *zap.Logger) (lock.Locker, error) {
	locker, err := newLocker(context.Background(), cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		closeAll(log, locker)
		return nil
	}})

	return locker, nil
}

func provideAggregator(cfg *Config, log *zap.Logger) (*sources.Aggregator, error) {
	return newAggregator(cfg.Sources, log)
}

func provideScorer(cfg *Config, log *zap.Logger) (ai.Scorer, error) {
	return newSemanticScorer(context.Background(), cfg.AI, log)
}

func provideNotifier(lc fx.Lifecycle, cfg *Config, log *zap.Logger) (notify.Notifier, error) {
	n, err := newNotifier(cfg.Notify, log)
	if err != nil {
		return nil, err
	}
	if n != nil {
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return n.Close() }})
	}

	return n, nil
}

func provideOrchestrator(
	cfg *Config,
	dir *users.Directory,
	agg *sources.Aggregator,
	st store.Store,
	scorer ai.Scorer,
	n notify.Notifier,
	locker lock.Locker,
	log *zap.Logger,
) (*pipeline.Orchestrator, error) {
	return newOrchestrator(orchestratorParams{
		Config:    cfg,
		Directory: dir,
		Sources:   agg,
		Store:     st,
		Scorer:    scorer,
		Notifier:  n,
		Locker:    locker,
		Logger:    log,
	})
}

func provideScheduler(lc fx.Lifecycle, o *pipeline.Orchestrator, log *zap.Logger) *scheduler.Scheduler {
	s := scheduler.New(o, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			for _, job := range s.Info().Jobs {
				log.Info("next scheduled run", zap.String("user_id", job.UserID), zap.Time("next", job.Next))
			}
			return nil
		},
		OnStop: s.Stop,
	})

	return s
}

func registerTracer(lc fx.Lifecycle, cfg *Config, log *zap.Logger) {
	var shutdown func(context.Context) error

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracer(ctx, cfg.Telemetry.Endpoint, version, log)
			return err
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

// registerSchedules installs a cron entry for every user with an enabled schedule.
func registerSchedules(s *scheduler.Scheduler, dir *users.Directory, log *zap.Logger) error {
	var errs error
	for _, u := range dir.List() {
		if err := s.Schedule(u.ID, u.Schedule); err != nil {
			errs = errors.Join(errs, fmt.Errorf("scheduling user %s: %w", u.ID, err))
		}
	}
	log.Debug("schedules registered", zap.Int("users", dir.Len()))

	return errs
}
