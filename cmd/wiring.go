package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/ai/gemini"
	"github.com/spigell/job-radar/internal/filtering"
	"github.com/spigell/job-radar/internal/lock"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/pipeline"
	"github.com/spigell/job-radar/internal/secrets"
	"github.com/spigell/job-radar/internal/sources"
	"github.com/spigell/job-radar/internal/sources/adzuna"
	"github.com/spigell/job-radar/internal/sources/headhunter"
	"github.com/spigell/job-radar/internal/sources/serpapi"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/store/postgres"
	"github.com/spigell/job-radar/internal/store/sqlite"
	"github.com/spigell/job-radar/internal/users"
)

const (
	envHHToken       = "HH_TOKEN"
	envAdzunaKey     = "ADZUNA_APP_KEY"
	envSerpAPIKey    = "SERPAPI_API_KEY"
	envGeminiKey     = "GEMINI_API_KEY"
	envSMTPPassword  = "SMTP_PASSWORD"
	envRedisPassword = "REDIS_PASSWORD"
)

func newLogger() (*zap.Logger, error) {
	return logger.New(viper.GetBool("json"), viper.GetBool("debug"))
}

// loadConfig reads the config and logs every validation warning.
func loadConfig(log *zap.Logger) (*Config, error) {
	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}
	config.normalize()

	for _, w := range config.warnings() {
		log.Warn("config", zap.String("warning", w))
	}

	return config, nil
}

func hasSecret(value, file, env string) bool {
	return strings.TrimSpace(value) != "" || strings.TrimSpace(file) != "" || strings.TrimSpace(os.Getenv(env)) != ""
}

func openStore(ctx context.Context, cfg *DatabaseConfig) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		db, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres", "postgresql":
		db, err := postgres.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func newDirectory(cfg *Config) (*users.Directory, error) {
	return users.NewDirectory(cfg.Users)
}

// logFilters prints the pre-notification chain every user runs with.
func logFilters(log *zap.Logger, dir *users.Directory) {
	for _, u := range dir.List() {
		log.Info("notification filters",
			zap.String("user_id", u.ID),
			zap.Any("filters", filtering.Describe(filtering.Chain(u.Exclude.Filters...))),
		)
	}
}

func newLocker(ctx context.Context, cfg *RedisConfig, log *zap.Logger) (lock.Locker, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return lock.NewLocal(), nil
	}

	password, err := secrets.Optional(secrets.Source{
		Name:  "redis password",
		Value: cfg.Password,
		File:  cfg.PasswordFile,
		Env:   envRedisPassword,
	})
	if err != nil {
		return nil, err
	}

	locker, err := lock.Dial(ctx, cfg.Addr, password, cfg.LockTTL, log)
	if err != nil {
		return nil, err
	}
	log.Info("using redis run lock", zap.String("addr", cfg.Addr))

	return locker, nil
}

func newAggregator(cfg *SourcesConfig, log *zap.Logger) (*sources.Aggregator, error) {
	var list []sources.Source

	if hh := cfg.Headhunter; hh.Enabled {
		token, err := secrets.Optional(secrets.Source{Name: "headhunter token", File: hh.TokenFile, Env: envHHToken})
		if err != nil {
			return nil, err
		}
		list = append(list, headhunter.New(headhunter.Config{
			Token:      token,
			Areas:      hh.Areas,
			Schedules:  hh.Schedules,
			Experience: hh.Experience,
			Period:     hh.Period,
		}, log.With(zap.String(logger.FieldSource, headhunter.Name))))
	}

	adzunaKey, err := secrets.Optional(secrets.Source{
		Name:  "adzuna app key",
		Value: cfg.Adzuna.AppKey,
		File:  cfg.Adzuna.AppKeyFile,
		Env:   envAdzunaKey,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Adzuna.AppID != "" && adzunaKey != "" {
		list = append(list, adzuna.New(cfg.Adzuna.AppID, adzunaKey, cfg.Adzuna.Country,
			log.With(zap.String(logger.FieldSource, adzuna.Name))))
	}

	serpKey, err := secrets.Optional(secrets.Source{
		Name:  "serpapi key",
		Value: cfg.SerpAPI.APIKey,
		File:  cfg.SerpAPI.APIKeyFile,
		Env:   envSerpAPIKey,
	})
	if err != nil {
		return nil, err
	}
	if serpKey != "" {
		list = append(list, serpapi.New(serpKey, log.With(zap.String(logger.FieldSource, serpapi.Name))))
	}

	agg := sources.NewAggregator(list, sources.Options{
		Timeout:     cfg.Timeout,
		Concurrency: cfg.Concurrency,
	}, log)
	log.Debug("listing sources configured", zap.Strings("sources", agg.Names()))

	return agg, nil
}

// newSemanticScorer returns nil when AI matching is disabled for the process.
func newSemanticScorer(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Scorer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "gemini"
	}
	if provider != "gemini" {
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   envGeminiKey,
	})
	if err != nil {
		return nil, err
	}

	genLogger := log.With(
		zap.String(logger.FieldProvider, provider),
		zap.String(logger.FieldModel, cfg.Gemini.Model),
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, fmt.Errorf("creating gemini generator: %w", err)
	}

	return gemini.NewScorer(generator, genLogger, cfg.Gemini.MaxLogLength), nil
}

func newNotifier(cfg *NotifyConfig, log *zap.Logger) (notify.Notifier, error) {
	password, err := secrets.Optional(secrets.Source{
		Name:  "smtp password",
		Value: cfg.SMTP.Password,
		File:  cfg.SMTP.PasswordFile,
		Env:   envSMTPPassword,
	})
	if err != nil {
		return nil, err
	}

	return notify.New(notify.Config{
		Transport: cfg.Transport,
		SMTP: notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		},
		NATS: notify.NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Stream:  cfg.NATS.Stream,
		},
	}, log)
}

type orchestratorParams struct {
	Config    *Config
	Directory *users.Directory
	Sources   *sources.Aggregator
	Store     store.Store
	Scorer    ai.Scorer
	Notifier  notify.Notifier
	Locker    lock.Locker
	Logger    *zap.Logger
}

func newOrchestrator(p orchestratorParams) (*pipeline.Orchestrator, error) {
	return pipeline.New(pipeline.Deps{
		Users:    p.Directory,
		Sources:  p.Sources,
		Store:    p.Store,
		Semantic: p.Scorer,
		Notifier: p.Notifier,
		Locker:   p.Locker,
		Logger:   p.Logger,
		NewID:    uuid.NewString,
	}, pipeline.Options{
		PreFilter:       p.Config.AI.PreFilter,
		SemanticTimeout: p.Config.AI.Timeout,
	})
}

// closeAll closes every value that holds resources, in reverse order.
func closeAll(log *zap.Logger, values ...any) {
	for i := len(values) - 1; i >= 0; i-- {
		c, ok := values[i].(io.Closer)
		if !ok || c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			log.Warn("failed to close resource", zap.Error(err))
		}
	}
}

// components is everything a one-shot command needs to run the pipeline.
type components struct {
	config       *Config
	logger       *zap.Logger
	store        store.Store
	directory    *users.Directory
	notifier     notify.Notifier
	orchestrator *pipeline.Orchestrator
	closers      []any
}

func (c *components) Close() {
	closeAll(c.logger, c.closers...)
}

func setup(ctx context.Context, log *zap.Logger) (*components, error) {
	config, err := loadConfig(log)
	if err != nil {
		return nil, err
	}

	c := &components{config: config, logger: log}
	fail := func(err error) (*components, error) {
		c.Close()
		return nil, err
	}

	if c.directory, err = newDirectory(config); err != nil {
		return fail(err)
	}
	logFilters(log, c.directory)

	if c.store, err = openStore(ctx, config.Database); err != nil {
		return fail(fmt.Errorf("opening the store: %w", err))
	}
	c.closers = append(c.closers, c.store)

	locker, err := newLocker(ctx, config.Redis, log)
	if err != nil {
		return fail(err)
	}
	c.closers = append(c.closers, locker)

	agg, err := newAggregator(config.Sources, log)
	if err != nil {
		return fail(err)
	}

	scorer, err := newSemanticScorer(ctx, config.AI, log)
	if err != nil {
		return fail(err)
	}

	if c.notifier, err = newNotifier(config.Notify, log); err != nil {
		return fail(err)
	}
	if c.notifier != nil {
		c.closers = append(c.closers, c.notifier)
	}

	c.orchestrator, err = newOrchestrator(orchestratorParams{
		Config:    config,
		Directory: c.directory,
		Sources:   agg,
		Store:     c.store,
		Scorer:    scorer,
		Notifier:  c.notifier,
		Locker:    locker,
		Logger:    log,
	})
	if err != nil {
		return fail(err)
	}

	return c, nil
}
