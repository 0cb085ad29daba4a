package cmd

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-radar/internal/filtering"
	"github.com/spigell/job-radar/internal/lock"
	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/users"
)

const sampleConfig = `
database:
  driver: postgres
  url: postgres://radar@localhost/radar
sources:
  timeout: 45s
  headhunter:
    enabled: true
    areas: [1, 2]
  serpapi:
    api-key: serp-key
ai:
  enabled: true
  gemini:
    api-key: gem-key
notify:
  transport: smtp
  smtp:
    host: smtp.example.com
    username: radar
    password: secret
    from: radar@example.com
users:
  - id: alice
    profile-file: alice.yaml
    search:
      titles: [Go Developer, SRE]
      location: Berlin
    matching:
      threshold: 0.5
      ai: true
    recipients: [alice@example.com]
    schedule:
      enabled: true
      frequency: daily
      hour: 7
`

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{envHHToken, envAdzunaKey, envSerpAPIKey, envGeminiKey, envSMTPPassword, envRedisPassword} {
		t.Setenv(env, "")
	}
}

func decodeConfig(t *testing.T, raw string) *Config {
	t.Helper()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(raw)); err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	cfg.normalize()

	return &cfg
}

func TestConfigDecode(t *testing.T) {
	cfg := decodeConfig(t, sampleConfig)

	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if cfg.Sources.Timeout != 45*time.Second {
		t.Fatalf("expected 45s source timeout, got %s", cfg.Sources.Timeout)
	}
	if cfg.Sources.Concurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.Sources.Concurrency)
	}
	if !reflect.DeepEqual(cfg.Sources.Headhunter.Areas, []int{1, 2}) {
		t.Fatalf("unexpected areas %v", cfg.Sources.Headhunter.Areas)
	}
	if cfg.AI.PreFilter != 0.2 || cfg.AI.Timeout != 30*time.Second {
		t.Fatalf("unexpected AI defaults: %+v", cfg.AI)
	}
	if cfg.Notify.SMTP.Port != 587 {
		t.Fatalf("expected default smtp port, got %d", cfg.Notify.SMTP.Port)
	}
	if cfg.Redis.LockTTL != 30*time.Minute {
		t.Fatalf("expected default lock ttl, got %s", cfg.Redis.LockTTL)
	}

	if len(cfg.Users) != 1 {
		t.Fatalf("expected one user, got %d", len(cfg.Users))
	}
	u := cfg.Users[0]
	if u.ID != "alice" || u.ProfileFile != "alice.yaml" || u.Search.Location != "Berlin" {
		t.Fatalf("unexpected user %+v", u)
	}
	if !reflect.DeepEqual(u.Search.Titles, []string{"Go Developer", "SRE"}) {
		t.Fatalf("unexpected titles %v", u.Search.Titles)
	}
	if !u.Matching.AI || u.Matching.Threshold != 0.5 {
		t.Fatalf("unexpected matching %+v", u.Matching)
	}
	if !u.Schedule.Enabled || u.Schedule.Frequency != "daily" || u.Schedule.Hour != 7 {
		t.Fatalf("unexpected schedule %+v", u.Schedule)
	}
}

func TestNormalizeEmptyConfig(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()

	if cfg.Sources.Headhunter == nil || cfg.AI.Gemini == nil || cfg.Notify.SMTP == nil || cfg.Notify.NATS == nil {
		t.Fatalf("normalize left nil sections: %+v", cfg)
	}
}

func TestConfigWarnings(t *testing.T) {
	clearSecretEnv(t)

	tests := []struct {
		name    string
		raw     string
		want    []string
		notWant []string
	}{
		{
			name:    "complete config",
			raw:     sampleConfig,
			notWant: []string{"no users", "no listing source", "Gemini", "credentials", "recipient"},
		},
		{
			name: "empty config",
			raw:  "{}",
			want: []string{
				"no users configured",
				"no listing source is configured",
				"SerpAPI key not set",
				"no notification transport configured",
			},
		},
		{
			name: "ai without key and smtp without credentials",
			raw: `
ai:
  enabled: true
notify:
  transport: smtp
users:
  - id: bob
    matching:
      ai: true
`,
			want: []string{
				"AI matching enabled but no Gemini API key configured",
				"email credentials not configured",
				"no email recipient configured",
				`user "bob" has no profile-file`,
			},
		},
		{
			name: "user wants ai that is disabled",
			raw: `
users:
  - id: carol
    profile-file: carol.yaml
    matching:
      ai: true
`,
			want: []string{`user "carol" asks for AI matching but ai.enabled is false`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(decodeConfig(t, tt.raw).warnings(), "\n")
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("expected warning %q in:\n%s", w, got)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("unexpected warning %q in:\n%s", w, got)
				}
			}
		})
	}
}

func TestWarningsUseEnvSecrets(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv(envSerpAPIKey, "from-env")

	got := strings.Join(decodeConfig(t, "{}").warnings(), "\n")
	if strings.Contains(got, "SerpAPI") || strings.Contains(got, "no listing source") {
		t.Fatalf("env secret was ignored:\n%s", got)
	}
}

func TestOpenStore(t *testing.T) {
	db, err := openStore(context.Background(), &DatabaseConfig{Driver: "sqlite", URL: "file::memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	st, err := db.Stats(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Tracked != 0 || st.Runs != 0 {
		t.Fatalf("expected empty stats, got %+v", st)
	}

	if _, err := openStore(context.Background(), &DatabaseConfig{Driver: "mysql"}); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}

func TestNewSemanticScorer(t *testing.T) {
	clearSecretEnv(t)
	log := zap.NewNop()

	scorer, err := newSemanticScorer(context.Background(), &AIConfig{Gemini: &GeminiConfig{}}, log)
	if err != nil || scorer != nil {
		t.Fatalf("disabled AI should give no scorer, got %v, %v", scorer, err)
	}

	_, err = newSemanticScorer(context.Background(), &AIConfig{Enabled: true, Provider: "openai", Gemini: &GeminiConfig{}}, log)
	if err == nil || !strings.Contains(err.Error(), "unsupported AI provider") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}

	_, err = newSemanticScorer(context.Background(), &AIConfig{Enabled: true, Gemini: &GeminiConfig{}}, log)
	if err == nil || !strings.Contains(err.Error(), "gemini api key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestNewNotifier(t *testing.T) {
	clearSecretEnv(t)
	cfg := decodeConfig(t, "{}")

	n, err := newNotifier(cfg.Notify, zap.NewNop())
	if err != nil || n != nil {
		t.Fatalf("expected no notifier without transport, got %v, %v", n, err)
	}

	cfg.Notify.Transport = "pigeon"
	if _, err := newNotifier(cfg.Notify, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unknown transport")
	}

	cfg = decodeConfig(t, sampleConfig)
	n, err = newNotifier(cfg.Notify, zap.NewNop())
	if err != nil || n == nil {
		t.Fatalf("expected smtp notifier, got %v, %v", n, err)
	}
}

func TestNewLockerWithoutRedis(t *testing.T) {
	locker, err := newLocker(context.Background(), &RedisConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	if _, ok := locker.(*lock.Local); !ok {
		t.Fatalf("expected in-process locker, got %T", locker)
	}
}

func TestNewAggregator(t *testing.T) {
	clearSecretEnv(t)

	cfg := decodeConfig(t, sampleConfig)
	agg, err := newAggregator(cfg.Sources, zap.NewNop())
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	if got, want := agg.Names(), []string{"headhunter", "serpapi"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sources = %v, want %v", got, want)
	}

	cfg.Sources.Adzuna.AppID = "id"
	t.Setenv(envAdzunaKey, "key")
	agg, err = newAggregator(cfg.Sources, zap.NewNop())
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	if got, want := agg.Names(), []string{"headhunter", "adzuna", "serpapi"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sources = %v, want %v", got, want)
	}

	cfg.Sources.SerpAPI.APIKeyFile = "/does/not/exist"
	if _, err := newAggregator(cfg.Sources, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unreadable key file")
	}
}

func TestSelectUser(t *testing.T) {
	empty, _ := users.NewDirectory(nil)
	if _, err := selectUser(empty, nil); !errors.Is(err, errNoUser) {
		t.Fatalf("expected errNoUser, got %v", err)
	}

	single, _ := users.NewDirectory([]users.Settings{{ID: "alice"}})
	id, err := selectUser(single, func([]string) (string, error) {
		t.Fatal("should not ask with a single user")
		return "", nil
	})
	if err != nil || id != "alice" {
		t.Fatalf("expected alice, got %q, %v", id, err)
	}

	several, _ := users.NewDirectory([]users.Settings{{ID: "bob"}, {ID: "alice"}})
	var offered []string
	id, err = selectUser(several, func(ids []string) (string, error) {
		offered = ids
		return "bob", nil
	})
	if err != nil || id != "bob" {
		t.Fatalf("expected bob, got %q, %v", id, err)
	}
	if !reflect.DeepEqual(offered, []string{"alice", "bob"}) {
		t.Fatalf("expected sorted choices, got %v", offered)
	}

	_, err = selectUser(several, func([]string) (string, error) { return "", errors.New("interrupted") })
	if !errors.Is(err, errNoUser) {
		t.Fatalf("expected errNoUser on prompt failure, got %v", err)
	}
}

func TestLogFilters(t *testing.T) {
	dir, err := users.NewDirectory([]users.Settings{
		{ID: "alice"},
		{ID: "bob", Exclude: users.Exclude{Filters: []string{"duplicate_roles"}}},
	})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	core, logs := observer.New(zapcore.InfoLevel)

	logFilters(zap.New(core), dir)

	entries := logs.FilterMessage("notification filters").All()
	if len(entries) != 2 {
		t.Fatalf("expected one line per user, got %d", len(entries))
	}
	for _, e := range entries {
		statuses, ok := e.ContextMap()["filters"].([]filtering.Status)
		if !ok || len(statuses) != len(filtering.Names()) {
			t.Fatalf("unexpected filters field: %#v", e.ContextMap()["filters"])
		}
		dup := statuses[len(statuses)-1]
		wantEnabled := e.ContextMap()["user_id"] == "alice"
		if dup.Name != "duplicate_roles" || dup.Enabled != wantEnabled {
			t.Fatalf("user %v: unexpected status %+v", e.ContextMap()["user_id"], dup)
		}
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, "alice", &store.Stats{
		Tracked:    5,
		Notified:   3,
		Unnotified: 2,
		Runs:       4,
		BySource:   map[string]int{"serpapi": 3, "": 2},
		LastRun: &store.RunRecord{
			RunAt:   time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
			Fetched: 10,
			New:     5,
			Matched: 3,
			Error:   "boom",
		},
	})

	out := buf.String()
	for _, want := range []string{
		"statistics for alice",
		"Listings tracked: 5",
		"Unnotified listings: 2",
		"Total pipeline runs: 4",
		"  unknown: 2",
		"  serpapi: 3",
		"Last run: 2024-03-04T09:00:00Z",
		"  Notified: No",
		"  Error: boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}
