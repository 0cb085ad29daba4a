package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spigell/job-radar/internal/notify"
	"github.com/spigell/job-radar/internal/users"
)

type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	Redis     *RedisConfig     `mapstructure:"redis"`
	Sources   *SourcesConfig   `mapstructure:"sources"`
	AI        *AIConfig        `mapstructure:"ai"`
	Notify    *NotifyConfig    `mapstructure:"notify"`
	Telemetry *TelemetryConfig `mapstructure:"telemetry"`
	Users     []users.Settings `mapstructure:"users"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// RedisConfig enables the shared run lock. Without an address runs are guarded in-process only.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	PasswordFile string        `mapstructure:"password-file"`
	LockTTL      time.Duration `mapstructure:"lock-ttl"`
}

type SourcesConfig struct {
	Timeout     time.Duration     `mapstructure:"timeout"`
	Concurrency int               `mapstructure:"concurrency"`
	Headhunter  *HeadhunterConfig `mapstructure:"headhunter"`
	Adzuna      *AdzunaConfig     `mapstructure:"adzuna"`
	SerpAPI     *SerpAPIConfig    `mapstructure:"serpapi"`
}

type HeadhunterConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	TokenFile  string   `mapstructure:"token-file"`
	Areas      []int    `mapstructure:"areas"`
	Schedules  []string `mapstructure:"schedules"`
	Experience string   `mapstructure:"experience"`
	Period     uint     `mapstructure:"period"`
}

type AdzunaConfig struct {
	AppID      string `mapstructure:"app-id"`
	AppKey     string `mapstructure:"app-key"`
	AppKeyFile string `mapstructure:"app-key-file"`
	Country    string `mapstructure:"country"`
}

type SerpAPIConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// PreFilter is the keyword score a listing needs before it is sent to the model.
	PreFilter float64       `mapstructure:"pre-filter"`
	Gemini    *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type NotifyConfig struct {
	Transport string      `mapstructure:"transport"`
	SMTP      *SMTPConfig `mapstructure:"smtp"`
	NATS      *NATSConfig `mapstructure:"nats"`
}

type SMTPConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	PasswordFile string   `mapstructure:"password-file"`
	From         string   `mapstructure:"from"`
	To           []string `mapstructure:"to"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Stream  string `mapstructure:"stream"`
}

type TelemetryConfig struct {
	// Endpoint is the OTLP gRPC collector address. Tracing is off when empty.
	Endpoint string `mapstructure:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "job-radar.db")
	v.SetDefault("redis.lock-ttl", 30*time.Minute)
	v.SetDefault("sources.timeout", 60*time.Second)
	v.SetDefault("sources.concurrency", 4)
	v.SetDefault("sources.adzuna.country", "us")
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("ai.pre-filter", 0.2)
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 200)
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("telemetry.endpoint", "")
}

// normalize fills the sections a config file may omit so callers never see nil.
func (c *Config) normalize() {
	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	if c.Sources == nil {
		c.Sources = &SourcesConfig{}
	}
	if c.Sources.Headhunter == nil {
		c.Sources.Headhunter = &HeadhunterConfig{}
	}
	if c.Sources.Adzuna == nil {
		c.Sources.Adzuna = &AdzunaConfig{}
	}
	if c.Sources.SerpAPI == nil {
		c.Sources.SerpAPI = &SerpAPIConfig{}
	}
	if c.AI == nil {
		c.AI = &AIConfig{}
	}
	if c.AI.Gemini == nil {
		c.AI.Gemini = &GeminiConfig{}
	}
	if c.Notify == nil {
		c.Notify = &NotifyConfig{}
	}
	if c.Notify.SMTP == nil {
		c.Notify.SMTP = &SMTPConfig{}
	}
	if c.Notify.NATS == nil {
		c.Notify.NATS = &NATSConfig{}
	}
	if c.Telemetry == nil {
		c.Telemetry = &TelemetryConfig{}
	}
}

// warnings reports settings that let the process start but will likely make runs useless.
func (c *Config) warnings() []string {
	var out []string

	if len(c.Users) == 0 {
		out = append(out, "no users configured")
	}
	for _, u := range c.Users {
		if strings.TrimSpace(u.ProfileFile) == "" {
			out = append(out, fmt.Sprintf("user %q has no profile-file; keyword scoring will use search titles only", u.ID))
		}
		if u.Matching.AI && !c.AI.Enabled {
			out = append(out, fmt.Sprintf("user %q asks for AI matching but ai.enabled is false", u.ID))
		}
	}

	src := c.Sources
	if !src.Headhunter.Enabled && !hasSecret(src.SerpAPI.APIKey, src.SerpAPI.APIKeyFile, envSerpAPIKey) &&
		(src.Adzuna.AppID == "" || !hasSecret(src.Adzuna.AppKey, src.Adzuna.AppKeyFile, envAdzunaKey)) {
		out = append(out, "no listing source is configured")
	}
	if !hasSecret(src.SerpAPI.APIKey, src.SerpAPI.APIKeyFile, envSerpAPIKey) {
		out = append(out, "SerpAPI key not set; Google Jobs search is disabled")
	}

	if c.AI.Enabled && !hasSecret(c.AI.Gemini.APIKey, c.AI.Gemini.APIKeyFile, envGeminiKey) {
		out = append(out, "AI matching enabled but no Gemini API key configured")
	}

	switch strings.ToLower(strings.TrimSpace(c.Notify.Transport)) {
	case notify.TransportNone:
		out = append(out, "no notification transport configured; matches are only stored")
	case notify.TransportSMTP:
		smtp := c.Notify.SMTP
		if smtp.Username == "" || !hasSecret(smtp.Password, smtp.PasswordFile, envSMTPPassword) {
			out = append(out, "email credentials not configured")
		}
		if len(smtp.To) == 0 && !everyUserHasRecipients(c.Users) {
			out = append(out, "no email recipient configured")
		}
	}

	return out
}

func everyUserHasRecipients(list []users.Settings) bool {
	if len(list) == 0 {
		return false
	}
	for _, u := range list {
		if len(u.Recipients) == 0 {
			return false
		}
	}
	return true
}
