// Package config loads studysync settings from a config file, environment
// variables and built-in defaults, in that order of precedence after
// explicit flags.
//
// Environment variables use the STUDYSYNC_ prefix with dots replaced by
// underscores: sync.interval is STUDYSYNC_SYNC_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/studysync/studysync/internal/cloud"
	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/tracing"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STUDYSYNC"

// Cloud backends. With BackendNone writes stay local and unsynced until a
// durable cloud is configured.
const (
	BackendNone  = "none"
	BackendRedis = "redis"
)

// Config is the full application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	User      UserConfig      `mapstructure:"user"`
	Cloud     CloudConfig     `mapstructure:"cloud"`
	Secondary SecondaryConfig `mapstructure:"secondary"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`
	API       APIConfig       `mapstructure:"api"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Trace     TraceConfig     `mapstructure:"trace"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// UserConfig identifies the signed-in account.
type UserConfig struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// CloudConfig selects the document store backing the cloud replica.
type CloudConfig struct {
	Backend  string `mapstructure:"backend"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SecondaryConfig points at the secondary HTTP API. An empty URL disables
// the mirror.
type SecondaryConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Kinds   []string      `mapstructure:"kinds"`
}

type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Debounce      time.Duration `mapstructure:"debounce"`
	PushTimeout   time.Duration `mapstructure:"push_timeout"`
	PullTimeout   time.Duration `mapstructure:"pull_timeout"`
	Concurrency   int           `mapstructure:"concurrency"`

	RetryBase     time.Duration `mapstructure:"retry_base"`
	RetryMax      time.Duration `mapstructure:"retry_max"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryCapacity int           `mapstructure:"retry_capacity"`

	// ProbeHosts are dialled to decide whether the network is up. Empty
	// means always online unless Offline is set.
	ProbeHosts    []string      `mapstructure:"probe_hosts"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	Offline       bool          `mapstructure:"offline"`

	ReminderLead time.Duration `mapstructure:"reminder_lead"`
}

type LogConfig struct {
	Mode       string `mapstructure:"mode"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// APIConfig configures `studysync api serve`.
type APIConfig struct {
	Addr        string `mapstructure:"addr"`
	Database    string `mapstructure:"database"`
	UploadDir   string `mapstructure:"upload_dir"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TraceConfig enables OpenTelemetry spans for sync operations.
type TraceConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	File        string  `mapstructure:"file"` // empty writes to stderr
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DataDir is where studysync keeps its files by default.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".studysync"
	}
	return filepath.Join(home, ".studysync")
}

// DefaultPath is the config file written by `config init`.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	dir := DataDir()
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(dir, "studysync.db")},
		Cloud: CloudConfig{
			Backend: BackendNone,
			Addr:    "localhost:6379",
			Prefix:  "studysync",
		},
		Secondary: SecondaryConfig{
			Timeout: 15 * time.Second,
			Kinds:   []string{string(schema.KindTask), string(schema.KindResource)},
		},
		Sync: SyncConfig{
			Interval:      5 * time.Minute,
			RetryInterval: 10 * time.Second,
			Debounce:      500 * time.Millisecond,
			PushTimeout:   30 * time.Second,
			PullTimeout:   60 * time.Second,
			Concurrency:   4,
			RetryBase:     reconcile.DefaultRetryPolicy.BaseDelay,
			RetryMax:      reconcile.DefaultRetryPolicy.MaxDelay,
			RetryAttempts: reconcile.DefaultRetryPolicy.MaxAttempts,
			RetryCapacity: reconcile.DefaultRetryPolicy.Capacity,
			ProbeInterval: 30 * time.Second,
			ReminderLead:  24 * time.Hour,
		},
		Log: LogConfig{
			Mode:       "dev",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		API: APIConfig{
			Addr:        ":8080",
			Database:    filepath.Join(dir, "api.db"),
			UploadDir:   filepath.Join(dir, "uploads"),
			MaxUploadMB: 32,
		},
		Dashboard: DashboardConfig{Host: "localhost", Port: 8081},
		Trace:     TraceConfig{SampleRatio: 1},
	}
}

// Load reads configuration. With an explicit path the file must exist;
// otherwise the default locations are searched and a missing file is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(DataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range flatten("", cfg.Map()) {
		v.SetDefault(key, value)
	}
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for fk, fv := range flatten(key, sub) {
				out[fk] = fv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// Validate checks values that would otherwise fail later and obscurely.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Database.Path) == "" {
		problems = append(problems, "database.path is empty")
	}
	switch c.Cloud.Backend {
	case BackendNone:
	case BackendRedis:
		if strings.TrimSpace(c.Cloud.Addr) == "" {
			problems = append(problems, "cloud.addr is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("cloud.backend %q is not one of none, redis", c.Cloud.Backend))
	}
	for _, k := range c.Secondary.Kinds {
		if _, err := schema.ParseKind(k); err != nil {
			problems = append(problems, fmt.Sprintf("secondary.kinds: %v", err))
		}
	}
	if c.Sync.Interval <= 0 {
		problems = append(problems, "sync.interval must be positive")
	}
	if c.Sync.Concurrency < 0 {
		problems = append(problems, "sync.concurrency must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		problems = append(problems, "dashboard.port out of range")
	}
	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		problems = append(problems, "trace.sample_ratio must be between 0 and 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ===== Conversions =====

// LoggingOptions returns options for logging.New.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Mode:       c.Log.Mode,
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// TracingOptions returns options for tracing.Init.
func (c *Config) TracingOptions() tracing.Options {
	return tracing.Options{
		Enabled:     c.Trace.Enabled,
		File:        c.Trace.File,
		SampleRatio: c.Trace.SampleRatio,
	}
}

// RedisOptions returns options for cloud.NewRedis.
func (c *Config) RedisOptions() cloud.RedisOptions {
	return cloud.RedisOptions{
		Addr:     c.Cloud.Addr,
		Password: c.Cloud.Password,
		DB:       c.Cloud.DB,
		Prefix:   c.Cloud.Prefix,
	}
}

// RetryPolicy returns the engine's retry policy.
func (c *Config) RetryPolicy() reconcile.RetryPolicy {
	return reconcile.RetryPolicy{
		BaseDelay:   c.Sync.RetryBase,
		MaxDelay:    c.Sync.RetryMax,
		MaxAttempts: c.Sync.RetryAttempts,
		Capacity:    c.Sync.RetryCapacity,
	}
}

// SecondaryKinds returns the kinds mirrored to the secondary API.
// Validate has already rejected unknown names.
func (c *Config) SecondaryKinds() []schema.Kind {
	kinds := make([]schema.Kind, 0, len(c.Secondary.Kinds))
	for _, k := range c.Secondary.Kinds {
		if kind, err := schema.ParseKind(k); err == nil {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
