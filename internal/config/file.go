package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Map returns the configuration as nested maps keyed like the config file.
// Durations are rendered as strings so the output reads back through Load.
func (c *Config) Map() map[string]any {
	return map[string]any{
		"database": map[string]any{
			"path": c.Database.Path,
		},
		"user": map[string]any{
			"id":    c.User.ID,
			"name":  c.User.Name,
			"email": c.User.Email,
		},
		"cloud": map[string]any{
			"backend":  c.Cloud.Backend,
			"addr":     c.Cloud.Addr,
			"password": c.Cloud.Password,
			"db":       c.Cloud.DB,
			"prefix":   c.Cloud.Prefix,
		},
		"secondary": map[string]any{
			"url":     c.Secondary.URL,
			"timeout": c.Secondary.Timeout.String(),
			"kinds":   nonNil(c.Secondary.Kinds),
		},
		"sync": map[string]any{
			"interval":       c.Sync.Interval.String(),
			"retry_interval": c.Sync.RetryInterval.String(),
			"debounce":       c.Sync.Debounce.String(),
			"push_timeout":   c.Sync.PushTimeout.String(),
			"pull_timeout":   c.Sync.PullTimeout.String(),
			"concurrency":    c.Sync.Concurrency,
			"retry_base":     c.Sync.RetryBase.String(),
			"retry_max":      c.Sync.RetryMax.String(),
			"retry_attempts": c.Sync.RetryAttempts,
			"retry_capacity": c.Sync.RetryCapacity,
			"probe_hosts":    nonNil(c.Sync.ProbeHosts),
			"probe_interval": c.Sync.ProbeInterval.String(),
			"offline":        c.Sync.Offline,
			"reminder_lead":  c.Sync.ReminderLead.String(),
		},
		"log": map[string]any{
			"mode":         c.Log.Mode,
			"level":        c.Log.Level,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
		"api": map[string]any{
			"addr":          c.API.Addr,
			"database":      c.API.Database,
			"upload_dir":    c.API.UploadDir,
			"max_upload_mb": c.API.MaxUploadMB,
		},
		"dashboard": map[string]any{
			"host": c.Dashboard.Host,
			"port": c.Dashboard.Port,
		},
		"trace": map[string]any{
			"enabled":      c.Trace.Enabled,
			"file":         c.Trace.File,
			"sample_ratio": c.Trace.SampleRatio,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// YAML renders the configuration as YAML. The cloud password is masked.
func (c *Config) YAML() ([]byte, error) {
	m := c.Map()
	if c.Cloud.Password != "" {
		m["cloud"].(map[string]any)["password"] = "********"
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves the configuration to path. A .toml extension selects TOML,
// anything else YAML. Existing files are not overwritten unless force is
// set.
func (c *Config) Write(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(c.Map()); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c.Map()); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_ = enc.Close()
	}

	// The file may hold a redis password.
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
