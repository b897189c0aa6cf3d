package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
)

// Validate checks the config for:
//   - Required fields
//   - Non-negative limits and positive intervals
//   - A parseable clock epoch and log level
//   - Duplicate sink names
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	s := cfg.Scheduler
	if s.Capacity < 0 || s.Capacity > schedule.MaxActivities {
		errs = append(errs, fmt.Sprintf("scheduler.capacity must be in [0, %d], got %d", schedule.MaxActivities, s.Capacity))
	}
	if s.QueueDepth <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.queue_depth must be > 0, got %d", s.QueueDepth))
	}
	if s.TickMs <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.tick_ms must be > 0, got %d", s.TickMs))
	}
	if s.SubmitTimeoutMs < 0 {
		errs = append(errs, fmt.Sprintf("scheduler.submit_timeout_ms must be >= 0, got %d", s.SubmitTimeoutMs))
	}
	if s.MinLeadSeconds < 0 {
		errs = append(errs, fmt.Sprintf("scheduler.min_lead_seconds must be >= 0, got %d", s.MinLeadSeconds))
	}

	if cfg.Server.RatePerSec < 0 {
		errs = append(errs, fmt.Sprintf("server.rate_per_sec must be >= 0, got %v", cfg.Server.RatePerSec))
	}
	if cfg.Server.Burst < 0 {
		errs = append(errs, fmt.Sprintf("server.burst must be >= 0, got %d", cfg.Server.Burst))
	}

	if _, err := cfg.Clock.EpochTime(); err != nil {
		errs = append(errs, err.Error())
	}

	seen := make(map[string]bool, len(cfg.Release.Sinks))
	for i, name := range cfg.Release.Sinks {
		switch {
		case name == "":
			errs = append(errs, fmt.Sprintf("release.sinks[%d]: name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Sprintf("release.sinks[%d]: duplicate sink %q", i, name))
		}
		seen[name] = true
	}

	if cfg.Persistence.Enabled && cfg.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	if _, err := cfg.Log.SlogLevel(); err != nil {
		errs = append(errs, err.Error())
	}
	if f := cfg.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Sprintf("log.format must be text or json, got %q", f))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EpochTime parses the configured epoch.
func (c ClockConf) EpochTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.Epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock.epoch %q: %w", c.Epoch, err)
	}
	return t, nil
}

// SlogLevel parses the configured level.
func (c LogConf) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Level, err)
	}
	return lvl, nil
}
