package config

// Config is the top-level YAML structure.
type Config struct {
	Version     string          `yaml:"version"`
	Server      ServerConf      `yaml:"server"`
	Scheduler   SchedulerConf   `yaml:"scheduler"`
	Clock       ClockConf       `yaml:"clock"`
	Release     ReleaseConf     `yaml:"release"`
	Persistence PersistenceConf `yaml:"persistence"`
	Log         LogConf         `yaml:"log"`
}

// ServerConf configures the telecommand intake.
type ServerConf struct {
	Addr string `yaml:"addr"`
	// RatePerSec and Burst limit accepted telecommands; 0 disables the limit.
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// SchedulerConf holds tunable scheduling and queueing settings.
type SchedulerConf struct {
	Capacity        int   `yaml:"capacity"` // 0 = store ceiling (65535)
	QueueDepth      int   `yaml:"queue_depth"`
	TickMs          int   `yaml:"tick_ms"`
	SubmitTimeoutMs int   `yaml:"submit_timeout_ms"`
	MinLeadSeconds  int32 `yaml:"min_lead_seconds"`
}

// ClockConf sets the onboard time epoch, RFC 3339.
type ClockConf struct {
	Epoch string `yaml:"epoch"`
}

// ReleaseConf names the sinks released telecommands are forwarded to.
type ReleaseConf struct {
	Sinks []string `yaml:"sinks"`
}

// PersistenceConf configures the schedule journal.
type PersistenceConf struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConf selects log level (debug, info, warn, error) and format (text, json).
type LogConf struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
