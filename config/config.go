// Package config holds the configuration for the app password checker.
//
// Values come from three layers, applied in order:
//   - built-in defaults (NewDefaultConfig)
//   - an optional TOML file (LoadConfigFromFile), with ${VAR} expansion
//   - command-line flags set explicitly by the user
//
// Durations are kept as strings in the TOML file ("20s", "500ms") and parsed
// through the Get* accessors so that empty values fall back to defaults.
package config

import (
	"fmt"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/consts"
	"github.com/go-playground/validator/v10"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"`                                                      // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format" validate:"omitempty,oneof=json console"`              // Log format: "json" or "console"
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"` // Log level
}

// ProbeConfig describes the two endpoints every credential is checked against.
type ProbeConfig struct {
	IMAPAddr         string `toml:"imap_addr" validate:"required,hostname_port"`
	SMTPTLSAddr      string `toml:"smtp_tls_addr" validate:"required,hostname_port"`      // Implicit TLS submission endpoint
	SMTPStartTLSAddr string `toml:"smtp_starttls_addr" validate:"required,hostname_port"` // STARTTLS fallback endpoint
	Timeout          string `toml:"timeout"`                                              // Per-attempt timeout (connect + TLS + auth + close)
	InterProbePause  string `toml:"inter_probe_pause"`
	HeloName         string `toml:"helo_name" validate:"omitempty,hostname"`
	TLSVerify        bool   `toml:"tls_verify"`
	Trace            bool   `toml:"trace"` // Log redacted protocol traffic at debug level
}

// GetTimeout parses the per-attempt probe timeout.
func (p *ProbeConfig) GetTimeout() (time.Duration, error) {
	if p.Timeout == "" {
		return consts.DefaultProbeTimeout, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid probe timeout %q: %w", p.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("probe timeout must be positive, got %s", d)
	}
	return d, nil
}

// GetInterProbePause parses the pause between the IMAP and SMTP probes.
func (p *ProbeConfig) GetInterProbePause() (time.Duration, error) {
	if p.InterProbePause == "" {
		return consts.DefaultInterProbePause, nil
	}
	d, err := time.ParseDuration(p.InterProbePause)
	if err != nil {
		return 0, fmt.Errorf("invalid inter-probe pause %q: %w", p.InterProbePause, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("inter-probe pause cannot be negative, got %s", d)
	}
	return d, nil
}

// RunConfig controls a single batch run.
type RunConfig struct {
	Input          string `toml:"input"`
	Output         string `toml:"output" validate:"required"`
	Concurrency    int    `toml:"concurrency"` // Values below 1 run with one worker
	Sequential     bool   `toml:"sequential"`
	DelayOnSuccess string `toml:"delay_on_success"` // Cooldown after a fully successful credential
	Verbose        bool   `toml:"verbose"`
}

// GetDelayOnSuccess parses the post-success cooldown. Zero disables it.
func (r *RunConfig) GetDelayOnSuccess() (time.Duration, error) {
	if r.DelayOnSuccess == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.DelayOnSuccess)
	if err != nil {
		return 0, fmt.Errorf("invalid delay_on_success %q: %w", r.DelayOnSuccess, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("delay_on_success cannot be negative, got %s", d)
	}
	return d, nil
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr" validate:"required_if=Enabled true"`
	Path    string `toml:"path"`
}

// HistoryConfig controls the local sqlite run history.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path" validate:"required_if=Enabled true"`
}

// ArchiveConfig holds S3 settings for archiving finished reports.
type ArchiveConfig struct {
	Enabled    bool   `toml:"enabled"`
	Endpoint   string `toml:"endpoint" validate:"required_if=Enabled true"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
	Bucket     string `toml:"bucket" validate:"required_if=Enabled true"`
	Prefix     string `toml:"prefix"`
	DisableTLS bool   `toml:"disable_tls"`
}

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Probe   ProbeConfig   `toml:"probe"`
	Run     RunConfig     `toml:"run"`
	Metrics MetricsConfig `toml:"metrics"`
	History HistoryConfig `toml:"history"`
	Archive ArchiveConfig `toml:"archive"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Probe: ProbeConfig{
			IMAPAddr:         consts.DefaultIMAPAddr,
			SMTPTLSAddr:      consts.DefaultSMTPTLSAddr,
			SMTPStartTLSAddr: consts.DefaultSMTPStartTLSAddr,
			Timeout:          consts.DefaultProbeTimeout.String(),
			InterProbePause:  consts.DefaultInterProbePause.String(),
			HeloName:         consts.DefaultHeloName,
			TLSVerify:        true,
		},
		Run: RunConfig{
			Output:         consts.DefaultReportPath,
			Concurrency:    consts.DefaultConcurrency,
			DelayOnSuccess: "0s",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
			Path: "/metrics",
		},
		History: HistoryConfig{
			Path: "apppw_history.db",
		},
		Archive: ArchiveConfig{
			Prefix: "reports",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and that every duration parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Probe.GetTimeout(); err != nil {
		return err
	}
	if _, err := c.Probe.GetInterProbePause(); err != nil {
		return err
	}
	if _, err := c.Run.GetDelayOnSuccess(); err != nil {
		return err
	}
	return nil
}
