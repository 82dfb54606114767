// Package config loads the Facade's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be parsed from YAML strings
// like "30s" or "1h" instead of requiring nanosecond integers.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// DiagnosticsConfig configures the Scan Orchestrator.
type DiagnosticsConfig struct {
	MaxConcurrentScans int      `yaml:"max_concurrent_scans"`
	ScanQueueSize      int      `yaml:"scan_queue_size"`
	ScanTimeout        Duration `yaml:"scan_timeout"`
	FindingCap         int      `yaml:"finding_cap"`
	BatchSize          int      `yaml:"batch_size"`
}

// RemediationConfig configures the Remediation Engine.
type RemediationConfig struct {
	EnableAutoRemediation bool     `yaml:"enable_auto_remediation"`
	RequireApproval       bool     `yaml:"require_approval"`
	SnapshotTTL           Duration `yaml:"snapshot_ttl"`
	PoolSize              int      `yaml:"pool_size"`
	MaxRetries            int      `yaml:"max_retries"`
	RetryBaseDelay        Duration `yaml:"retry_base_delay"`
	RetryMaxDelay         Duration `yaml:"retry_max_delay"`
	MinActionTimeout      Duration `yaml:"min_action_timeout"`
	MaxActionTimeout      Duration `yaml:"max_action_timeout"`
}

// EventBusConfig configures the typed pub/sub bus.
type EventBusConfig struct {
	SubscriberBufferSize int `yaml:"subscriber_buffer_size"`
}

// LoggingConfig controls logrus's level and formatter.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the Facade's top-level configuration document.
type Config struct {
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Remediation RemediationConfig `yaml:"remediation"`
	EventBus    EventBusConfig    `yaml:"event_bus"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Default returns the stock configuration: small maxConcurrentScans,
// 1h scan timeout, approval required.
func Default() *Config {
	return &Config{
		Diagnostics: DiagnosticsConfig{
			MaxConcurrentScans: 4,
			ScanQueueSize:      16,
			ScanTimeout:        Duration(time.Hour),
			FindingCap:         100000,
			BatchSize:          100,
		},
		Remediation: RemediationConfig{
			EnableAutoRemediation: false,
			RequireApproval:       true,
			SnapshotTTL:           Duration(time.Hour),
			PoolSize:              2,
			MaxRetries:            2,
			RetryBaseDelay:        Duration(2 * time.Second),
			RetryMaxDelay:         Duration(30 * time.Second),
			MinActionTimeout:      Duration(30 * time.Second),
			MaxActionTimeout:      Duration(10 * time.Minute),
		},
		EventBus: EventBusConfig{
			SubscriberBufferSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses a YAML configuration file, applying defaults to
// anything the file leaves zero-valued and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills any field the file left at its zero value. Since
// Load seeds cfg with Default() before unmarshalling, yaml.Unmarshal
// only overwrites keys present in the file; this second pass catches
// fields a partial override of a nested struct may have zeroed.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Diagnostics.MaxConcurrentScans == 0 {
		cfg.Diagnostics.MaxConcurrentScans = d.Diagnostics.MaxConcurrentScans
	}
	if cfg.Diagnostics.ScanQueueSize == 0 {
		cfg.Diagnostics.ScanQueueSize = d.Diagnostics.ScanQueueSize
	}
	if cfg.Diagnostics.ScanTimeout == 0 {
		cfg.Diagnostics.ScanTimeout = d.Diagnostics.ScanTimeout
	}
	if cfg.Diagnostics.FindingCap == 0 {
		cfg.Diagnostics.FindingCap = d.Diagnostics.FindingCap
	}
	if cfg.Diagnostics.BatchSize == 0 {
		cfg.Diagnostics.BatchSize = d.Diagnostics.BatchSize
	}
	if cfg.Remediation.SnapshotTTL == 0 {
		cfg.Remediation.SnapshotTTL = d.Remediation.SnapshotTTL
	}
	if cfg.Remediation.PoolSize == 0 {
		cfg.Remediation.PoolSize = d.Remediation.PoolSize
	}
	if cfg.Remediation.MaxRetries == 0 {
		cfg.Remediation.MaxRetries = d.Remediation.MaxRetries
	}
	if cfg.Remediation.RetryBaseDelay == 0 {
		cfg.Remediation.RetryBaseDelay = d.Remediation.RetryBaseDelay
	}
	if cfg.Remediation.RetryMaxDelay == 0 {
		cfg.Remediation.RetryMaxDelay = d.Remediation.RetryMaxDelay
	}
	if cfg.Remediation.MinActionTimeout == 0 {
		cfg.Remediation.MinActionTimeout = d.Remediation.MinActionTimeout
	}
	if cfg.Remediation.MaxActionTimeout == 0 {
		cfg.Remediation.MaxActionTimeout = d.Remediation.MaxActionTimeout
	}
	if cfg.EventBus.SubscriberBufferSize == 0 {
		cfg.EventBus.SubscriberBufferSize = d.EventBus.SubscriberBufferSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}

func validate(cfg *Config) error {
	if cfg.Diagnostics.MaxConcurrentScans <= 0 {
		return fmt.Errorf("diagnostics.max_concurrent_scans must be > 0")
	}
	if cfg.Diagnostics.ScanTimeout.Duration() <= 0 {
		return fmt.Errorf("diagnostics.scan_timeout must be > 0")
	}
	if cfg.Diagnostics.FindingCap <= 0 {
		return fmt.Errorf("diagnostics.finding_cap must be > 0")
	}
	if cfg.Remediation.PoolSize <= 0 {
		return fmt.Errorf("remediation.pool_size must be > 0")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported logging format %q", cfg.Logging.Format)
	}
	return nil
}
