// Package config loads sentinel configuration from .sentinel/sentinel.yaml
// with SENTINEL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qorelogic/sentinel/internal/logging"
)

// StateDir is the per-workspace directory holding sentinel state
const StateDir = ".sentinel"

// DefaultConfigFile is the config path relative to the workspace root
const DefaultConfigFile = StateDir + "/sentinel.yaml"

// Config is the complete sentinel configuration
type Config struct {
	// Workspace is the root of the audited workspace. Relative state paths
	// below are resolved against it.
	Workspace string                `yaml:"workspace"`
	Sentinel  SentinelConfig        `yaml:"sentinel"`
	Model     ModelConfig           `yaml:"model"`
	Ledger    LedgerConfig          `yaml:"ledger"`
	Genome    GenomeRetentionConfig `yaml:"genome"`
	Approval  ApprovalConfig        `yaml:"approval"`
	Bridge    BridgeConfig          `yaml:"bridge"`
	Logging   logging.Config        `yaml:"logging"`
}

// SentinelConfig controls the daemon and its evaluation pipeline
type SentinelConfig struct {
	Enabled bool `yaml:"enabled"`
	// Mode is one of heuristic, model-assisted, hybrid
	Mode string `yaml:"mode"`
	// QueueSize bounds the pending event queue
	QueueSize int `yaml:"queue_size"`
	// HistorySize bounds the event bus replay history
	HistorySize int `yaml:"history_size"`
	// MaxFileBytes is the largest file read for analysis
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	// MaxScanBytes is the largest content fed to pattern matching
	MaxScanBytes int `yaml:"max_scan_bytes"`
	// PatternsFile holds custom heuristic patterns
	PatternsFile string `yaml:"patterns_file"`
	// RiskPolicyFile overrides the risk grade triggers
	RiskPolicyFile string `yaml:"risk_policy_file"`
	// SystemAgentID is attributed to events with no agent
	SystemAgentID string `yaml:"system_agent_id"`
	// QuarantineDuration is applied on QUARANTINE verdicts
	QuarantineDuration time.Duration `yaml:"quarantine_duration"`
	// QuarantineRepeatOffenders re-quarantines agents that fail again while
	// already quarantined
	QuarantineRepeatOffenders bool `yaml:"quarantine_repeat_offenders"`
	// RecordObservations keeps every processed event and its verdict in
	// sentinel_observations for later retrieval
	RecordObservations bool `yaml:"record_observations"`
	// WatchDebounce coalesces bursts of file notifications
	WatchDebounce time.Duration `yaml:"watch_debounce"`
	// ControlSocket is the unix socket the daemon answers on
	ControlSocket string `yaml:"control_socket"`
}

// ModelConfig controls the optional model-assisted check
type ModelConfig struct {
	// Provider is "ollama" or "anthropic"
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// AnthropicModel is used when Provider is anthropic; the key comes
	// from ANTHROPIC_API_KEY only.
	AnthropicModel  string        `yaml:"anthropic_model"`
	AnthropicAPIKey string        `yaml:"-"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	RatePerMinute   int           `yaml:"rate_per_minute"`
	// Circuit breaker settings
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// LedgerConfig controls ledger storage and signing
type LedgerConfig struct {
	DBPath     string `yaml:"db_path"`
	SecretsDir string `yaml:"secrets_dir"`
	// ArchiveDir receives gzipped ledger exports
	ArchiveDir string `yaml:"archive_dir"`
}

// ApprovalConfig controls the human-approval queue
type ApprovalConfig struct {
	// SLA is added to the verdict time to compute the approval deadline
	SLA time.Duration `yaml:"sla"`
}

// BridgeConfig controls the optional NATS republisher
type BridgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the default configuration for a workspace
func Default() Config {
	return Config{
		Workspace: ".",
		Sentinel: SentinelConfig{
			Enabled:            true,
			Mode:               "heuristic",
			QueueSize:          100,
			HistorySize:        1000,
			MaxFileBytes:       5 << 20,
			MaxScanBytes:       1 << 20,
			PatternsFile:       StateDir + "/patterns.yaml",
			RiskPolicyFile:     StateDir + "/risk_policy.yaml",
			SystemAgentID:      "did:myth:system:watcher",
			QuarantineDuration: 48 * time.Hour,
			RecordObservations: true,
			WatchDebounce:      250 * time.Millisecond,
			ControlSocket:      StateDir + "/sentinel.sock",
		},
		Model: ModelConfig{
			Provider:         "ollama",
			Endpoint:         "http://localhost:11434",
			Model:            "phi3:mini",
			AnthropicModel:   "claude-3-5-haiku-20241022",
			ProbeTimeout:     2 * time.Second,
			CallTimeout:      5 * time.Second,
			MaxConcurrent:    1,
			RatePerMinute:    30,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Ledger: LedgerConfig{
			DBPath:     StateDir + "/sentinel.db",
			SecretsDir: StateDir + "/secrets",
			ArchiveDir: StateDir + "/archive",
		},
		Genome: DefaultGenomeRetentionConfig(),
		Approval: ApprovalConfig{
			SLA: 120 * time.Second,
		},
		Bridge: BridgeConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "sentinel",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables
//
// Environment variables:
//   - SENTINEL_WORKSPACE: Workspace root
//   - SENTINEL_MODE: heuristic, model-assisted or hybrid
//   - SENTINEL_QUEUE_SIZE, SENTINEL_HISTORY_SIZE, SENTINEL_MAX_FILE_BYTES
//   - SENTINEL_SYSTEM_AGENT_ID, SENTINEL_QUARANTINE_DURATION
//   - SENTINEL_QUARANTINE_REPEAT_OFFENDERS
//   - SENTINEL_MODEL_PROVIDER, SENTINEL_MODEL_ENDPOINT, SENTINEL_MODEL
//   - ANTHROPIC_API_KEY
//   - SENTINEL_DB_PATH, SENTINEL_SECRETS_DIR, SENTINEL_LEDGER_ARCHIVE_DIR
//   - SENTINEL_RECORD_OBSERVATIONS
//   - SENTINEL_APPROVAL_SLA
//   - SENTINEL_NATS_ENABLED, SENTINEL_NATS_URL
//   - SENTINEL_LOG_LEVEL
//   - SENTINEL_GENOME_* (see GenomeRetentionConfigFromEnv)
func (c *Config) ApplyEnv() error {
	steps := []func() error{
		func() error { return parseEnvString("SENTINEL_WORKSPACE", &c.Workspace) },
		func() error { return parseEnvString("SENTINEL_MODE", &c.Sentinel.Mode) },
		func() error { return parseEnvInt("SENTINEL_QUEUE_SIZE", &c.Sentinel.QueueSize) },
		func() error { return parseEnvInt("SENTINEL_HISTORY_SIZE", &c.Sentinel.HistorySize) },
		func() error { return parseEnvInt64("SENTINEL_MAX_FILE_BYTES", &c.Sentinel.MaxFileBytes) },
		func() error { return parseEnvString("SENTINEL_SYSTEM_AGENT_ID", &c.Sentinel.SystemAgentID) },
		func() error { return parseEnvDuration("SENTINEL_QUARANTINE_DURATION", &c.Sentinel.QuarantineDuration) },
		func() error {
			return parseEnvBool("SENTINEL_QUARANTINE_REPEAT_OFFENDERS", &c.Sentinel.QuarantineRepeatOffenders)
		},
		func() error { return parseEnvString("SENTINEL_MODEL_PROVIDER", &c.Model.Provider) },
		func() error { return parseEnvString("SENTINEL_MODEL_ENDPOINT", &c.Model.Endpoint) },
		func() error { return parseEnvString("SENTINEL_MODEL", &c.Model.Model) },
		func() error { return parseEnvString("ANTHROPIC_API_KEY", &c.Model.AnthropicAPIKey) },
		func() error { return parseEnvString("SENTINEL_DB_PATH", &c.Ledger.DBPath) },
		func() error { return parseEnvString("SENTINEL_SECRETS_DIR", &c.Ledger.SecretsDir) },
		func() error { return parseEnvString("SENTINEL_LEDGER_ARCHIVE_DIR", &c.Ledger.ArchiveDir) },
		func() error { return parseEnvBool("SENTINEL_RECORD_OBSERVATIONS", &c.Sentinel.RecordObservations) },
		func() error { return parseEnvDuration("SENTINEL_APPROVAL_SLA", &c.Approval.SLA) },
		func() error { return parseEnvBool("SENTINEL_NATS_ENABLED", &c.Bridge.Enabled) },
		func() error { return parseEnvString("SENTINEL_NATS_URL", &c.Bridge.URL) },
		func() error { return parseEnvString("SENTINEL_LOG_LEVEL", &c.Logging.Level) },
		c.Genome.applyEnv,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	switch c.Sentinel.Mode {
	case "heuristic", "model-assisted", "hybrid":
	default:
		return fmt.Errorf("sentinel.mode must be heuristic, model-assisted or hybrid (got %q)", c.Sentinel.Mode)
	}
	if c.Sentinel.QueueSize < 1 || c.Sentinel.QueueSize > 10000 {
		return fmt.Errorf("sentinel.queue_size must be between 1 and 10000 (got %d)", c.Sentinel.QueueSize)
	}
	if c.Sentinel.HistorySize < 1 {
		return fmt.Errorf("sentinel.history_size must be at least 1 (got %d)", c.Sentinel.HistorySize)
	}
	if c.Sentinel.MaxFileBytes < 1 {
		return fmt.Errorf("sentinel.max_file_bytes must be positive (got %d)", c.Sentinel.MaxFileBytes)
	}
	if c.Sentinel.MaxScanBytes < 1 {
		return fmt.Errorf("sentinel.max_scan_bytes must be positive (got %d)", c.Sentinel.MaxScanBytes)
	}
	if c.Sentinel.SystemAgentID == "" {
		return fmt.Errorf("sentinel.system_agent_id is required")
	}
	if c.Sentinel.QuarantineDuration <= 0 {
		return fmt.Errorf("sentinel.quarantine_duration must be positive")
	}

	switch c.Model.Provider {
	case "ollama", "anthropic":
	default:
		return fmt.Errorf("model.provider must be ollama or anthropic (got %q)", c.Model.Provider)
	}
	if c.Model.ProbeTimeout <= 0 || c.Model.CallTimeout <= 0 {
		return fmt.Errorf("model timeouts must be positive")
	}
	if c.Model.MaxConcurrent < 0 {
		return fmt.Errorf("model.max_concurrent cannot be negative (got %d)", c.Model.MaxConcurrent)
	}
	if c.Model.RatePerMinute < 0 {
		return fmt.Errorf("model.rate_per_minute cannot be negative (got %d)", c.Model.RatePerMinute)
	}

	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path is required")
	}
	if c.Ledger.SecretsDir == "" {
		return fmt.Errorf("ledger.secrets_dir is required")
	}
	if c.Approval.SLA <= 0 {
		return fmt.Errorf("approval.sla must be positive")
	}
	if c.Bridge.Enabled && c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required when the bridge is enabled")
	}

	if err := c.Genome.Validate(); err != nil {
		return fmt.Errorf("genome: %w", err)
	}
	return nil
}

// Resolve returns p joined to the workspace root unless it is absolute
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}
