package config

import (
	"fmt"
)

// GenomeRetentionConfig holds configuration for Shadow Genome pruning
type GenomeRetentionConfig struct {
	// ResolvedRetentionDays is how long terminal (resolved, wont-fix,
	// superseded) entries are kept after creation
	// Default: 90, Range: 1-730
	ResolvedRetentionDays int `yaml:"resolved_retention_days"`

	// UnresolvedRetentionDays is how long open entries are kept.
	// Must be >= ResolvedRetentionDays
	// Default: 180, Range: 1-1825
	UnresolvedRetentionDays int `yaml:"unresolved_retention_days"`

	// ArchiveBeforePrune writes pruned entries to a JSON file under ArchiveDir
	// Default: true
	ArchiveBeforePrune bool `yaml:"archive_before_prune"`

	// ArchiveDir is where cold storage archives go, relative to the workspace
	// Default: .sentinel/archive
	ArchiveDir string `yaml:"archive_dir"`

	// PruneIntervalHours is how often the daemon prunes (in hours)
	// Default: 24, Range: 1-168
	PruneIntervalHours int `yaml:"prune_interval_hours"`

	// PruneEnabled controls whether the daemon prunes automatically
	// Default: true
	PruneEnabled bool `yaml:"prune_enabled"`
}

// DefaultGenomeRetentionConfig returns the default retention configuration
func DefaultGenomeRetentionConfig() GenomeRetentionConfig {
	return GenomeRetentionConfig{
		ResolvedRetentionDays:   90,
		UnresolvedRetentionDays: 180,
		ArchiveBeforePrune:      true,
		ArchiveDir:              ".sentinel/archive",
		PruneIntervalHours:      24,
		PruneEnabled:            true,
	}
}

// Validate checks if the configuration has valid values
func (c GenomeRetentionConfig) Validate() error {
	if c.ResolvedRetentionDays < 1 || c.ResolvedRetentionDays > 730 {
		return fmt.Errorf("resolved_retention_days must be between 1 and 730 (got %d)", c.ResolvedRetentionDays)
	}
	if c.UnresolvedRetentionDays < 1 || c.UnresolvedRetentionDays > 1825 {
		return fmt.Errorf("unresolved_retention_days must be between 1 and 1825 (got %d)",
			c.UnresolvedRetentionDays)
	}
	if c.UnresolvedRetentionDays < c.ResolvedRetentionDays {
		return fmt.Errorf("unresolved_retention_days (%d) must be >= resolved_retention_days (%d)",
			c.UnresolvedRetentionDays, c.ResolvedRetentionDays)
	}
	if c.ArchiveBeforePrune && c.ArchiveDir == "" {
		return fmt.Errorf("archive_dir is required when archive_before_prune is set")
	}
	if c.PruneIntervalHours < 1 || c.PruneIntervalHours > 168 {
		return fmt.Errorf("prune_interval_hours must be between 1 and 168 (got %d)", c.PruneIntervalHours)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c GenomeRetentionConfig) String() string {
	return fmt.Sprintf(
		"GenomeRetentionConfig{Resolved: %dd, Unresolved: %dd, Archive: %t (%s), Interval: %dh, Enabled: %t}",
		c.ResolvedRetentionDays, c.UnresolvedRetentionDays, c.ArchiveBeforePrune,
		c.ArchiveDir, c.PruneIntervalHours, c.PruneEnabled,
	)
}

// GenomeRetentionConfigFromEnv creates a GenomeRetentionConfig from environment
// variables, falling back to defaults
//
// Environment variables:
//   - SENTINEL_GENOME_RESOLVED_DAYS: Retention for resolved entries (default: 90)
//   - SENTINEL_GENOME_UNRESOLVED_DAYS: Retention for unresolved entries (default: 180)
//   - SENTINEL_GENOME_ARCHIVE: Archive to JSON before pruning (default: true)
//   - SENTINEL_GENOME_ARCHIVE_DIR: Archive directory (default: .sentinel/archive)
//   - SENTINEL_GENOME_PRUNE_INTERVAL_HOURS: Prune interval in hours (default: 24)
//   - SENTINEL_GENOME_PRUNE_ENABLED: Enable automatic pruning (default: true)
func GenomeRetentionConfigFromEnv() (GenomeRetentionConfig, error) {
	cfg := DefaultGenomeRetentionConfig()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid genome retention configuration from environment: %w", err)
	}
	return cfg, nil
}

func (c *GenomeRetentionConfig) applyEnv() error {
	if err := parseEnvInt("SENTINEL_GENOME_RESOLVED_DAYS", &c.ResolvedRetentionDays); err != nil {
		return err
	}
	if err := parseEnvInt("SENTINEL_GENOME_UNRESOLVED_DAYS", &c.UnresolvedRetentionDays); err != nil {
		return err
	}
	if err := parseEnvBool("SENTINEL_GENOME_ARCHIVE", &c.ArchiveBeforePrune); err != nil {
		return err
	}
	if err := parseEnvString("SENTINEL_GENOME_ARCHIVE_DIR", &c.ArchiveDir); err != nil {
		return err
	}
	if err := parseEnvInt("SENTINEL_GENOME_PRUNE_INTERVAL_HOURS", &c.PruneIntervalHours); err != nil {
		return err
	}
	return parseEnvBool("SENTINEL_GENOME_PRUNE_ENABLED", &c.PruneEnabled)
}
