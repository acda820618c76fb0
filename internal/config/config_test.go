package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Sentinel.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Model.ProbeTimeout)
	assert.Equal(t, 5*time.Second, cfg.Model.CallTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Sentinel.QuarantineDuration)
	assert.True(t, cfg.Sentinel.RecordObservations)
	assert.Equal(t, ".sentinel/archive", cfg.Ledger.ArchiveDir)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "heuristic", cfg.Sentinel.Mode)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	content := `
sentinel:
  mode: hybrid
  queue_size: 50
  quarantine_duration: 24h
model:
  endpoint: http://localhost:11500
approval:
  sla: 5m
genome:
  resolved_retention_days: 30
  unresolved_retention_days: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("SENTINEL_QUEUE_SIZE", "75")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hybrid", cfg.Sentinel.Mode)
	assert.Equal(t, 75, cfg.Sentinel.QueueSize, "env overrides file")
	assert.Equal(t, 24*time.Hour, cfg.Sentinel.QuarantineDuration)
	assert.Equal(t, "http://localhost:11500", cfg.Model.Endpoint)
	assert.Equal(t, 5*time.Minute, cfg.Approval.SLA)
	assert.Equal(t, 30, cfg.Genome.ResolvedRetentionDays)
	// untouched sections keep defaults
	assert.Equal(t, "phi3:mini", cfg.Model.Model)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad mode", "sentinel:\n  mode: aggressive\n"},
		{"zero queue", "sentinel:\n  queue_size: 0\n"},
		{"bad provider", "model:\n  provider: openai\n"},
		{"retention order", "genome:\n  resolved_retention_days: 200\n  unresolved_retention_days: 100\n"},
		{"malformed yaml", "sentinel: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sentinel.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	t.Setenv("SENTINEL_QUEUE_SIZE", "lots")
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv())
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "/work"
	assert.Equal(t, "/work/.sentinel/sentinel.db", cfg.Resolve(cfg.Ledger.DBPath))
	assert.Equal(t, "/abs/db", cfg.Resolve("/abs/db"))
}
