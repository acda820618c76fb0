package genome

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/config"
	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func setupStore(t *testing.T) (*Store, *ledger.Manager, *clock) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	led, err := ledger.Open(ctx, ledger.Config{DB: db, Secrets: ledger.NewMemorySecretStore(), Logger: logging.NewTestLogger()})
	require.NoError(t, err)

	c := &clock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	s, err := New(Config{DB: db, Ledger: led, Logger: logging.NewTestLogger(), Now: c.Now})
	require.NoError(t, err)
	return s, led, c
}

func failedVerdict(agent, path string, decision types.Decision, patterns ...string) *types.Verdict {
	return &types.Verdict{
		ID:              "v-" + path,
		EventID:         "e-" + path,
		Decision:        decision,
		RiskGrade:       types.RiskL2,
		Confidence:      0.7,
		AgentID:         agent,
		ArtifactPath:    path,
		Summary:         string(decision) + " for " + path,
		Details:         "matched " + path,
		MatchedPatterns: patterns,
	}
}

func TestClassifyFailureMode(t *testing.T) {
	tests := []struct {
		name     string
		matched  []string
		decision types.Decision
		model    *types.ModelEvaluation
		want     types.FailureMode
	}{
		{"injection id", []string{"INJ001"}, types.DecisionBlock, nil, types.FailureInjection},
		{"sql keyword", []string{"custom-sql-concat"}, types.DecisionWarn, nil, types.FailureInjection},
		{"secret id", []string{"SEC003"}, types.DecisionBlock, nil, types.FailureSecretExposure},
		{"pii id", []string{"PII002"}, types.DecisionWarn, nil, types.FailurePIILeak},
		{"complexity id", []string{"CMP001"}, types.DecisionWarn, nil, types.FailureComplexity},
		{"dependency id", []string{"DEP001"}, types.DecisionWarn, nil, types.FailureDependency},
		{"logic keyword", []string{"logic-gap"}, types.DecisionWarn, nil, types.FailureLogicError},
		{"first matched pattern wins", []string{"AUTH001", "PII001", "INJ001"}, types.DecisionBlock, nil, types.FailurePIILeak},
		{"quarantine decision", []string{"AUTH001"}, types.DecisionQuarantine, nil, types.FailureTrustViolation},
		{"hallucination", nil, types.DecisionWarn, &types.ModelEvaluation{Response: "Likely HALLUCINATED import"}, types.FailureHallucination},
		{"requirement", nil, types.DecisionWarn, &types.ModelEvaluation{Response: "violates requirement 3"}, types.FailureSpecViolation},
		{"other", []string{"CRYPTO001"}, types.DecisionBlock, nil, types.FailureOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyFailureMode(tt.matched, tt.decision, tt.model)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ClassifyFailureMode(tt.matched, tt.decision, tt.model))
		})
	}
}

func TestNegativeConstraint(t *testing.T) {
	c := NegativeConstraint(types.FailureSecretExposure, "ignored")
	assert.Equal(t, "AVOID: Hardcoded secrets, API keys, or credentials\nREQUIRE: Environment variables or secure vault access", c)
	assert.Equal(t, "AVOID: something odd", NegativeConstraint(types.FailureOther, "something odd"))
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	s, _, _ := setupStore(t)

	_, err := s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "ok.go", types.DecisionPass))
	assert.ErrorIs(t, err, ErrPassingVerdict)

	ref := int64(7)
	v := failedVerdict("did:myth:scrivener:a", "db.go", types.DecisionBlock, "INJ002")
	v.LedgerEntryID = &ref
	entry, err := s.Archive(ctx, v)
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FailureInjection, got.FailureMode)
	assert.Equal(t, types.RemediationUnresolved, got.RemediationStatus)
	assert.Equal(t, "db.go", got.InputVector)
	require.NotNil(t, got.LedgerRef)
	assert.Equal(t, int64(7), *got.LedgerRef)
	assert.Contains(t, got.NegativeConstraint, "AVOID:")
	assert.Contains(t, got.EnvironmentContext, `"riskGrade":"L2"`)

	_, err = s.Get(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	s, _, c := setupStore(t)

	inputs := []struct {
		agent, path string
		patterns    []string
	}{
		{"did:myth:scrivener:a", "a1.go", []string{"INJ001"}},
		{"did:myth:scrivener:b", "b1.go", []string{"INJ003"}},
		{"did:myth:scrivener:a", "a2.go", []string{"SEC001"}},
		{"did:myth:scrivener:a", "a3.go", []string{"INJ002"}},
	}
	for _, in := range inputs {
		c.t = c.t.Add(time.Minute)
		_, err := s.Archive(ctx, failedVerdict(in.agent, in.path, types.DecisionBlock, in.patterns...))
		require.NoError(t, err)
	}

	byAgent, err := s.ByAgent(ctx, "did:myth:scrivener:a", 10)
	require.NoError(t, err)
	require.Len(t, byAgent, 3)
	assert.Equal(t, "a3.go", byAgent[0].InputVector)

	byMode, err := s.ByFailureMode(ctx, types.FailureInjection, 10)
	require.NoError(t, err)
	assert.Len(t, byMode, 3)

	_, err = s.ByFailureMode(ctx, types.FailureMode("NOPE"), 10)
	assert.Error(t, err)

	unresolved, err := s.Unresolved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unresolved, 4)
	assert.Equal(t, "a1.go", unresolved[0].InputVector)

	patterns, err := s.AnalyzePatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, types.FailureInjection, patterns[0].FailureMode)
	assert.Equal(t, 3, patterns[0].Count)
	assert.Equal(t, []string{"did:myth:scrivener:a", "did:myth:scrivener:b"}, patterns[0].AgentIDs)
	assert.Equal(t, []string{"matched a3.go", "matched b1.go", "matched a1.go"}, patterns[0].RecentCauses)

	constraints, err := s.ConstraintsForAgent(ctx, "did:myth:scrivener:a")
	require.NoError(t, err)
	require.Len(t, constraints, 2)
	assert.Equal(t, NegativeConstraint(types.FailureInjection, ""), constraints[0])

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestUpdateRemediationStatus(t *testing.T) {
	ctx := context.Background()
	s, led, _ := setupStore(t)

	entry, err := s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "x.go", types.DecisionWarn, "PII003"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateRemediationStatus(ctx, entry.ID, types.RemediationInProgress, "looking", ""))
	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RemediationInProgress, got.RemediationStatus)
	assert.Equal(t, "looking", got.RemediationNotes)
	assert.NotNil(t, got.UpdatedAt)
	assert.Nil(t, got.ResolvedAt)

	require.NoError(t, s.UpdateRemediationStatus(ctx, entry.ID, types.RemediationResolved, "", "did:myth:overseer:1"))
	got, err = s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RemediationResolved, got.RemediationStatus)
	assert.Equal(t, "looking", got.RemediationNotes)
	assert.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "did:myth:overseer:1", got.ResolvedBy)

	resolved, err := led.EntriesByType(ctx, types.LedgerGenomeResolved, 10)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	assert.Error(t, s.UpdateRemediationStatus(ctx, entry.ID, types.RemediationStatus("DONE"), "", ""))
	assert.ErrorIs(t, s.UpdateRemediationStatus(ctx, 404, types.RemediationResolved, "", ""), storage.ErrNotFound)
}

func TestResolvedEntryCanBeReopened(t *testing.T) {
	ctx := context.Background()
	s, led, _ := setupStore(t)

	entry, err := s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "x.go", types.DecisionBlock, "SEC001"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateRemediationStatus(ctx, entry.ID, types.RemediationResolved, "fixed", "did:myth:overseer:1"))
	require.NoError(t, s.UpdateRemediationStatus(ctx, entry.ID, types.RemediationInProgress, "regressed", ""))

	got, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RemediationInProgress, got.RemediationStatus)
	assert.Equal(t, "regressed", got.RemediationNotes)
	assert.NotNil(t, got.ResolvedAt)

	resolved, err := led.EntriesByType(ctx, types.LedgerGenomeResolved, 10)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
}

func TestPruneArchivesThenDeletes(t *testing.T) {
	ctx := context.Background()
	s, led, c := setupStore(t)
	start := c.t

	old, err := s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "old-resolved.go", types.DecisionBlock, "SEC001"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateRemediationStatus(ctx, old.ID, types.RemediationResolved, "", "x"))
	_, err = s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "old-open.go", types.DecisionBlock, "SEC002"))
	require.NoError(t, err)

	c.t = start.AddDate(0, 0, 100)
	_, err = s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "new.go", types.DecisionBlock, "SEC003"))
	require.NoError(t, err)

	cfg := config.DefaultGenomeRetentionConfig()
	cfg.ArchiveDir = filepath.Join(t.TempDir(), "archive")

	stats, err := s.RetentionStats(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 1, stats.ResolvedEntries)
	assert.Equal(t, 2, stats.UnresolvedEntries)
	assert.Equal(t, 1, stats.EstimatedPruneCount)
	assert.Equal(t, 3, stats.ByFailureMode[types.FailureSecretExposure])

	result, err := s.Prune(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ResolvedPruned)
	assert.Equal(t, 0, result.UnresolvedPruned)
	assert.Equal(t, 1, result.ArchivedCount)

	data, err := os.ReadFile(result.ArchivePath)
	require.NoError(t, err)
	var archive struct {
		EntryCount int `json:"entryCount"`
		Entries    []struct {
			InputVector string `json:"input_vector"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &archive))
	assert.Equal(t, 1, archive.EntryCount)
	assert.Equal(t, "old-resolved.go", archive.Entries[0].InputVector)

	c.t = start.AddDate(0, 0, 200)
	result, err = s.Prune(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UnresolvedPruned)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	prunes, err := led.EntriesByType(ctx, types.LedgerRetentionPrune, 10)
	require.NoError(t, err)
	assert.Len(t, prunes, 2)
}

func TestPruneWithoutArchive(t *testing.T) {
	ctx := context.Background()
	s, _, c := setupStore(t)

	_, err := s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "x.go", types.DecisionWarn, "RES001"))
	require.NoError(t, err)
	c.t = c.t.AddDate(1, 0, 0)

	cfg := config.DefaultGenomeRetentionConfig()
	cfg.ArchiveBeforePrune = false
	result, err := s.Prune(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalPruned)
	assert.Empty(t, result.ArchivePath)

	cfg.ResolvedRetentionDays = 0
	_, err = s.Prune(ctx, cfg)
	assert.Error(t, err)
}

func TestPruneLeavesUnreadableEntriesWhenArchiving(t *testing.T) {
	tests := []struct {
		name           string
		archive        bool
		wantPruned     int
		wantUnreadable int
		wantRemaining  int
	}{
		{name: "archive first keeps unreadable row", archive: true, wantPruned: 1, wantUnreadable: 1, wantRemaining: 1},
		{name: "plain prune deletes by age", archive: false, wantPruned: 2, wantUnreadable: 0, wantRemaining: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, _, c := setupStore(t)

			_, err := s.Archive(ctx, failedVerdict("did:myth:scrivener:a", "good.go", types.DecisionBlock, "SEC001"))
			require.NoError(t, err)
			_, err = s.db.ExecContext(ctx, `INSERT INTO shadow_genome
				(created_at, agent_did, input_vector, failure_mode, remediation_status)
				VALUES (?, 'did:myth:scrivener:a', 'bad.go', 'BOGUS', 'UNRESOLVED')`, storage.FormatTime(c.t))
			require.NoError(t, err)

			c.t = c.t.AddDate(1, 0, 0)
			cfg := config.DefaultGenomeRetentionConfig()
			cfg.ArchiveBeforePrune = tt.archive
			cfg.ArchiveDir = filepath.Join(t.TempDir(), "archive")

			result, err := s.Prune(ctx, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPruned, result.TotalPruned)
			assert.Equal(t, tt.wantUnreadable, result.Unreadable)
			if tt.archive {
				assert.Equal(t, 1, result.ArchivedCount)
				assert.Equal(t, 1, result.UnresolvedPruned)
			}

			var remaining int
			require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shadow_genome`).Scan(&remaining))
			assert.Equal(t, tt.wantRemaining, remaining)
		})
	}
}
