package trust

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/events"
	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func setupEngine(t *testing.T) (*Engine, *ledger.Manager, *sql.DB, *clock) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	led, err := ledger.Open(ctx, ledger.Config{DB: db, Secrets: ledger.NewMemorySecretStore(), Logger: logging.NewTestLogger()})
	require.NoError(t, err)

	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	e, err := New(ctx, Config{DB: db, Ledger: led, Logger: logging.NewTestLogger(), Now: c.Now})
	require.NoError(t, err)
	return e, led, db, c
}

func TestStageForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  types.TrustStage
	}{
		{0, types.StageCBT},
		{0.35, types.StageCBT},
		{0.4999, types.StageCBT},
		{0.5, types.StageKBT},
		{0.79, types.StageKBT},
		{0.8, types.StageIBT},
		{1, types.StageIBT},
	}
	for _, tt := range tests {
		if got := StageForScore(tt.score); got != tt.want {
			t.Errorf("StageForScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestNextScore(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	veteran := now.Add(-60 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)

	tests := []struct {
		name    string
		score   float64
		created time.Time
		outcome types.TrustOutcome
		want    float64
	}{
		{"success", 0.35, veteran, types.OutcomeSuccess, 0.4},
		{"success clamps at one", 0.98, veteran, types.OutcomeSuccess, 1},
		{"failure", 0.6, veteran, types.OutcomeFailure, 0.5},
		{"failure clamps at zero", 0.05, veteran, types.OutcomeFailure, 0},
		{"probation floor", 0.35, fresh, types.OutcomeFailure, 0.35},
		{"violation from IBT", 0.95, veteran, types.OutcomeViolation, 0.54},
		{"violation from KBT", 0.7, veteran, types.OutcomeViolation, 0.24},
		{"violation from CBT", 0.4, veteran, types.OutcomeViolation, 0.15},
		{"violation in probation", 0.4, fresh, types.OutcomeViolation, 0.35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &types.AgentIdentity{Score: tt.score, Stage: StageForScore(tt.score), CreatedAt: tt.created}
			assert.InDelta(t, tt.want, nextScore(agent, tt.outcome, now), 1e-9)
		})
	}
}

func TestViolationAlwaysDropsAStage(t *testing.T) {
	now := time.Now()
	old := now.Add(-365 * 24 * time.Hour)
	for score := 0.8; score <= 1.0; score += 0.01 {
		agent := &types.AgentIdentity{Score: score, Stage: StageForScore(score), CreatedAt: old}
		next := nextScore(agent, types.OutcomeViolation, now)
		if next > 0.79 {
			t.Errorf("violation from %.2f left score %.4f", score, next)
		}
		if StageForScore(next) == types.StageIBT {
			t.Errorf("violation from %.2f stayed in IBT", score)
		}
	}
}

func TestInfluenceWeight(t *testing.T) {
	now := time.Now()
	old := now.Add(-90 * 24 * time.Hour)

	tests := []struct {
		name  string
		agent types.AgentIdentity
		want  float64
	}{
		{"veteran full trust", types.AgentIdentity{Score: 1, CreatedAt: old}, 2.0},
		{"veteran default", types.AgentIdentity{Score: 0.35, CreatedAt: old}, 1.025},
		{"probation cap", types.AgentIdentity{Score: 0.9, CreatedAt: now}, 1.2},
		{"quarantined", types.AgentIdentity{Score: 1, CreatedAt: old, Quarantined: true}, 0.1},
		{"zero score", types.AgentIdentity{Score: 0, CreatedAt: old}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, InfluenceWeight(&tt.agent, now), 1e-9)
		})
	}
}

func TestDeriveAgentID(t *testing.T) {
	id := DeriveAgentID(types.PersonaScrivener, "key-1")
	assert.Regexp(t, `^did:myth:scrivener:[0-9a-f]{16}$`, id)
	assert.Equal(t, id, DeriveAgentID(types.PersonaScrivener, "key-1"))
	assert.NotEqual(t, id, DeriveAgentID(types.PersonaJudge, "key-1"))

	assert.Equal(t, types.PersonaJudge, PersonaFromAgentID("did:myth:judge:abc"))
	assert.Equal(t, types.PersonaScrivener, PersonaFromAgentID("agent-7"))
}

func TestRegisterAgent(t *testing.T) {
	ctx := context.Background()
	e, led, _, _ := setupEngine(t)

	agent, err := e.RegisterAgent(ctx, types.PersonaScrivener, "pk")
	require.NoError(t, err)
	assert.Equal(t, DefaultScore, agent.Score)
	assert.Equal(t, types.StageCBT, agent.Stage)

	again, err := e.RegisterAgent(ctx, types.PersonaScrivener, "pk")
	require.NoError(t, err)
	assert.Equal(t, agent.AgentID, again.AgentID)

	entries, err := led.EntriesByType(ctx, types.LedgerAgentRegistered, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = e.RegisterAgent(ctx, types.PersonaSystem, "pk")
	assert.Error(t, err)
	_, err = e.RegisterAgent(ctx, types.PersonaJudge, "")
	assert.Error(t, err)
}

func TestUpdateTrustAutoRegisters(t *testing.T) {
	ctx := context.Background()
	e, led, _, _ := setupEngine(t)

	update, err := e.UpdateTrust(ctx, "did:myth:scrivener:unknown", types.OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, DefaultScore, update.PreviousScore)
	assert.InDelta(t, 0.4, update.NewScore, 1e-9)

	agent, ok := e.Agent("did:myth:scrivener:unknown")
	require.True(t, ok)
	assert.Equal(t, AutoRegisteredKey, agent.PublicKey)

	registered, err := led.EntriesByType(ctx, types.LedgerAgentRegistered, 10)
	require.NoError(t, err)
	assert.Len(t, registered, 1)
	updates, err := led.EntriesByType(ctx, types.LedgerTrustUpdate, 10)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].AgentTrustAtAction)
	assert.InDelta(t, 0.4, *updates[0].AgentTrustAtAction, 1e-9)

	report, err := led.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestFreshAgentFailureHitsFloor(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := setupEngine(t)

	update, err := e.UpdateTrust(ctx, "did:myth:scrivener:new", types.OutcomeFailure)
	require.NoError(t, err)
	assert.Equal(t, 0.35, update.NewScore)
	assert.Equal(t, types.StageCBT, update.NewStage)
}

func TestUpdateTrustRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := setupEngine(t)

	_, err := e.UpdateTrust(ctx, "did:myth:scrivener:x", types.TrustOutcome("bogus"))
	assert.Error(t, err)
	_, err = e.UpdateTrust(ctx, "", types.OutcomeSuccess)
	assert.Error(t, err)
}

func TestUpdateTrustEmitsEvent(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := setupEngine(t)
	bus := events.NewBus(events.Config{Logger: logging.NewTestLogger()})
	e.events = bus

	var got events.TrustUpdatedData
	bus.On(events.TopicTrustUpdated, func(env events.Envelope) {
		got = env.Payload.(events.TrustUpdatedData)
	})

	_, err := e.UpdateTrust(ctx, "did:myth:scrivener:a", types.OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, "did:myth:scrivener:a", got.AgentID)
	assert.Equal(t, types.OutcomeSuccess, got.Outcome)
}

func TestQuarantineLifecycle(t *testing.T) {
	ctx := context.Background()
	e, led, _, c := setupEngine(t)

	err := e.QuarantineAgent(ctx, "did:myth:scrivener:ghost", "test", time.Hour)
	assert.ErrorIs(t, err, ErrAgentNotFound)

	agent, err := e.RegisterAgent(ctx, types.PersonaScrivener, "pk")
	require.NoError(t, err)
	require.NoError(t, e.QuarantineAgent(ctx, agent.AgentID, "violation", 48*time.Hour))

	score, ok := e.Score(agent.AgentID)
	require.True(t, ok)
	assert.True(t, score.Quarantined)
	assert.Equal(t, 0.1, score.InfluenceWeight)

	released, err := e.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	c.t = c.t.Add(49 * time.Hour)
	released, err = e.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, _ := e.Agent(agent.AgentID)
	assert.False(t, got.Quarantined)
	assert.Nil(t, got.QuarantineUntil)

	starts, err := led.EntriesByType(ctx, types.LedgerQuarantineStart, 10)
	require.NoError(t, err)
	assert.Len(t, starts, 1)
	ends, err := led.EntriesByType(ctx, types.LedgerQuarantineEnd, 10)
	require.NoError(t, err)
	assert.Len(t, ends, 1)
}

func TestManualRelease(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := setupEngine(t)

	agent, err := e.RegisterAgent(ctx, types.PersonaJudge, "pk")
	require.NoError(t, err)
	require.NoError(t, e.QuarantineAgent(ctx, agent.AgentID, "manual", time.Hour))
	require.NoError(t, e.ReleaseFromQuarantine(ctx, agent.AgentID))

	got, _ := e.Agent(agent.AgentID)
	assert.False(t, got.Quarantined)
	assert.ErrorIs(t, e.ReleaseFromQuarantine(ctx, "did:myth:judge:none"), ErrAgentNotFound)
}

func TestRegistryReloads(t *testing.T) {
	ctx := context.Background()
	e, led, db, c := setupEngine(t)

	_, err := e.UpdateTrust(ctx, "did:myth:scrivener:a", types.OutcomeSuccess)
	require.NoError(t, err)
	require.NoError(t, e.QuarantineAgent(ctx, "did:myth:scrivener:a", "x", time.Hour))

	reloaded, err := New(ctx, Config{DB: db, Ledger: led, Logger: logging.NewTestLogger(), Now: c.Now})
	require.NoError(t, err)

	agent, ok := reloaded.Agent("did:myth:scrivener:a")
	require.True(t, ok)
	assert.InDelta(t, 0.4, agent.Score, 1e-9)
	assert.True(t, agent.Quarantined)
	require.NotNil(t, agent.QuarantineUntil)
	assert.True(t, agent.QuarantineUntil.Equal(c.t.Add(time.Hour)))
	assert.True(t, agent.CreatedAt.Equal(c.t))
}

func TestAgentsSortedCopies(t *testing.T) {
	ctx := context.Background()
	e, _, _, _ := setupEngine(t)

	for _, id := range []string{"did:myth:judge:b", "did:myth:judge:a"} {
		_, err := e.UpdateTrust(ctx, id, types.OutcomeSuccess)
		require.NoError(t, err)
	}
	agents := e.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "did:myth:judge:a", agents[0].AgentID)

	agents[0].Score = 0
	again, _ := e.Agent("did:myth:judge:a")
	assert.NotEqual(t, 0.0, again.Score)
}
