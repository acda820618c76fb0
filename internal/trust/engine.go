// Package trust maintains per-agent reputation scores, stages and
// quarantine. Every mutation is recorded in the audit ledger.
package trust

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/events"
	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

// ErrAgentNotFound is returned for operations on unknown agents that do not
// auto-register
var ErrAgentNotFound = errors.New("agent not found")

// AutoRegisteredKey marks identities created on first sight
const AutoRegisteredKey = "auto-registered"

// LedgerAppender is the slice of the ledger the engine writes to
type LedgerAppender interface {
	AppendEntry(ctx context.Context, req ledger.AppendRequest) (*types.LedgerEntry, error)
}

// Config configures an Engine
type Config struct {
	DB     *sql.DB
	Ledger LedgerAppender
	// Events is optional; trust.updated is emitted when set
	Events events.Emitter
	Logger zerolog.Logger
	Now    func() time.Time
}

// Score is a point-in-time view of an agent's trust
type Score struct {
	AgentID         string           `json:"agent_id"`
	Score           float64          `json:"score"`
	Stage           types.TrustStage `json:"stage"`
	InfluenceWeight float64          `json:"influence_weight"`
	Probationary    bool             `json:"probationary"`
	Quarantined     bool             `json:"quarantined"`
}

// Engine is the trust registry. The in-memory map is the working copy; the
// agent_trust table is written through on every mutation.
type Engine struct {
	db     *sql.DB
	ledger LedgerAppender
	events events.Emitter
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	agents map[string]*types.AgentIdentity
}

// New loads the persisted registry
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.DB == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("trust engine requires a database and a ledger")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		db:     cfg.DB,
		ledger: cfg.Ledger,
		events: cfg.Events,
		logger: cfg.Logger.With().Str("component", "trust").Logger(),
		now:    cfg.Now,
		agents: make(map[string]*types.AgentIdentity),
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// DeriveAgentID builds did:myth:{persona}:{hash} from a persona and key
func DeriveAgentID(persona types.AgentPersona, publicKey string) string {
	sum := sha256.Sum256([]byte(string(persona) + ":" + publicKey))
	return fmt.Sprintf("did:myth:%s:%s", persona, hex.EncodeToString(sum[:8]))
}

// PersonaFromAgentID extracts the persona segment of a did:myth identifier
func PersonaFromAgentID(agentID string) types.AgentPersona {
	parts := strings.Split(agentID, ":")
	if len(parts) >= 4 && parts[0] == "did" && parts[1] == "myth" && parts[2] != "" {
		return types.AgentPersona(parts[2])
	}
	return types.PersonaScrivener
}

// RegisterAgent creates an identity with the default score, or returns the
// existing one for the same persona and key
func (e *Engine) RegisterAgent(ctx context.Context, persona types.AgentPersona, publicKey string) (types.AgentIdentity, error) {
	switch persona {
	case types.PersonaScrivener, types.PersonaSentinel, types.PersonaJudge, types.PersonaOverseer:
	default:
		return types.AgentIdentity{}, fmt.Errorf("invalid persona: %s", persona)
	}
	if publicKey == "" {
		return types.AgentIdentity{}, fmt.Errorf("public key is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	agent, err := e.registerLocked(ctx, DeriveAgentID(persona, publicKey), persona, publicKey)
	if err != nil {
		return types.AgentIdentity{}, err
	}
	return *agent, nil
}

func (e *Engine) registerLocked(ctx context.Context, agentID string, persona types.AgentPersona, publicKey string) (*types.AgentIdentity, error) {
	if existing, ok := e.agents[agentID]; ok {
		return existing, nil
	}

	now := e.now().UTC()
	agent := &types.AgentIdentity{
		AgentID:   agentID,
		Persona:   persona,
		PublicKey: publicKey,
		Score:     DefaultScore,
		Stage:     StageForScore(DefaultScore),
		CreatedAt: now,
		UpdatedAt: now,
	}

	score := agent.Score
	if _, err := e.ledger.AppendEntry(ctx, ledger.AppendRequest{
		EventType:          types.LedgerAgentRegistered,
		AgentID:            agentID,
		AgentTrustAtAction: &score,
		Payload: map[string]any{
			"persona": persona,
			"stage":   agent.Stage,
			"auto":    publicKey == AutoRegisteredKey,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to record registration of %s: %w", agentID, err)
	}
	if err := e.persist(ctx, agent); err != nil {
		return nil, err
	}

	e.agents[agentID] = agent
	e.logger.Info().Str("agent", agentID).Str("persona", string(persona)).Msg("agent registered")
	return agent, nil
}

// UpdateTrust applies an outcome to an agent, registering it first if it
// has never been seen
func (e *Engine) UpdateTrust(ctx context.Context, agentID string, outcome types.TrustOutcome) (types.TrustUpdate, error) {
	if !outcome.IsValid() {
		return types.TrustUpdate{}, fmt.Errorf("invalid trust outcome: %s", outcome)
	}
	if agentID == "" {
		return types.TrustUpdate{}, fmt.Errorf("agent id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	agent, err := e.registerLocked(ctx, agentID, PersonaFromAgentID(agentID), AutoRegisteredKey)
	if err != nil {
		return types.TrustUpdate{}, err
	}

	now := e.now().UTC()
	next := *agent
	next.Score = nextScore(agent, outcome, now)
	next.Stage = StageForScore(next.Score)
	next.UpdatedAt = now

	update := types.TrustUpdate{
		AgentID:       agentID,
		Outcome:       outcome,
		PreviousScore: agent.Score,
		NewScore:      next.Score,
		PreviousStage: agent.Stage,
		NewStage:      next.Stage,
		Reason:        string(outcome),
		Timestamp:     now,
	}

	if _, err := e.ledger.AppendEntry(ctx, ledger.AppendRequest{
		EventType:          types.LedgerTrustUpdate,
		AgentID:            agentID,
		AgentTrustAtAction: &next.Score,
		Payload: map[string]any{
			"previousScore": update.PreviousScore,
			"newScore":      update.NewScore,
			"previousStage": update.PreviousStage,
			"newStage":      update.NewStage,
			"reason":        update.Reason,
		},
	}); err != nil {
		return types.TrustUpdate{}, fmt.Errorf("failed to record trust update for %s: %w", agentID, err)
	}
	if err := e.persist(ctx, &next); err != nil {
		return types.TrustUpdate{}, err
	}
	*agent = next

	e.logger.Debug().Str("agent", agentID).Str("outcome", string(outcome)).
		Float64("from", update.PreviousScore).Float64("to", update.NewScore).Msg("trust updated")
	e.emit(update, agent.Quarantined)
	return update, nil
}

// QuarantineAgent isolates an agent for duration
func (e *Engine) QuarantineAgent(ctx context.Context, agentID, reason string, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("quarantine duration must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	now := e.now().UTC()
	until := now.Add(duration)
	next := *agent
	next.Quarantined = true
	next.QuarantineUntil = &until
	next.UpdatedAt = now

	if _, err := e.ledger.AppendEntry(ctx, ledger.AppendRequest{
		EventType:          types.LedgerQuarantineStart,
		AgentID:            agentID,
		AgentTrustAtAction: &next.Score,
		Payload: map[string]any{
			"reason":        reason,
			"durationHours": duration.Hours(),
			"until":         storage.FormatTime(until),
		},
	}); err != nil {
		return fmt.Errorf("failed to record quarantine of %s: %w", agentID, err)
	}
	if err := e.persist(ctx, &next); err != nil {
		return err
	}
	*agent = next

	e.logger.Warn().Str("agent", agentID).Str("reason", reason).Time("until", until).Msg("agent quarantined")
	return nil
}

// ReleaseFromQuarantine lifts an agent's quarantine
func (e *Engine) ReleaseFromQuarantine(ctx context.Context, agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return e.releaseLocked(ctx, agent, "manual")
}

// ReleaseExpired lifts every quarantine whose deadline has passed and
// returns how many were released
func (e *Engine) ReleaseExpired(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	released := 0
	for _, agent := range e.sortedLocked() {
		if !agent.Quarantined || agent.QuarantineUntil == nil || now.Before(*agent.QuarantineUntil) {
			continue
		}
		if err := e.releaseLocked(ctx, agent, "expired"); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (e *Engine) releaseLocked(ctx context.Context, agent *types.AgentIdentity, reason string) error {
	next := *agent
	next.Quarantined = false
	next.QuarantineUntil = nil
	next.UpdatedAt = e.now().UTC()

	if _, err := e.ledger.AppendEntry(ctx, ledger.AppendRequest{
		EventType:          types.LedgerQuarantineEnd,
		AgentID:            agent.AgentID,
		AgentTrustAtAction: &next.Score,
		Payload:            map[string]any{"reason": reason},
	}); err != nil {
		return fmt.Errorf("failed to record quarantine release of %s: %w", agent.AgentID, err)
	}
	if err := e.persist(ctx, &next); err != nil {
		return err
	}
	*agent = next
	e.logger.Info().Str("agent", agent.AgentID).Str("reason", reason).Msg("agent released from quarantine")
	return nil
}

// Score returns the current trust view of an agent
func (e *Engine) Score(agentID string) (Score, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.agents[agentID]
	if !ok {
		return Score{}, false
	}
	now := e.now()
	return Score{
		AgentID:         agentID,
		Score:           agent.Score,
		Stage:           agent.Stage,
		InfluenceWeight: InfluenceWeight(agent, now),
		Probationary:    IsProbationary(agent, now),
		Quarantined:     agent.Quarantined,
	}, true
}

// Agent returns a copy of an agent's identity
func (e *Engine) Agent(agentID string) (types.AgentIdentity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	agent, ok := e.agents[agentID]
	if !ok {
		return types.AgentIdentity{}, false
	}
	return *agent, true
}

// Agents returns copies of all identities ordered by agent ID
func (e *Engine) Agents() []types.AgentIdentity {
	e.mu.Lock()
	defer e.mu.Unlock()
	sorted := e.sortedLocked()
	out := make([]types.AgentIdentity, len(sorted))
	for i, a := range sorted {
		out[i] = *a
	}
	return out
}

func (e *Engine) sortedLocked() []*types.AgentIdentity {
	out := make([]*types.AgentIdentity, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (e *Engine) emit(update types.TrustUpdate, quarantined bool) {
	if e.events == nil {
		return
	}
	e.events.Emit(events.TopicTrustUpdated, events.TrustUpdatedData{TrustUpdate: update, Quarantined: quarantined})
}

func (e *Engine) persist(ctx context.Context, a *types.AgentIdentity) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO agent_trust (
			agent_id, persona, public_key, score, stage,
			quarantined, quarantine_until, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			score = excluded.score,
			stage = excluded.stage,
			quarantined = excluded.quarantined,
			quarantine_until = excluded.quarantine_until,
			updated_at = excluded.updated_at
	`,
		a.AgentID, a.Persona, a.PublicKey, a.Score, a.Stage,
		a.Quarantined, storage.NullTime(a.QuarantineUntil),
		storage.FormatTime(a.CreatedAt), storage.FormatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to persist agent %s: %w", a.AgentID, err)
	}
	return nil
}

func (e *Engine) load(ctx context.Context) error {
	rows, err := e.db.QueryContext(ctx, `
		SELECT agent_id, persona, public_key, score, stage,
		       quarantined, quarantine_until, created_at, updated_at
		FROM agent_trust
	`)
	if err != nil {
		return fmt.Errorf("failed to load trust registry: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a                types.AgentIdentity
			persona, stage   string
			publicKey, until sql.NullString
			created, updated string
		)
		if err := rows.Scan(&a.AgentID, &persona, &publicKey, &a.Score, &stage,
			&a.Quarantined, &until, &created, &updated); err != nil {
			return fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Persona = types.AgentPersona(persona)
		a.PublicKey = publicKey.String
		a.Stage = types.TrustStage(stage)

		var perr error
		if a.CreatedAt, perr = storage.ParseTime(created); perr == nil {
			if a.UpdatedAt, perr = storage.ParseTime(updated); perr == nil {
				a.QuarantineUntil, perr = storage.ParseNullTime(until)
			}
		}
		if perr == nil {
			perr = a.Validate()
		}
		if perr != nil {
			e.logger.Warn().Str("agent", a.AgentID).Err(perr).Msg("skipping corrupt agent row")
			continue
		}
		e.agents[a.AgentID] = &a
	}
	return rows.Err()
}
