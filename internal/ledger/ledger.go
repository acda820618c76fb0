// Package ledger implements the append-only, hash-chained and HMAC-signed
// audit log (soa_ledger).
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

// MaxReadLimit caps every read projection
const MaxReadLimit = 500

// GenesisAgentID authors the genesis entry
const GenesisAgentID = "did:myth:system:genesis"

// ErrSecretUnavailable is returned when signing material is missing or a
// placeholder. Appends and verification fail closed.
var ErrSecretUnavailable = errors.New("ledger signing secret unavailable")

// AppendRequest describes a new ledger entry. Payload is any JSON-encodable
// value; it is canonicalized before hashing.
type AppendRequest struct {
	EventType          types.LedgerEventType
	AgentID            string
	AgentTrustAtAction *float64
	ModelVersion       string
	ArtifactPath       string
	ArtifactHash       string
	RiskGrade          *types.RiskGrade
	VerificationMethod string
	VerificationResult string
	SentinelConfidence *float64
	Payload            any
}

// Config configures a Manager
type Config struct {
	DB      *sql.DB
	Secrets SecretStore
	Logger  zerolog.Logger
	// Now is overridable for tests
	Now func() time.Time
}

// Manager owns the chain pointer. All appends go through one Manager per
// database; it is safe for concurrent use.
type Manager struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	secret   string
	lastHash string
}

// Open loads (or generates) the signing secret, restores the chain pointer
// and writes the genesis entry into an empty ledger.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("ledger requires a database")
	}
	if cfg.Secrets == nil {
		return nil, fmt.Errorf("ledger requires a secret store")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{
		db:     cfg.DB,
		logger: cfg.Logger.With().Str("component", "ledger").Logger(),
		now:    cfg.Now,
	}

	secret, err := cfg.Secrets.Get(ctx, SecretKey)
	switch {
	case errors.Is(err, ErrSecretNotFound):
		if secret, err = generateSecret(); err != nil {
			return nil, err
		}
		if err := cfg.Secrets.Put(ctx, SecretKey, secret); err != nil {
			return nil, fmt.Errorf("failed to persist ledger secret: %w", err)
		}
		m.logger.Info().Msg("generated new ledger signing secret")
	case err != nil:
		return nil, fmt.Errorf("failed to load ledger secret: %w", err)
	}
	if usableSecret(secret) {
		m.secret = secret
	} else {
		m.logger.Error().Msg("ledger secret is missing or a placeholder; appends and verification will fail")
	}

	var last sql.NullString
	err = m.db.QueryRowContext(ctx, `SELECT entry_hash FROM soa_ledger ORDER BY id DESC LIMIT 1`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load chain head: %w", err)
	}
	if last.Valid {
		m.lastHash = last.String
		return m, nil
	}

	if _, err := m.appendLocked(ctx, AppendRequest{
		EventType: types.LedgerSystemEvent,
		AgentID:   GenesisAgentID,
		Payload:   map[string]string{"message": "SOA Ledger initialized"},
	}, GenesisPrevHash); err != nil {
		return nil, fmt.Errorf("failed to write genesis entry: %w", err)
	}
	return m, nil
}

// AppendEntry hashes, signs and persists a new entry, advancing the chain
func (m *Manager) AppendEntry(ctx context.Context, req AppendRequest) (*types.LedgerEntry, error) {
	if !req.EventType.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type: %s", req.EventType)
	}
	if req.AgentID == "" {
		return nil, fmt.Errorf("ledger entry requires an agent id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(ctx, req, m.lastHash)
}

// appendLocked must be called with mu held (or before the Manager is shared)
func (m *Manager) appendLocked(ctx context.Context, req AppendRequest, prevHash string) (*types.LedgerEntry, error) {
	if m.secret == "" {
		return nil, ErrSecretUnavailable
	}

	payload, err := Canonicalize(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	now := m.now().UTC()
	timestamp := storage.FormatTime(now)
	entryHash, err := ComputeHash(timestamp, req.EventType, req.AgentID, payload, prevHash)
	if err != nil {
		return nil, err
	}
	signature := Sign(entryHash, m.secret)

	var riskGrade sql.NullString
	if req.RiskGrade != nil {
		riskGrade = sql.NullString{String: string(*req.RiskGrade), Valid: true}
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO soa_ledger (
			timestamp, event_type, agent_did, agent_trust_at_action,
			model_version, artifact_path, artifact_hash, risk_grade,
			verification_method, verification_result, sentinel_confidence,
			payload, entry_hash, prev_hash, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		timestamp, req.EventType, req.AgentID, nullFloat(req.AgentTrustAtAction),
		nullString(req.ModelVersion), nullString(req.ArtifactPath), nullString(req.ArtifactHash), riskGrade,
		nullString(req.VerificationMethod), nullString(req.VerificationResult), nullFloat(req.SentinelConfidence),
		string(payload), entryHash, prevHash, signature,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry (type=%s): %w", req.EventType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry id: %w", err)
	}

	m.lastHash = entryHash
	m.logger.Debug().Int64("id", id).Str("event_type", string(req.EventType)).Str("agent", req.AgentID).Msg("ledger entry appended")

	return &types.LedgerEntry{
		ID:                 id,
		Timestamp:          now,
		EventType:          req.EventType,
		AgentID:            req.AgentID,
		AgentTrustAtAction: req.AgentTrustAtAction,
		ArtifactPath:       req.ArtifactPath,
		RiskGrade:          req.RiskGrade,
		VerificationResult: req.VerificationResult,
		SentinelConfidence: req.SentinelConfidence,
		Payload:            payload,
		EntryHash:          entryHash,
		PrevHash:           prevHash,
		Signature:          signature,
	}, nil
}

// ChainReport is the outcome of VerifyChain
type ChainReport struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyChain recomputes every entry hash and signature and checks each
// link, stopping at the first failure. The report is invalid when signing
// material is unavailable. The error is reserved for read failures.
func (m *Manager) VerifyChain(ctx context.Context) (ChainReport, error) {
	m.mu.Lock()
	secret := m.secret
	m.mu.Unlock()

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, agent_did, payload, entry_hash, prev_hash, signature
		FROM soa_ledger ORDER BY id ASC
	`)
	if err != nil {
		return ChainReport{}, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer rows.Close()

	report := ChainReport{Valid: true}
	if secret == "" {
		report = ChainReport{Valid: false, Reason: ErrSecretUnavailable.Error()}
	}

	expectedPrev := GenesisPrevHash
	for rows.Next() {
		var (
			id                             int64
			timestamp, eventType, agent    string
			payload                        sql.NullString
			entryHash, prevHash, signature string
		)
		if err := rows.Scan(&id, &timestamp, &eventType, &agent, &payload, &entryHash, &prevHash, &signature); err != nil {
			return ChainReport{}, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		report.Entries++
		if !report.Valid {
			continue
		}

		fail := func(reason string) {
			report.Valid = false
			report.BrokenAt = id
			report.Reason = reason
			m.logger.Error().Int64("id", id).Str("reason", reason).Msg("ledger chain broken")
		}

		var raw []byte
		if payload.Valid {
			raw = []byte(payload.String)
		}
		canonical, err := recanonicalize(raw)
		if err != nil {
			fail("invalid payload JSON")
			continue
		}
		expected, err := ComputeHash(timestamp, types.LedgerEventType(eventType), agent, canonical, prevHash)
		if err != nil {
			fail(err.Error())
			continue
		}
		switch {
		case expected != entryHash:
			fail("entry hash mismatch")
		case Sign(expected, secret) != signature:
			fail("signature mismatch")
		case prevHash != expectedPrev:
			fail("prev hash mismatch")
		}
		expectedPrev = entryHash
	}
	if err := rows.Err(); err != nil {
		return ChainReport{}, fmt.Errorf("failed to iterate ledger: %w", err)
	}
	return report, nil
}

// RecentEntries returns the newest entries first
func (m *Manager) RecentEntries(ctx context.Context, limit int) ([]*types.LedgerEntry, error) {
	return m.query(ctx, "", nil, limit)
}

// EntriesByType returns the newest entries of one type first
func (m *Manager) EntriesByType(ctx context.Context, eventType types.LedgerEventType, limit int) ([]*types.LedgerEntry, error) {
	return m.query(ctx, "event_type = ?", []any{eventType}, limit)
}

// EntriesByAgent returns the newest entries for one agent first
func (m *Manager) EntriesByAgent(ctx context.Context, agentID string, limit int) ([]*types.LedgerEntry, error) {
	return m.query(ctx, "agent_did = ?", []any{agentID}, limit)
}

// EntryCount returns the number of entries including genesis
func (m *Manager) EntryCount(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM soa_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return n, nil
}

// HeadHash returns the current chain pointer
func (m *Manager) HeadHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHash
}

func (m *Manager) query(ctx context.Context, where string, args []any, limit int) ([]*types.LedgerEntry, error) {
	q := "SELECT " + entryColumns + " FROM soa_ledger"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, storage.ClampLimit(limit, MaxReadLimit))
	return m.scanEntries(ctx, q, args...)
}

// entryColumns is the column list scanEntries expects
const entryColumns = `id, timestamp, event_type, agent_did, agent_trust_at_action, artifact_path,
	risk_grade, verification_result, sentinel_confidence, payload,
	entry_hash, prev_hash, signature`

func (m *Manager) scanEntries(ctx context.Context, q string, args ...any) ([]*types.LedgerEntry, error) {
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*types.LedgerEntry
	for rows.Next() {
		var (
			e                       types.LedgerEntry
			timestamp, eventType    string
			trust, confidence       sql.NullFloat64
			artifact, grade, result sql.NullString
			payload                 sql.NullString
		)
		if err := rows.Scan(&e.ID, &timestamp, &eventType, &e.AgentID, &trust, &artifact,
			&grade, &result, &confidence, &payload, &e.EntryHash, &e.PrevHash, &e.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		ts, err := storage.ParseTime(timestamp)
		if err != nil {
			m.logger.Warn().Int64("id", e.ID).Err(err).Msg("skipping ledger row with corrupt timestamp")
			continue
		}
		e.Timestamp = ts
		e.EventType = types.LedgerEventType(eventType)
		if trust.Valid {
			e.AgentTrustAtAction = &trust.Float64
		}
		if confidence.Valid {
			e.SentinelConfidence = &confidence.Float64
		}
		if grade.Valid {
			g := types.RiskGrade(grade.String)
			e.RiskGrade = &g
		}
		e.ArtifactPath = artifact.String
		e.VerificationResult = result.String
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// recanonicalize normalizes a stored payload the same way appends do
func recanonicalize(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var generic any
	if err := unmarshalNumbers(raw, &generic); err != nil {
		return nil, err
	}
	return Canonicalize(generic)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
