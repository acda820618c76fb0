package storage

import "github.com/qorelogic/sentinel/internal/storage/migrations"

// Migrations returns the manager holding every schema migration, in order
func Migrations() *migrations.Manager {
	m := migrations.NewManager()
	m.Register(migrations.Migration{
		Version:     1,
		Description: "create soa_ledger",
		Up: `
			CREATE TABLE IF NOT EXISTS soa_ledger (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				event_type TEXT NOT NULL,
				agent_did TEXT NOT NULL,
				agent_trust_at_action REAL,
				model_version TEXT,
				artifact_path TEXT,
				artifact_hash TEXT,
				risk_grade TEXT,
				verification_method TEXT,
				verification_result TEXT,
				sentinel_confidence REAL,
				overseer_did TEXT,
				overseer_decision TEXT,
				gdpr_trigger INTEGER DEFAULT 0,
				payload TEXT NOT NULL,
				entry_hash TEXT NOT NULL UNIQUE,
				prev_hash TEXT NOT NULL,
				signature TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_ledger_event_type ON soa_ledger(event_type);
			CREATE INDEX IF NOT EXISTS idx_ledger_agent ON soa_ledger(agent_did);
			CREATE INDEX IF NOT EXISTS idx_ledger_timestamp ON soa_ledger(timestamp);
		`,
		Down: `DROP TABLE IF EXISTS soa_ledger`,
	})
	m.Register(migrations.Migration{
		Version:     2,
		Description: "create agent_trust",
		Up: `
			CREATE TABLE IF NOT EXISTS agent_trust (
				agent_id TEXT PRIMARY KEY,
				persona TEXT NOT NULL,
				public_key TEXT,
				score REAL NOT NULL,
				stage TEXT NOT NULL,
				quarantined INTEGER NOT NULL DEFAULT 0,
				quarantine_until TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`,
		Down: `DROP TABLE IF EXISTS agent_trust`,
	})
	m.Register(migrations.Migration{
		Version:     3,
		Description: "create shadow_genome",
		Up: `
			CREATE TABLE IF NOT EXISTS shadow_genome (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TEXT NOT NULL,
				updated_at TEXT,
				ledger_ref INTEGER,
				agent_did TEXT NOT NULL,
				input_vector TEXT NOT NULL,
				decision_rationale TEXT,
				environment_context TEXT,
				failure_mode TEXT NOT NULL,
				causal_vector TEXT,
				negative_constraint TEXT,
				remediation_status TEXT NOT NULL DEFAULT 'UNRESOLVED',
				remediation_notes TEXT,
				resolved_at TEXT,
				resolved_by TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_genome_agent ON shadow_genome(agent_did);
			CREATE INDEX IF NOT EXISTS idx_genome_mode ON shadow_genome(failure_mode);
			CREATE INDEX IF NOT EXISTS idx_genome_status ON shadow_genome(remediation_status);
		`,
		Down: `DROP TABLE IF EXISTS shadow_genome`,
	})
	m.Register(migrations.Migration{
		Version:     4,
		Description: "create approval_queue",
		Up: `
			CREATE TABLE IF NOT EXISTS approval_queue (
				id TEXT PRIMARY KEY,
				verdict_id TEXT NOT NULL,
				file_path TEXT NOT NULL,
				risk_grade TEXT NOT NULL,
				agent_did TEXT NOT NULL,
				agent_trust REAL NOT NULL,
				summary TEXT NOT NULL,
				flags TEXT NOT NULL,
				state TEXT NOT NULL,
				queued_at TEXT NOT NULL,
				sla_deadline TEXT NOT NULL,
				decided_at TEXT,
				decided_by TEXT,
				notes TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_approval_state ON approval_queue(state, sla_deadline);
		`,
		Down: `DROP TABLE IF EXISTS approval_queue`,
	})
	m.Register(migrations.Migration{
		Version:     5,
		Description: "create sentinel_observations",
		Up: `
			CREATE TABLE IF NOT EXISTS sentinel_observations (
				id TEXT PRIMARY KEY,
				timestamp TEXT NOT NULL,
				event_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				source TEXT NOT NULL,
				file_path TEXT,
				decision TEXT NOT NULL,
				risk_grade TEXT NOT NULL,
				confidence REAL NOT NULL,
				summary TEXT NOT NULL,
				details TEXT NOT NULL,
				text TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				metadata_json TEXT NOT NULL,
				content_hash TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_observations_ts ON sentinel_observations(timestamp);
			CREATE INDEX IF NOT EXISTS idx_observations_file ON sentinel_observations(file_path);
			CREATE INDEX IF NOT EXISTS idx_observations_decision ON sentinel_observations(decision);
		`,
		Down: `DROP TABLE IF EXISTS sentinel_observations`,
	})
	return m
}
