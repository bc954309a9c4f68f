package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

const schemaLockID int64 = 2026021001

// Timestamps are fixed-width UTC text so both dialects sort and compare
// them the same way. JSON payloads are TEXT for the same reason.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	signed_storage_key TEXT NOT NULL DEFAULT '',
	original_hash TEXT NOT NULL,
	signed_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_original_hash ON documents(original_hash);
CREATE INDEX IF NOT EXISTS idx_documents_signed_hash ON documents(signed_hash);

CREATE TABLE IF NOT EXISTS signing_requests (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL UNIQUE REFERENCES documents(id),
	initiator_id TEXT NOT NULL,
	signing_type TEXT NOT NULL,
	status TEXT NOT NULL,
	current_signer_index INTEGER NOT NULL DEFAULT 0,
	required_signers INTEGER NOT NULL,
	current_signers INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	completed_at TEXT,
	closed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_signing_requests_status ON signing_requests(status);

CREATE TABLE IF NOT EXISTS signers (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL REFERENCES signing_requests(id),
	signer_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	status TEXT NOT NULL,
	signature {{blob}},
	signed_at TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	UNIQUE (request_id, position),
	UNIQUE (request_id, signer_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	chain_key TEXT NOT NULL,
	seq BIGINT NOT NULL,
	document_id TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	actor_id TEXT NOT NULL,
	action TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	prev_hash TEXT NOT NULL DEFAULT '',
	entry_hash TEXT NOT NULL,
	UNIQUE (chain_key, seq)
);

CREATE INDEX IF NOT EXISTS idx_audit_log_request ON audit_log(request_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_log_document ON audit_log(document_id, created_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if s.d.postgres() {
		// Serialize bootstrap DDL across api/worker startups.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
	}

	ddl := strings.ReplaceAll(schemaDDL, "{{blob}}", s.d.blobType)
	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema ddl: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
