package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ports.SigningStore and ports.AuditReader over database/sql.
type Store struct {
	reader
	db       *sql.DB
	executor *resilience.Executor
}

var (
	_ ports.SigningStore = (*Store)(nil)
	_ ports.AuditReader  = (*Store)(nil)
	_ ports.SigningTx    = (*signingTx)(nil)
)

func New(db *sql.DB, driver string, executor *resilience.Executor) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Store{
		reader:   reader{q: db, d: d},
		db:       db,
		executor: executor,
	}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

// InTx runs fn in one transaction and re-runs it when the database reports
// a serialization failure.
func (s *Store) InTx(ctx context.Context, fn func(context.Context, ports.SigningTx) error) error {
	return s.executor.Retry(ctx, "store.tx", func(ctx context.Context) error {
		return s.runTx(ctx, fn)
	}, txClassifier)
}

func (s *Store) runTx(ctx context.Context, fn func(context.Context, ports.SigningTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &signingTx{reader: reader{q: tx, d: s.d}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// ListAwaitingFinalize returns requests whose document still waits for its
// signed rendition, least recently attempted first, so a request that keeps
// failing moves behind the others instead of filling every batch.
func (s *Store) ListAwaitingFinalize(ctx context.Context, limit int) ([]domain.SigningRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, s.d.rebind(`
SELECT r.`+strings.ReplaceAll(requestColumns, ", ", ", r.")+`
FROM signing_requests r
JOIN documents d ON d.id = r.document_id
WHERE r.status = ? AND d.status = ?
ORDER BY COALESCE(
	(SELECT MAX(a.created_at) FROM audit_log a WHERE a.request_id = r.id AND a.action = ?),
	r.completed_at
), r.id
LIMIT ?
`), string(domain.RequestCompleted), string(domain.DocumentSigned), string(domain.AuditFinalizeAttempted), limit)
	if err != nil {
		return nil, classify("list awaiting finalize", err)
	}
	defer rows.Close()

	var out []domain.SigningRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, classify("scan request", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list awaiting finalize", err)
	}
	return out, nil
}

func (s *Store) ListAuditByRequest(ctx context.Context, requestID string) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, `WHERE request_id = ? ORDER BY chain_key, seq`, requestID)
}

func (s *Store) ListAuditByDocument(ctx context.Context, documentID string) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, `WHERE document_id = ? ORDER BY created_at, seq`, documentID)
}

func (s *Store) listAudit(ctx context.Context, where string, arg string) ([]domain.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, s.d.rebind(`SELECT `+auditColumns+` FROM audit_log `+where), arg)
	if err != nil {
		return nil, classify("list audit", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, classify("scan audit entry", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list audit", err)
	}
	return out, nil
}

const (
	documentColumns = `id, owner_id, filename, mime_type, storage_key, signed_storage_key, original_hash, signed_hash, status, metadata, created_at, updated_at`
	requestColumns  = `id, document_id, initiator_id, signing_type, status, current_signer_index, required_signers, current_signers, created_at, completed_at`
	signerColumns   = `id, request_id, signer_id, position, status, signature, signed_at, metadata`
	auditColumns    = `id, document_id, request_id, actor_id, action, details, created_at, seq, prev_hash, entry_hash`
)

// reader holds the queries shared by the store and its transactions.
type reader struct {
	q querier
	d dialect
}

func (r reader) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, classify(fmt.Sprintf("get document %s", id), err)
	}
	return doc, nil
}

func (r reader) GetRequest(ctx context.Context, id string) (*domain.SigningRequest, error) {
	return r.getRequest(ctx, `SELECT `+requestColumns+` FROM signing_requests WHERE id = ?`, id)
}

func (r reader) GetRequestByDocument(ctx context.Context, documentID string) (*domain.SigningRequest, error) {
	return r.getRequest(ctx, `SELECT `+requestColumns+` FROM signing_requests WHERE document_id = ?`, documentID)
}

func (r reader) getRequest(ctx context.Context, query, arg string) (*domain.SigningRequest, error) {
	req, err := scanRequest(r.q.QueryRowContext(ctx, r.d.rebind(query), arg))
	if err != nil {
		return nil, classify(fmt.Sprintf("get request %s", arg), err)
	}
	return req, nil
}

func (r reader) ListSigners(ctx context.Context, requestID string) ([]domain.Signer, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`SELECT `+signerColumns+` FROM signers WHERE request_id = ? ORDER BY position`), requestID)
	if err != nil {
		return nil, classify("list signers", err)
	}
	defer rows.Close()

	var out []domain.Signer
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, classify("scan signer", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list signers", err)
	}
	return out, nil
}

func (r reader) FindDocumentsByHash(ctx context.Context, hash string) ([]domain.Document, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
SELECT `+documentColumns+`
FROM documents
WHERE original_hash = ? OR (signed_hash <> '' AND signed_hash = ?)
ORDER BY created_at
`), hash, hash)
	if err != nil {
		return nil, classify("find documents by hash", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, classify("scan document", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("find documents by hash", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*domain.Document, error) {
	var (
		doc                  domain.Document
		status, metadata     string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Filename, &doc.MimeType, &doc.StorageKey, &doc.SignedStorageKey,
		&doc.OriginalHash, &doc.SignedHash, &status, &metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Status = domain.DocumentStatus(status)
	if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal document metadata: %w", err)
	}
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}

func scanRequest(row scanner) (*domain.SigningRequest, error) {
	var (
		req                 domain.SigningRequest
		signingType, status string
		createdAt           string
		completedAt         sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.DocumentID, &req.InitiatorID, &signingType, &status,
		&req.CurrentSignerIndex, &req.RequiredSigners, &req.CurrentSigners, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	req.SigningType = domain.SigningType(signingType)
	req.Status = domain.RequestStatus(status)
	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if req.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &req, nil
}

func scanSigner(row scanner) (*domain.Signer, error) {
	var (
		s                domain.Signer
		status, metadata string
		signedAt         sql.NullString
	)
	if err := row.Scan(&s.ID, &s.RequestID, &s.SignerID, &s.Order, &status, &s.Signature, &signedAt, &metadata); err != nil {
		return nil, err
	}
	s.Status = domain.SignerStatus(status)
	if err := json.Unmarshal([]byte(metadata), &s.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal signature metadata: %w", err)
	}
	var err error
	if s.SignedAt, err = parseNullTime(signedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanAudit(row scanner) (*domain.AuditEntry, error) {
	var (
		e               domain.AuditEntry
		action, details string
		createdAt       string
	)
	err := row.Scan(&e.ID, &e.DocumentID, &e.RequestID, &e.ActorID, &action, &details, &createdAt, &e.Seq, &e.PrevHash, &e.EntryHash)
	if err != nil {
		return nil, err
	}
	e.Action = domain.AuditAction(action)
	if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
		return nil, fmt.Errorf("unmarshal audit details: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
