package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
)

type signingTx struct {
	reader
}

func (tx *signingTx) InsertAggregate(ctx context.Context, agg *domain.SigningAggregate) error {
	doc := agg.Document
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	_, err = tx.q.ExecContext(ctx, tx.d.rebind(`
INSERT INTO documents (`+documentColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`),
		doc.ID, doc.OwnerID, doc.Filename, doc.MimeType, doc.StorageKey, doc.SignedStorageKey,
		doc.OriginalHash, doc.SignedHash, string(doc.Status), string(metadata),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return classify("insert document", err)
	}

	req := agg.Request
	_, err = tx.q.ExecContext(ctx, tx.d.rebind(`
INSERT INTO signing_requests (`+requestColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?)
`),
		req.ID, req.DocumentID, req.InitiatorID, string(req.SigningType), string(req.Status),
		req.CurrentSignerIndex, req.RequiredSigners, req.CurrentSigners,
		formatTime(req.CreatedAt), nullTime(req.CompletedAt),
	)
	if err != nil {
		return classify("insert signing request", err)
	}

	for _, s := range agg.Signers {
		meta, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("marshal signature metadata: %w", err)
		}
		_, err = tx.q.ExecContext(ctx, tx.d.rebind(`
INSERT INTO signers (`+signerColumns+`)
VALUES (?,?,?,?,?,?,?,?)
`),
			s.ID, s.RequestID, s.SignerID, s.Order, string(s.Status), s.Signature, nullTime(s.SignedAt), string(meta),
		)
		if err != nil {
			return classify("insert signer", err)
		}
	}
	return nil
}

// LockRequest reads the request row and holds its write lock until the
// transaction ends. SQLite transactions already hold the database lock.
func (tx *signingTx) LockRequest(ctx context.Context, id string) (*domain.SigningRequest, error) {
	return tx.getRequest(ctx, `SELECT `+requestColumns+` FROM signing_requests WHERE id = ?`+tx.d.forUpdate, id)
}

func (tx *signingTx) MarkSignerSigned(ctx context.Context, signer *domain.Signer) error {
	meta, err := json.Marshal(signer.Metadata)
	if err != nil {
		return fmt.Errorf("marshal signature metadata: %w", err)
	}
	res, err := tx.q.ExecContext(ctx, tx.d.rebind(`
UPDATE signers
SET status = ?, signature = ?, signed_at = ?, metadata = ?
WHERE id = ? AND status = ?
`), string(domain.SignerSigned), signer.Signature, nullTime(signer.SignedAt), string(meta), signer.ID, string(domain.SignerPending))
	return expectOne("mark signer signed", res, err)
}

func (tx *signingTx) MarkSignerRejected(ctx context.Context, signerRowID string) error {
	res, err := tx.q.ExecContext(ctx, tx.d.rebind(`
UPDATE signers SET status = ? WHERE id = ? AND status = ?
`), string(domain.SignerRejected), signerRowID, string(domain.SignerPending))
	return expectOne("mark signer rejected", res, err)
}

func (tx *signingTx) AdvanceRequest(ctx context.Context, requestID string, from, to domain.QueuePosition) error {
	res, err := tx.q.ExecContext(ctx, tx.d.rebind(`
UPDATE signing_requests
SET current_signer_index = ?, current_signers = ?
WHERE id = ? AND status = ? AND current_signer_index = ? AND current_signers = ?
`), to.Index, to.Signed, requestID, string(domain.RequestPending), from.Index, from.Signed)
	return expectOne("advance request", res, err)
}

func (tx *signingTx) CompleteRequest(ctx context.Context, requestID string, from domain.QueuePosition, signed int, at time.Time) error {
	ts := formatTime(at)
	res, err := tx.q.ExecContext(ctx, tx.d.rebind(`
UPDATE signing_requests
SET status = ?, current_signers = ?, completed_at = ?, closed_at = ?
WHERE id = ? AND status = ? AND current_signer_index = ? AND current_signers = ?
`), string(domain.RequestCompleted), signed, ts, ts, requestID, string(domain.RequestPending), from.Index, from.Signed)
	return expectOne("complete request", res, err)
}

func (tx *signingTx) RejectRequest(ctx context.Context, requestID string, at time.Time) error {
	res, err := tx.q.ExecContext(ctx, tx.d.rebind(`
UPDATE signing_requests SET status = ?, closed_at = ? WHERE id = ? AND status = ?
`), string(domain.RequestRejected), formatTime(at), requestID, string(domain.RequestPending))
	return expectOne("reject request", res, err)
}

func (tx *signingTx) UpdateDocumentStatus(ctx context.Context, documentID string, from, to domain.DocumentStatus, at time.Time) error {
	res, err := tx.q.ExecContext(ctx, tx.d.rebind(`
UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?
`), string(to), formatTime(at), documentID, string(from))
	return expectOne("update document status", res, err)
}

func (tx *signingTx) CompleteDocument(ctx context.Context, documentID, signedHash, signedKey string, at time.Time) error {
	res, err := tx.q.ExecContext(ctx, tx.d.rebind(`
UPDATE documents
SET status = ?, signed_hash = ?, signed_storage_key = ?, updated_at = ?
WHERE id = ? AND status = ?
`), string(domain.DocumentCompleted), signedHash, signedKey, formatTime(at), documentID, string(domain.DocumentSigned))
	return expectOne("complete document", res, err)
}

func (tx *signingTx) LastAuditEntry(ctx context.Context, chainKey string) (*domain.AuditEntry, error) {
	row := tx.q.QueryRowContext(ctx, tx.d.rebind(`
SELECT `+auditColumns+` FROM audit_log WHERE chain_key = ? ORDER BY seq DESC LIMIT 1
`), chainKey)
	e, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("read audit chain tail", err)
	}
	return e, nil
}

func (tx *signingTx) AppendAudit(ctx context.Context, chainKey string, entry *domain.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = tx.q.ExecContext(ctx, tx.d.rebind(`
INSERT INTO audit_log (chain_key, `+auditColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`),
		chainKey, entry.ID, entry.DocumentID, entry.RequestID, entry.ActorID, string(entry.Action),
		string(details), formatTime(entry.CreatedAt), entry.Seq, entry.PrevHash, entry.EntryHash,
	)
	if err != nil {
		return classify("append audit entry", err)
	}
	return nil
}

// expectOne turns a conditional update that matched no row into a conflict.
func expectOne(op string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return domain.NewError(domain.ErrConflict, op, "row changed concurrently or is not in the expected state")
	}
	return nil
}
