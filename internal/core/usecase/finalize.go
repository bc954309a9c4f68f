package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// FinalizeUseCase renders evidence for a completed request and closes the
// document hash chain. A failure leaves the document signed for a later retry.
type FinalizeUseCase struct {
	store    ports.SigningStore
	storage  ports.ObjectStorage
	renderer ports.EvidenceRenderer
	hasher   ports.Hasher
	audit    *AuditTrail
	metrics  ports.SigningMetrics
	now      func() time.Time
}

func NewFinalizeUseCase(
	store ports.SigningStore,
	storage ports.ObjectStorage,
	renderer ports.EvidenceRenderer,
	hasher ports.Hasher,
	audit *AuditTrail,
	metrics ports.SigningMetrics,
) *FinalizeUseCase {
	return &FinalizeUseCase{
		store:    store,
		storage:  storage,
		renderer: renderer,
		hasher:   hasher,
		audit:    audit,
		metrics:  metricsOrNop(metrics),
		now:      defaultNow,
	}
}

func (uc *FinalizeUseCase) Finalize(ctx context.Context, requestID, actorID string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "finalize.finalize")
	var err error
	defer func() { endSpan(span, err) }()

	var doc *domain.Document
	doc, err = uc.finalize(ctx, requestID, actorID)
	return doc, err
}

// FinalizeRetry re-runs finalize. A request whose document is already
// completed is a successful no-op.
func (uc *FinalizeUseCase) FinalizeRetry(ctx context.Context, requestID, actorID string) (*domain.Document, error) {
	ctx, span := tracer.Start(ctx, "finalize.retry")
	var err error
	defer func() { endSpan(span, err) }()

	var doc *domain.Document
	doc, err = uc.finalize(ctx, requestID, actorID)
	return doc, err
}

func (uc *FinalizeUseCase) finalize(ctx context.Context, requestID, actorID string) (*domain.Document, error) {
	const op = "finalize"
	req, err := uc.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestCompleted {
		return nil, domain.NewError(domain.ErrConflict, op, "request %s is %s, not completed", req.ID, req.Status)
	}
	doc, err := uc.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case domain.DocumentCompleted:
		uc.metrics.Finalized("noop")
		return doc, nil
	case domain.DocumentSigned:
	default:
		return nil, domain.NewError(domain.ErrConflict, op, "document %s is %s, expected signed", doc.ID, doc.Status)
	}

	if actorID == "" {
		actorID = req.InitiatorID
	}
	uc.recordStandalone(ctx, &domain.AuditEntry{
		DocumentID: doc.ID,
		RequestID:  req.ID,
		ActorID:    actorID,
		Action:     domain.AuditFinalizeAttempted,
		Details: domain.AuditDetails{
			FromStatus:   string(domain.DocumentSigned),
			OriginalHash: doc.OriginalHash,
		},
	})

	signedHash, signedKey, err := uc.render(ctx, req, doc)
	if err != nil {
		return nil, uc.fail(ctx, req, doc, actorID, err)
	}

	now := uc.now()
	err = uc.store.InTx(ctx, func(ctx context.Context, tx ports.SigningTx) error {
		if _, err := tx.LockRequest(ctx, req.ID); err != nil {
			return err
		}
		if err := tx.CompleteDocument(ctx, doc.ID, signedHash, signedKey, now); err != nil {
			return err
		}
		return uc.audit.Record(ctx, tx, &domain.AuditEntry{
			DocumentID: doc.ID,
			RequestID:  req.ID,
			ActorID:    actorID,
			Action:     domain.AuditFinalizeSucceeded,
			CreatedAt:  now,
			Details: domain.AuditDetails{
				FromStatus:   string(domain.DocumentSigned),
				ToStatus:     string(domain.DocumentCompleted),
				OriginalHash: doc.OriginalHash,
				SignedHash:   signedHash,
			},
		})
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrConflict) {
			current, getErr := uc.store.GetDocument(ctx, doc.ID)
			if getErr == nil && current.Status == domain.DocumentCompleted {
				uc.metrics.Finalized("noop")
				return current, nil
			}
		}
		return nil, uc.fail(ctx, req, doc, actorID, storageError("write signed hash", err))
	}

	uc.metrics.Finalized("succeeded")
	slog.Info("document_finalized",
		"request_id", req.ID,
		"document_id", doc.ID,
		"signed_hash", signedHash,
	)
	out := *doc
	out.Status = domain.DocumentCompleted
	out.SignedHash = signedHash
	out.SignedStorageKey = signedKey
	out.UpdatedAt = now
	return &out, nil
}

// render loads the original bytes, embeds the ordered signatures and stores
// the result. It returns the signed hash and storage key.
func (uc *FinalizeUseCase) render(ctx context.Context, req *domain.SigningRequest, doc *domain.Document) (string, string, error) {
	signers, err := uc.store.ListSigners(ctx, req.ID)
	if err != nil {
		return "", "", storageError("list signers", err)
	}
	domain.SortSigners(signers)
	embedded := make([]domain.EmbeddedSignature, 0, len(signers))
	for _, s := range signers {
		if s.Status != domain.SignerSigned || s.SignedAt == nil {
			return "", "", domain.NewError(domain.ErrConflict, "collect signatures", "signer %q of request %s is %s", s.SignerID, req.ID, s.Status)
		}
		embedded = append(embedded, domain.EmbeddedSignature{
			SignerID:  s.SignerID,
			Order:     s.Order,
			Signature: s.Signature,
			SignedAt:  *s.SignedAt,
			Metadata:  s.Metadata,
		})
	}

	original, err := uc.readOriginal(ctx, doc)
	if err != nil {
		return "", "", err
	}

	rendered, err := uc.renderer.Embed(ctx, doc, original, embedded)
	if err != nil {
		if domain.KindOf(err) == nil {
			err = domain.WrapError(domain.ErrRender, "embed signatures", err)
		}
		return "", "", err
	}
	if len(rendered) == 0 {
		return "", "", domain.NewError(domain.ErrRender, "embed signatures", "renderer returned no bytes")
	}
	signedHash := uc.hasher.Sum(rendered)
	if signedHash == doc.OriginalHash {
		return "", "", domain.NewError(domain.ErrRender, "embed signatures", "rendered document hash equals original hash %s", signedHash)
	}

	key := signedKey(doc, signedHash)
	if err := uc.storage.Save(ctx, key, bytes.NewReader(rendered)); err != nil {
		return "", "", storageError("save signed document", err)
	}
	return signedHash, key, nil
}

// signedKey addresses a rendition by its hash, so a renderer that is not
// byte-stable never overwrites the object a committed signed hash points at.
func signedKey(doc *domain.Document, signedHash string) string {
	return fmt.Sprintf("signed/%s/%s/%s", doc.ID, strings.Replace(signedHash, ":", "/", 1), sanitizeFilename(doc.Filename))
}

func (uc *FinalizeUseCase) readOriginal(ctx context.Context, doc *domain.Document) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return nil, storageError("open original document", err)
	}
	defer rc.Close()
	original, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "read original document", err)
	}
	if got := uc.hasher.Sum(original); got != doc.OriginalHash {
		return nil, domain.NewError(domain.ErrStorage, "read original document", "stored bytes hash to %s, expected %s", got, doc.OriginalHash)
	}
	return original, nil
}

func (uc *FinalizeUseCase) fail(ctx context.Context, req *domain.SigningRequest, doc *domain.Document, actorID string, cause error) error {
	uc.metrics.Finalized("failed")
	slog.Warn("finalize_failed",
		"request_id", req.ID,
		"document_id", doc.ID,
		"error", cause.Error(),
	)
	uc.recordStandalone(ctx, &domain.AuditEntry{
		DocumentID: doc.ID,
		RequestID:  req.ID,
		ActorID:    actorID,
		Action:     domain.AuditFinalizeFailed,
		Details: domain.AuditDetails{
			FromStatus: string(domain.DocumentSigned),
			ToStatus:   string(domain.DocumentSigned),
			Error:      cause.Error(),
		},
	})
	return cause
}

func (uc *FinalizeUseCase) recordStandalone(ctx context.Context, entry *domain.AuditEntry) {
	if err := uc.audit.RecordStandalone(ctx, entry); err != nil {
		slog.Warn("audit_append_failed",
			"action", entry.Action,
			"request_id", entry.RequestID,
			"error", err.Error(),
		)
	}
}
