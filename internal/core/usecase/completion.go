package usecase

import (
	"context"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// AdvanceOutcome is what the completion detector decided for one signature.
type AdvanceOutcome struct {
	Request   domain.SigningRequest
	Document  domain.Document
	Completed bool
	Next      *domain.Signer
}

// CompletionDetector decides between advancing the queue and completing the
// request. It runs inside the transaction that recorded the signature.
type CompletionDetector struct {
	audit *AuditTrail
	now   func() time.Time
}

func NewCompletionDetector(audit *AuditTrail) *CompletionDetector {
	return &CompletionDetector{audit: audit, now: defaultNow}
}

// Advance re-reads the signer set and moves req forward with a single
// conditional update. A lost compare-and-swap surfaces as ErrConflict so the
// surrounding transaction rolls back.
func (d *CompletionDetector) Advance(ctx context.Context, tx ports.SigningTx, req *domain.SigningRequest, actorID string) (*AdvanceOutcome, error) {
	const op = "advance signing queue"

	signers, err := tx.ListSigners(ctx, req.ID)
	if err != nil {
		return nil, storageError(op, err)
	}
	domain.SortSigners(signers)
	doc, err := tx.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, storageError(op, err)
	}

	now := d.now()
	from := req.Position()
	signed := domain.CountSigned(signers)

	if len(signers) == req.RequiredSigners && domain.AllSigned(signers) {
		return d.complete(ctx, tx, req, doc, signers, actorID, now)
	}

	to := domain.QueuePosition{Index: from.Index, Signed: from.Signed + 1}
	var next *domain.Signer
	if req.SigningType == domain.SigningSequential {
		s, ok := domain.SignerAtOrder(signers, from.Index+1)
		if !ok {
			return nil, domain.NewError(domain.ErrConflict, op, "request %s has an ordering gap after order %d", req.ID, from.Index)
		}
		if s.Status != domain.SignerPending {
			return nil, domain.NewError(domain.ErrConflict, op, "request %s next signer %d is already %s", req.ID, s.Order, s.Status)
		}
		to.Index = s.Order
		next = s
	} else {
		for i := range signers {
			if signers[i].Status == domain.SignerPending {
				next = &signers[i]
				break
			}
		}
	}
	if to.Signed != signed {
		return nil, domain.NewError(domain.ErrConflict, op, "request %s counts %d signatures, store holds %d", req.ID, to.Signed, signed)
	}

	if err := tx.AdvanceRequest(ctx, req.ID, from, to); err != nil {
		return nil, err
	}
	if doc.Status == domain.DocumentUploaded {
		if err := tx.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentUploaded, domain.DocumentAccepted, now); err != nil {
			return nil, err
		}
		doc.Status = domain.DocumentAccepted
		doc.UpdatedAt = now
	}
	if err := d.audit.Record(ctx, tx, &domain.AuditEntry{
		DocumentID: req.DocumentID,
		RequestID:  req.ID,
		ActorID:    actorID,
		Action:     domain.AuditQueueAdvanced,
		CreatedAt:  now,
		Details: domain.AuditDetails{
			FromIndex:   domain.IntPtr(from.Index),
			ToIndex:     domain.IntPtr(to.Index),
			SignerCount: to.Signed,
			ToStatus:    string(doc.Status),
		},
	}); err != nil {
		return nil, err
	}

	advanced := *req
	advanced.CurrentSignerIndex = to.Index
	advanced.CurrentSigners = to.Signed
	return &AdvanceOutcome{Request: advanced, Document: *doc, Next: next}, nil
}

func (d *CompletionDetector) complete(
	ctx context.Context,
	tx ports.SigningTx,
	req *domain.SigningRequest,
	doc *domain.Document,
	signers []domain.Signer,
	actorID string,
	now time.Time,
) (*AdvanceOutcome, error) {
	const op = "complete signing request"
	if !doc.Status.CanTransitionTo(domain.DocumentSigned) {
		return nil, domain.NewError(domain.ErrConflict, op, "document %s cannot move from %s to signed", doc.ID, doc.Status)
	}
	if err := tx.CompleteRequest(ctx, req.ID, req.Position(), len(signers), now); err != nil {
		return nil, err
	}
	if err := tx.UpdateDocumentStatus(ctx, doc.ID, doc.Status, domain.DocumentSigned, now); err != nil {
		return nil, err
	}
	if err := d.audit.Record(ctx, tx, &domain.AuditEntry{
		DocumentID: req.DocumentID,
		RequestID:  req.ID,
		ActorID:    actorID,
		Action:     domain.AuditRequestCompleted,
		CreatedAt:  now,
		Details: domain.AuditDetails{
			FromStatus:   string(domain.RequestPending),
			ToStatus:     string(domain.RequestCompleted),
			FromIndex:    domain.IntPtr(req.CurrentSignerIndex),
			SignerCount:  len(signers),
			OriginalHash: doc.OriginalHash,
		},
	}); err != nil {
		return nil, err
	}

	completed := *req
	completed.Status = domain.RequestCompleted
	completed.CurrentSigners = len(signers)
	completed.CompletedAt = &now
	finished := *doc
	finished.Status = domain.DocumentSigned
	finished.UpdatedAt = now
	return &AdvanceOutcome{Request: completed, Document: finished, Completed: true}, nil
}
