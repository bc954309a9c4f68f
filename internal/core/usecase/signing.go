package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// SigningUseCase is the signer queue controller and signature aggregator.
type SigningUseCase struct {
	store      ports.SigningStore
	audit      *AuditTrail
	completion *CompletionDetector
	finalizer  ports.Finalizer
	hasher     ports.Hasher
	notifier   ports.Notifier
	metrics    ports.SigningMetrics
	now        func() time.Time
}

func NewSigningUseCase(
	store ports.SigningStore,
	audit *AuditTrail,
	finalizer ports.Finalizer,
	hasher ports.Hasher,
	notifier ports.Notifier,
	metrics ports.SigningMetrics,
) *SigningUseCase {
	return &SigningUseCase{
		store:      store,
		audit:      audit,
		completion: NewCompletionDetector(audit),
		finalizer:  finalizer,
		hasher:     hasher,
		notifier:   notifier,
		metrics:    metricsOrNop(metrics),
		now:        defaultNow,
	}
}

// CurrentSigner returns the signer allowed to act, or nil when the request is
// no longer pending.
func (uc *SigningUseCase) CurrentSigner(ctx context.Context, requestID string) (*domain.Signer, error) {
	req, err := uc.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestPending {
		return nil, nil
	}
	signers, err := uc.store.ListSigners(ctx, requestID)
	if err != nil {
		return nil, err
	}
	current, ok := firstPending(req, signers)
	if !ok {
		return nil, domain.NewError(domain.ErrConflict, "current signer", "pending request %s has no signer at order %d", req.ID, req.CurrentSignerIndex)
	}
	out := *current
	return &out, nil
}

func (uc *SigningUseCase) SubmitSignature(ctx context.Context, in domain.SubmitSignatureInput) (*domain.SubmitSignatureResult, error) {
	ctx, span := tracer.Start(ctx, "signing.submit_signature")
	var err error
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.RequestID) == "" || strings.TrimSpace(in.SignerID) == "" {
		err = domain.NewError(domain.ErrValidation, "submit signature", "request id and signer id are required")
		return nil, err
	}

	var (
		result  *domain.SubmitSignatureResult
		outcome *AdvanceOutcome
		docID   string
	)
	err = uc.store.InTx(ctx, func(ctx context.Context, tx ports.SigningTx) error {
		req, err := tx.LockRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		docID = req.DocumentID
		if req.Status != domain.RequestPending {
			return domain.NewError(domain.ErrConflict, "submit signature", "request %s is %s", req.ID, req.Status)
		}
		signers, err := tx.ListSigners(ctx, req.ID)
		if err != nil {
			return err
		}
		slot, err := resolveSlot(req, signers, in.SignerID, domain.SignerSigned)
		if err != nil {
			return err
		}
		doc, err := tx.GetDocument(ctx, req.DocumentID)
		if err != nil {
			return err
		}
		if err := checkSignature(uc.hasher, in.Signature, in.Metadata, doc.OriginalHash); err != nil {
			return err
		}

		now := uc.now()
		before := slot.Status
		signer := *slot
		signer.Status = domain.SignerSigned
		signer.Signature = in.Signature
		signer.SignedAt = &now
		signer.Metadata = in.Metadata
		signer.Metadata.HashReferenced = doc.OriginalHash
		if err := tx.MarkSignerSigned(ctx, &signer); err != nil {
			return err
		}
		if err := uc.audit.Record(ctx, tx, &domain.AuditEntry{
			DocumentID: req.DocumentID,
			RequestID:  req.ID,
			ActorID:    in.SignerID,
			Action:     domain.AuditSignatureRecorded,
			CreatedAt:  now,
			Details: domain.AuditDetails{
				SignerID:    signer.SignerID,
				SignerOrder: domain.IntPtr(signer.Order),
				FromStatus:  string(before),
				ToStatus:    string(signer.Status),
			},
		}); err != nil {
			return err
		}

		outcome, err = uc.completion.Advance(ctx, tx, req, in.SignerID)
		if err != nil {
			return err
		}
		result = &domain.SubmitSignatureResult{
			Request:    outcome.Request,
			Signer:     signer,
			NextSigner: outcome.Next,
			Completed:  outcome.Completed,
			Document:   &outcome.Document,
		}
		return nil
	})
	if err != nil {
		uc.metrics.SignatureSubmitted(submitResultLabel(err))
		if domain.IsKind(err, domain.ErrAuthorization) && docID != "" {
			uc.recordRejectedAttempt(ctx, in, docID, err)
		}
		return nil, err
	}

	uc.metrics.SignatureSubmitted("recorded")
	uc.afterCommit(ctx, result)
	return result, nil
}

// Reject lets the acting signer decline; the request becomes rejected.
func (uc *SigningUseCase) Reject(ctx context.Context, requestID, signerID, reason string) (*domain.SigningRequest, error) {
	if strings.TrimSpace(requestID) == "" || strings.TrimSpace(signerID) == "" {
		return nil, domain.NewError(domain.ErrValidation, "reject request", "request id and signer id are required")
	}
	var rejected domain.SigningRequest
	var docID string
	err := uc.store.InTx(ctx, func(ctx context.Context, tx ports.SigningTx) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		docID = req.DocumentID
		if !req.Status.CanTransitionTo(domain.RequestRejected) {
			return domain.NewError(domain.ErrConflict, "reject request", "request %s is %s", req.ID, req.Status)
		}
		signers, err := tx.ListSigners(ctx, req.ID)
		if err != nil {
			return err
		}
		slot, err := resolveSlot(req, signers, signerID, domain.SignerRejected)
		if err != nil {
			return err
		}
		now := uc.now()
		if err := tx.MarkSignerRejected(ctx, slot.ID); err != nil {
			return err
		}
		if err := tx.RejectRequest(ctx, req.ID, now); err != nil {
			return err
		}
		if err := uc.audit.Record(ctx, tx, &domain.AuditEntry{
			DocumentID: req.DocumentID,
			RequestID:  req.ID,
			ActorID:    signerID,
			Action:     domain.AuditRequestRejected,
			CreatedAt:  now,
			Details: domain.AuditDetails{
				SignerID:    slot.SignerID,
				SignerOrder: domain.IntPtr(slot.Order),
				FromStatus:  string(domain.RequestPending),
				ToStatus:    string(domain.RequestRejected),
				Reason:      reason,
			},
		}); err != nil {
			return err
		}
		rejected = *req
		rejected.Status = domain.RequestRejected
		return nil
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrAuthorization) && docID != "" {
			uc.recordRejectedAttempt(ctx, domain.SubmitSignatureInput{RequestID: requestID, SignerID: signerID}, docID, err)
		}
		return nil, err
	}
	return &rejected, nil
}

// resolveSlot returns the signer row signerID may move to next, enforcing turn
// order for sequential requests.
func resolveSlot(req *domain.SigningRequest, signers []domain.Signer, signerID string, next domain.SignerStatus) (*domain.Signer, error) {
	domain.SortSigners(signers)
	if req.SigningType == domain.SigningParallel {
		for i := range signers {
			if !sameSigner(signers[i].SignerID, signerID) {
				continue
			}
			if !signers[i].Status.CanTransitionTo(next) {
				return nil, domain.NewError(domain.ErrConflict, "resolve signer", "signer %q already %s request %s", signerID, signers[i].Status, req.ID)
			}
			return &signers[i], nil
		}
		return nil, domain.NewError(domain.ErrAuthorization, "resolve signer", "%q is not a signer of request %s", signerID, req.ID)
	}

	current, ok := domain.SignerAtOrder(signers, req.CurrentSignerIndex)
	if !ok {
		return nil, domain.NewError(domain.ErrConflict, "resolve signer", "request %s has no signer at order %d", req.ID, req.CurrentSignerIndex)
	}
	if !sameSigner(current.SignerID, signerID) || !current.Status.CanTransitionTo(next) {
		return nil, &domain.TurnError{
			RequestID:     req.ID,
			AttemptedBy:   signerID,
			CurrentSigner: current.SignerID,
			CurrentOrder:  current.Order,
		}
	}
	return current, nil
}

func (uc *SigningUseCase) recordRejectedAttempt(ctx context.Context, in domain.SubmitSignatureInput, documentID string, cause error) {
	details := domain.AuditDetails{
		SignerID: in.SignerID,
		Reason:   cause.Error(),
	}
	var turn *domain.TurnError
	if errors.As(cause, &turn) {
		details.SignerOrder = domain.IntPtr(turn.CurrentOrder)
	}
	err := uc.audit.RecordStandalone(ctx, &domain.AuditEntry{
		DocumentID: documentID,
		RequestID:  in.RequestID,
		ActorID:    in.SignerID,
		Action:     domain.AuditSignatureRejected,
		Details:    details,
	})
	if err != nil {
		slog.Warn("audit_append_failed",
			"action", domain.AuditSignatureRejected,
			"request_id", in.RequestID,
			"error", err.Error(),
		)
	}
}

func (uc *SigningUseCase) afterCommit(ctx context.Context, result *domain.SubmitSignatureResult) {
	req := result.Request
	if !result.Completed {
		if result.NextSigner != nil && req.SigningType == domain.SigningSequential {
			notify(ctx, uc.notifier, domain.SigningEvent{
				Type:       domain.EventSignerTurn,
				RequestID:  req.ID,
				DocumentID: req.DocumentID,
				SignerID:   result.NextSigner.SignerID,
				Order:      result.NextSigner.Order,
				OccurredAt: uc.now(),
			})
		}
		return
	}

	uc.metrics.RequestCompleted()
	notify(ctx, uc.notifier, domain.SigningEvent{
		Type:       domain.EventRequestCompleted,
		RequestID:  req.ID,
		DocumentID: req.DocumentID,
		OccurredAt: uc.now(),
	})
	if uc.finalizer == nil {
		notify(ctx, uc.notifier, domain.SigningEvent{
			Type:       domain.EventFinalizeRequested,
			RequestID:  req.ID,
			DocumentID: req.DocumentID,
			OccurredAt: uc.now(),
		})
		return
	}

	doc, err := uc.finalizer.Finalize(ctx, req.ID, result.Signer.SignerID)
	if err != nil {
		result.FinalizeError = err.Error()
		slog.Warn("finalize_deferred",
			"request_id", req.ID,
			"document_id", req.DocumentID,
			"error", err.Error(),
		)
		notify(ctx, uc.notifier, domain.SigningEvent{
			Type:       domain.EventFinalizeRequested,
			RequestID:  req.ID,
			DocumentID: req.DocumentID,
			OccurredAt: uc.now(),
		})
		return
	}
	result.Finalized = true
	result.Document = doc
}

func submitResultLabel(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrAuthorization):
		return "out_of_turn"
	case domain.IsKind(err, domain.ErrConflict):
		return "conflict"
	case domain.IsKind(err, domain.ErrValidation):
		return "invalid"
	case domain.IsKind(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
