package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// VerificationUseCase replays the recorded signature chain for a document.
// It never mutates signing state.
type VerificationUseCase struct {
	store         ports.SigningStore
	hasher        ports.Hasher
	audit         *AuditTrail
	auditAttempts bool
	metrics       ports.SigningMetrics
	now           func() time.Time
}

func NewVerificationUseCase(
	store ports.SigningStore,
	hasher ports.Hasher,
	audit *AuditTrail,
	auditAttempts bool,
	metrics ports.SigningMetrics,
) *VerificationUseCase {
	return &VerificationUseCase{
		store:         store,
		hasher:        hasher,
		audit:         audit,
		auditAttempts: auditAttempts,
		metrics:       metricsOrNop(metrics),
		now:           defaultNow,
	}
}

func (uc *VerificationUseCase) Verify(ctx context.Context, in domain.VerifyInput) (*domain.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "verification.verify")
	var err error
	defer func() { endSpan(span, err) }()

	var hash string
	switch {
	case len(in.Content) > 0:
		hash = uc.hasher.Sum(in.Content)
	case in.Hash != "":
		hash, err = uc.hasher.Normalize(in.Hash)
		if err != nil {
			err = domain.WrapError(domain.ErrValidation, "verify", err)
			return nil, err
		}
	default:
		err = domain.NewError(domain.ErrValidation, "verify", "document bytes or a hash are required")
		return nil, err
	}

	result := &domain.VerificationResult{
		Hash:       hash,
		MatchedOn:  domain.MatchNone,
		Signers:    []domain.SignerVerification{},
		VerifiedAt: uc.now(),
	}

	var docs []domain.Document
	docs, err = uc.store.FindDocumentsByHash(ctx, hash)
	if err != nil {
		err = storageError("find documents by hash", err)
		return nil, err
	}
	doc := pickVerified(hash, docs)
	if doc == nil {
		result.Reasons = []string{"no document matches this hash"}
		uc.metrics.Verified(false)
		return result, nil
	}

	var req *domain.SigningRequest
	req, err = uc.store.GetRequestByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	var signers []domain.Signer
	signers, err = uc.store.ListSigners(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	domain.SortSigners(signers)

	uc.evaluate(result, hash, doc, req, signers, in.Claimed)
	uc.metrics.Verified(result.Valid)
	if uc.auditAttempts {
		uc.recordAttempt(ctx, in.ActorID, result)
	}
	return result, nil
}

func (uc *VerificationUseCase) evaluate(
	result *domain.VerificationResult,
	hash string,
	doc *domain.Document,
	req *domain.SigningRequest,
	signers []domain.Signer,
	claimed []domain.ClaimedSignature,
) {
	result.DocumentID = doc.ID
	result.RequestID = req.ID
	result.DocumentStatus = doc.Status
	result.RequestStatus = req.Status
	result.OriginalHash = doc.OriginalHash
	result.SignedHash = doc.SignedHash
	result.CompletedAt = req.CompletedAt
	result.MatchedOn = domain.MatchOriginal
	if doc.SignedHash != "" && doc.SignedHash == hash {
		result.MatchedOn = domain.MatchSigned
	}

	var reasons []string
	if req.Status != domain.RequestCompleted {
		reasons = append(reasons, fmt.Sprintf("signing request is %s", req.Status))
	}
	if len(signers) != req.RequiredSigners {
		reasons = append(reasons, fmt.Sprintf("request requires %d signers, %d recorded", req.RequiredSigners, len(signers)))
	}
	if result.MatchedOn == domain.MatchSigned && !doc.HashChainIntact() {
		reasons = append(reasons, "signed hash does not extend the original hash")
	}

	for _, s := range signers {
		sv := uc.verifySigner(s, doc.OriginalHash)
		if sv.Problem != "" {
			reasons = append(reasons, fmt.Sprintf("signer %s (order %d): %s", s.SignerID, s.Order, sv.Problem))
		}
		result.Signers = append(result.Signers, sv)
	}
	reasons = append(reasons, compareClaimed(claimed, signers)...)

	result.Reasons = reasons
	result.Valid = len(reasons) == 0
}

func (uc *VerificationUseCase) verifySigner(s domain.Signer, originalHash string) domain.SignerVerification {
	sv := domain.SignerVerification{
		SignerID:         s.SignerID,
		Order:            s.Order,
		Status:           s.Status,
		SignedAt:         s.SignedAt,
		Algorithm:        s.Metadata.Algorithm,
		KeyID:            s.Metadata.KeyID,
		SignaturePresent: len(s.Signature) > 0,
	}
	if sv.SignaturePresent {
		sv.SignatureDigest = uc.hasher.Sum(s.Signature)
	}

	switch {
	case s.Status != domain.SignerSigned:
		sv.Problem = fmt.Sprintf("has not signed (%s)", s.Status)
		return sv
	case !sv.SignaturePresent:
		sv.Problem = "signature is missing"
		return sv
	case !s.Metadata.Algorithm.Valid():
		sv.Problem = fmt.Sprintf("unknown signature algorithm %q", s.Metadata.Algorithm)
		return sv
	}
	referenced, err := uc.hasher.Normalize(s.Metadata.HashReferenced)
	if err != nil || referenced != originalHash {
		sv.Problem = "signature references a different document hash"
		return sv
	}
	if s.Metadata.PublicKey != "" {
		ok, err := verifyCryptographic(s.Metadata, referenced, s.Signature)
		sv.CryptoVerified = &ok
		if err != nil {
			sv.Problem = err.Error()
		} else if !ok {
			sv.Problem = "signature does not verify against the recorded public key"
		}
	}
	return sv
}

// compareClaimed reports differences between what a verifier expects and the
// recorded signer set.
func compareClaimed(claimed []domain.ClaimedSignature, signers []domain.Signer) []string {
	if len(claimed) == 0 {
		return nil
	}
	recorded := make(map[string]domain.Signer, len(signers))
	for _, s := range signers {
		recorded[NormalizeSignerID(s.SignerID)] = s
	}
	var reasons []string
	seen := make(map[string]bool, len(claimed))
	for _, c := range claimed {
		key := NormalizeSignerID(c.SignerID)
		seen[key] = true
		s, ok := recorded[key]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("claimed signer %s is not part of the request", c.SignerID))
			continue
		}
		if c.Order != nil && *c.Order != s.Order {
			reasons = append(reasons, fmt.Sprintf("claimed signer %s at order %d, recorded at %d", c.SignerID, *c.Order, s.Order))
		}
	}
	for _, s := range signers {
		if !seen[NormalizeSignerID(s.SignerID)] {
			reasons = append(reasons, fmt.Sprintf("recorded signer %s was not claimed", s.SignerID))
		}
	}
	return reasons
}

// pickVerified prefers a document whose signed hash matches, then a completed
// document, then the first match.
func pickVerified(hash string, docs []domain.Document) *domain.Document {
	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if docs[i].SignedHash == hash {
			return &docs[i]
		}
	}
	for i := range docs {
		if docs[i].Status == domain.DocumentCompleted {
			return &docs[i]
		}
	}
	return &docs[0]
}

func (uc *VerificationUseCase) recordAttempt(ctx context.Context, actorID string, result *domain.VerificationResult) {
	verdict := "invalid"
	if result.Valid {
		verdict = "valid"
	}
	if actorID == "" {
		actorID = "anonymous"
	}
	err := uc.audit.RecordStandalone(ctx, &domain.AuditEntry{
		DocumentID: result.DocumentID,
		RequestID:  result.RequestID,
		ActorID:    actorID,
		Action:     domain.AuditVerificationAttempted,
		Details: domain.AuditDetails{
			Verdict:      verdict,
			OriginalHash: result.OriginalHash,
			SignedHash:   result.SignedHash,
		},
	})
	if err != nil {
		slog.Warn("audit_append_failed",
			"action", domain.AuditVerificationAttempted,
			"document_id", result.DocumentID,
			"error", err.Error(),
		)
	}
}
