package ports

import (
	"context"
	"io"

	"github.com/kirillkom/signflow/internal/core/domain"
)

// DocumentSubmitter is the upload path: duplicate check then registry creation.
type DocumentSubmitter interface {
	Submit(ctx context.Context, in domain.SubmitDocumentInput) (*domain.SubmitDocumentResult, error)
}

// SigningRequestRegistry creates a request and its ordered signer set.
type SigningRequestRegistry interface {
	Create(ctx context.Context, in domain.CreateRequestInput) (*domain.SigningAggregate, error)
}

// SignerQueue enforces that only the current signer may act.
type SignerQueue interface {
	CurrentSigner(ctx context.Context, requestID string) (*domain.Signer, error)
	SubmitSignature(ctx context.Context, in domain.SubmitSignatureInput) (*domain.SubmitSignatureResult, error)
	Reject(ctx context.Context, requestID, signerID, reason string) (*domain.SigningRequest, error)
}

// Finalizer renders evidence for completed requests.
type Finalizer interface {
	Finalize(ctx context.Context, requestID, actorID string) (*domain.Document, error)
	FinalizeRetry(ctx context.Context, requestID, actorID string) (*domain.Document, error)
}

// DuplicateChecker classifies a hash against prior documents.
type DuplicateChecker interface {
	Check(ctx context.Context, hash, ownerID string) (domain.DuplicateCheck, error)
}

// Verifier answers whether a document carries a complete, valid signature set.
type Verifier interface {
	Verify(ctx context.Context, in domain.VerifyInput) (*domain.VerificationResult, error)
}

// RequestStatusReader is the progress read model.
type RequestStatusReader interface {
	Status(ctx context.Context, requestID string) (*domain.RequestProgress, error)
}

// AuditTrailReader lists and checks a request's audit chain.
type AuditTrailReader interface {
	Trail(ctx context.Context, requestID string) (*domain.AuditTrail, error)
}

// DocumentContentReader streams stored document bytes.
type DocumentContentReader interface {
	Content(ctx context.Context, documentID string, variant domain.ContentVariant) (*domain.Document, io.ReadCloser, error)
}
