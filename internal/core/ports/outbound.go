package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
)

// SigningStore is the single authoritative transactional store.
type SigningStore interface {
	// InTx runs fn inside one transaction. Serialization failures are
	// retried by re-running fn, so fn must not keep side effects outside tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx SigningTx) error) error

	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	GetRequest(ctx context.Context, id string) (*domain.SigningRequest, error)
	GetRequestByDocument(ctx context.Context, documentID string) (*domain.SigningRequest, error)
	ListSigners(ctx context.Context, requestID string) ([]domain.Signer, error)
	FindDocumentsByHash(ctx context.Context, hash string) ([]domain.Document, error)
	// ListAwaitingFinalize returns completed requests whose document is still signed.
	ListAwaitingFinalize(ctx context.Context, limit int) ([]domain.SigningRequest, error)
}

// SigningTx is the transactional view of the store. Every conditional
// update returns a domain.ErrConflict error when it affects zero rows.
type SigningTx interface {
	// InsertAggregate writes a document, its request and every signer row.
	InsertAggregate(ctx context.Context, agg *domain.SigningAggregate) error
	LockRequest(ctx context.Context, id string) (*domain.SigningRequest, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListSigners(ctx context.Context, requestID string) ([]domain.Signer, error)

	MarkSignerSigned(ctx context.Context, signer *domain.Signer) error
	MarkSignerRejected(ctx context.Context, signerRowID string) error
	// AdvanceRequest moves a pending request from one queue position to the next.
	AdvanceRequest(ctx context.Context, requestID string, from, to domain.QueuePosition) error
	CompleteRequest(ctx context.Context, requestID string, from domain.QueuePosition, signed int, at time.Time) error
	RejectRequest(ctx context.Context, requestID string, at time.Time) error
	UpdateDocumentStatus(ctx context.Context, documentID string, from, to domain.DocumentStatus, at time.Time) error
	CompleteDocument(ctx context.Context, documentID, signedHash, signedKey string, at time.Time) error

	// LastAuditEntry returns the newest entry of a chain, or nil for an empty chain.
	LastAuditEntry(ctx context.Context, chainKey string) (*domain.AuditEntry, error)
	AppendAudit(ctx context.Context, chainKey string, entry *domain.AuditEntry) error
}

// AuditReader lists the append-only audit ledger.
type AuditReader interface {
	ListAuditByRequest(ctx context.Context, requestID string) ([]domain.AuditEntry, error)
	ListAuditByDocument(ctx context.Context, documentID string) ([]domain.AuditEntry, error)
}

// ObjectStorage stores original and rendered document bytes.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// EvidenceRenderer embeds ordered signatures into a document and returns new bytes.
type EvidenceRenderer interface {
	Embed(ctx context.Context, doc *domain.Document, original []byte, signatures []domain.EmbeddedSignature) ([]byte, error)
}

// Hasher fingerprints document bytes as "<algorithm>:<hex>".
type Hasher interface {
	Algorithm() string
	Sum(data []byte) string
	// Normalize canonicalizes a caller-supplied hash string.
	Normalize(hash string) (string, error)
}

// Notifier delivers fire-and-forget workflow events.
type Notifier interface {
	Publish(ctx context.Context, event domain.SigningEvent) error
}

// EventSubscriber consumes finalize requests in the worker.
type EventSubscriber interface {
	SubscribeFinalizeRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// DocumentInspector derives descriptive metadata from uploaded bytes.
type DocumentInspector interface {
	Inspect(ctx context.Context, mimeType string, content []byte) (domain.DocumentMetadata, error)
}

// SigningMetrics records domain counters.
type SigningMetrics interface {
	SignatureSubmitted(result string)
	RequestCompleted()
	Finalized(status string)
	Verified(valid bool)
}

// IdempotentResponse is a cached response for a replayed Idempotency-Key.
type IdempotentResponse struct {
	RequestHash string `json:"request_hash"`
	StatusCode  int    `json:"status_code"`
	Body        []byte `json:"body"`
}

// IdempotencyStore remembers responses to mutating calls by key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*IdempotentResponse, bool, error)
	Remember(ctx context.Context, key string, resp IdempotentResponse, ttl time.Duration) error
}
