package domain

import "time"

// SignerInput is one entry of a caller-supplied signer list. Order is
// optional; entries without it keep their list position.
type SignerInput struct {
	SignerID string `json:"signer_id"`
	Order    *int   `json:"order,omitempty"`
}

type CreateRequestInput struct {
	InitiatorID string
	SigningType SigningType
	Document    *Document
	Signers     []SignerInput
}

type SubmitDocumentInput struct {
	OwnerID     string
	Filename    string
	MimeType    string
	Content     []byte
	Metadata    DocumentMetadata
	SigningType SigningType
	Signers     []SignerInput
	Force       bool
}

// SubmitDocumentResult carries either the created aggregate or, for an
// unconfirmed in-progress duplicate, only the duplicate verdict.
type SubmitDocumentResult struct {
	Aggregate *SigningAggregate `json:"aggregate,omitempty"`
	Duplicate DuplicateCheck    `json:"duplicate"`
}

type SubmitSignatureInput struct {
	RequestID string
	SignerID  string
	Signature []byte
	Metadata  SignatureMetadata
}

type SubmitSignatureResult struct {
	Request       SigningRequest `json:"request"`
	Signer        Signer         `json:"signer"`
	NextSigner    *Signer        `json:"next_signer,omitempty"`
	Completed     bool           `json:"completed"`
	Finalized     bool           `json:"finalized"`
	FinalizeError string         `json:"finalize_error,omitempty"`
	Document      *Document      `json:"document,omitempty"`
}

type VerifyInput struct {
	Content []byte
	Hash    string
	Claimed []ClaimedSignature
	ActorID string
}

type ContentVariant string

const (
	VariantOriginal ContentVariant = "original"
	VariantSigned   ContentVariant = "signed"
)

type AuditTrail struct {
	RequestID  string       `json:"request_id"`
	Entries    []AuditEntry `json:"entries"`
	ChainValid bool         `json:"chain_valid"`
	BrokenAt   string       `json:"broken_at,omitempty"`
}

type EventType string

const (
	EventSignerTurn        EventType = "signer_turn"
	EventRequestCompleted  EventType = "request_completed"
	EventFinalizeRequested EventType = "finalize_requested"
)

// SigningEvent is the fire-and-forget notification payload.
type SigningEvent struct {
	Type       EventType `json:"type"`
	RequestID  string    `json:"request_id"`
	DocumentID string    `json:"document_id"`
	SignerID   string    `json:"signer_id,omitempty"`
	Order      int       `json:"order,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
