package domain

import "time"

type DuplicateVerdict string

const (
	NoDuplicate          DuplicateVerdict = "no_duplicate"
	DuplicateBlocking    DuplicateVerdict = "duplicate_blocking"
	DuplicateConfirmable DuplicateVerdict = "duplicate_confirmable"
)

type DuplicateCheck struct {
	Verdict             DuplicateVerdict `json:"verdict"`
	Hash                string           `json:"hash"`
	ConflictingDocument string           `json:"conflicting_document_id,omitempty"`
	ConflictingStatus   DocumentStatus   `json:"conflicting_status,omitempty"`
	SameOwner           bool             `json:"same_owner"`
}

func (c DuplicateCheck) IsDuplicate() bool { return c.Verdict != NoDuplicate }

type HashMatch string

const (
	MatchNone     HashMatch = "none"
	MatchOriginal HashMatch = "original"
	MatchSigned   HashMatch = "signed"
)

// ClaimedSignature is what a verifier believes was signed and by whom.
type ClaimedSignature struct {
	SignerID string `json:"signer_id"`
	Order    *int   `json:"order,omitempty"`
}

type SignerVerification struct {
	SignerID         string             `json:"signer_id"`
	Order            int                `json:"order"`
	Status           SignerStatus       `json:"status"`
	SignedAt         *time.Time         `json:"signed_at,omitempty"`
	Algorithm        SignatureAlgorithm `json:"algorithm,omitempty"`
	KeyID            string             `json:"key_id,omitempty"`
	SignaturePresent bool               `json:"signature_present"`
	SignatureDigest  string             `json:"signature_digest,omitempty"`
	CryptoVerified   *bool              `json:"crypto_verified,omitempty"`
	Problem          string             `json:"problem,omitempty"`
}

type VerificationResult struct {
	Valid          bool                 `json:"valid"`
	Hash           string               `json:"hash"`
	MatchedOn      HashMatch            `json:"matched_on"`
	DocumentID     string               `json:"document_id,omitempty"`
	RequestID      string               `json:"request_id,omitempty"`
	DocumentStatus DocumentStatus       `json:"document_status,omitempty"`
	RequestStatus  RequestStatus        `json:"request_status,omitempty"`
	OriginalHash   string               `json:"original_hash,omitempty"`
	SignedHash     string               `json:"signed_hash,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	Signers        []SignerVerification `json:"signers"`
	Reasons        []string             `json:"reasons,omitempty"`
	VerifiedAt     time.Time            `json:"verified_at"`
}

// RequestProgress is the status(requestId) read model.
type RequestProgress struct {
	Request        SigningRequest `json:"request"`
	DocumentStatus DocumentStatus `json:"document_status"`
	Completed      int            `json:"completed"`
	Total          int            `json:"total"`
	CurrentSigner  *Signer        `json:"current_signer,omitempty"`
	Signers        []Signer       `json:"signers"`
	Timeline       []AuditEntry   `json:"timeline"`
	NeedsFinalize  bool           `json:"needs_finalize"`
}
