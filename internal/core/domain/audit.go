package domain

import "time"

type AuditAction string

const (
	AuditRequestCreated        AuditAction = "request_created"
	AuditSignatureRecorded     AuditAction = "signature_recorded"
	AuditSignatureRejected     AuditAction = "signature_rejected"
	AuditQueueAdvanced         AuditAction = "queue_advanced"
	AuditRequestCompleted      AuditAction = "request_completed"
	AuditRequestRejected       AuditAction = "request_rejected"
	AuditFinalizeAttempted     AuditAction = "finalize_attempted"
	AuditFinalizeSucceeded     AuditAction = "finalize_succeeded"
	AuditFinalizeFailed        AuditAction = "finalize_failed"
	AuditVerificationAttempted AuditAction = "verification_attempted"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditRequestCreated,
		AuditSignatureRecorded,
		AuditSignatureRejected,
		AuditQueueAdvanced,
		AuditRequestCompleted,
		AuditRequestRejected,
		AuditFinalizeAttempted,
		AuditFinalizeSucceeded,
		AuditFinalizeFailed,
		AuditVerificationAttempted:
		return true
	default:
		return false
	}
}

// AuditDetails is the typed payload of an audit entry. Which fields are
// populated depends on the action; see Validate.
type AuditDetails struct {
	SignerID     string `json:"signer_id,omitempty"`
	SignerOrder  *int   `json:"signer_order,omitempty"`
	FromStatus   string `json:"from_status,omitempty"`
	ToStatus     string `json:"to_status,omitempty"`
	FromIndex    *int   `json:"from_index,omitempty"`
	ToIndex      *int   `json:"to_index,omitempty"`
	SignerCount  int    `json:"signer_count,omitempty"`
	SigningType  string `json:"signing_type,omitempty"`
	OriginalHash string `json:"original_hash,omitempty"`
	SignedHash   string `json:"signed_hash,omitempty"`
	Verdict      string `json:"verdict,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

type AuditEntry struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	RequestID  string       `json:"request_id,omitempty"`
	ActorID    string       `json:"actor_id"`
	Action     AuditAction  `json:"action"`
	Details    AuditDetails `json:"details"`
	CreatedAt  time.Time    `json:"created_at"`
	Seq        int64        `json:"seq"`
	PrevHash   string       `json:"prev_hash"`
	EntryHash  string       `json:"entry_hash"`
}

// Validate checks that an entry carries the details its action requires.
func (e *AuditEntry) Validate() error {
	if !e.Action.Valid() {
		return NewError(ErrValidation, "audit entry", "unknown action %q", e.Action)
	}
	if e.DocumentID == "" && e.Action != AuditVerificationAttempted {
		return NewError(ErrValidation, "audit entry", "document id is required for %s", e.Action)
	}
	d := e.Details
	switch e.Action {
	case AuditSignatureRecorded, AuditSignatureRejected:
		if d.SignerID == "" {
			return NewError(ErrValidation, "audit entry", "%s requires signer_id", e.Action)
		}
	case AuditQueueAdvanced:
		if d.FromIndex == nil || d.ToIndex == nil {
			return NewError(ErrValidation, "audit entry", "%s requires from/to index", e.Action)
		}
	case AuditFinalizeSucceeded:
		if d.SignedHash == "" {
			return NewError(ErrValidation, "audit entry", "%s requires signed_hash", e.Action)
		}
	case AuditFinalizeFailed:
		if d.Error == "" {
			return NewError(ErrValidation, "audit entry", "%s requires error", e.Action)
		}
	case AuditVerificationAttempted:
		if d.Verdict == "" {
			return NewError(ErrValidation, "audit entry", "%s requires verdict", e.Action)
		}
	}
	return nil
}

// IntPtr is a small helper for optional integer details.
func IntPtr(v int) *int { return &v }
