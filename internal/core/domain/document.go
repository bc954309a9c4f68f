package domain

import "time"

type DocumentStatus string

const (
	DocumentUploaded  DocumentStatus = "uploaded"
	DocumentAccepted  DocumentStatus = "accepted"
	DocumentSigned    DocumentStatus = "signed"
	DocumentCompleted DocumentStatus = "completed"
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentUploaded, DocumentAccepted, DocumentSigned, DocumentCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the forward-only document lifecycle.
// uploaded -> accepted happens on the first signature; a single-signer
// request jumps straight from uploaded to signed.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case DocumentUploaded:
		return next == DocumentAccepted || next == DocumentSigned
	case DocumentAccepted:
		return next == DocumentSigned
	case DocumentSigned:
		return next == DocumentCompleted
	case DocumentCompleted:
		return false
	default:
		return false
	}
}

// InProgress reports whether a duplicate of this document may be force-uploaded.
func (s DocumentStatus) InProgress() bool {
	return s == DocumentUploaded || s == DocumentAccepted || s == DocumentSigned
}

type Document struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"owner_id"`
	Filename         string           `json:"filename"`
	MimeType         string           `json:"mime_type"`
	StorageKey       string           `json:"storage_key"`
	SignedStorageKey string           `json:"signed_storage_key,omitempty"`
	OriginalHash     string           `json:"original_hash"`
	SignedHash       string           `json:"signed_hash,omitempty"`
	Status           DocumentStatus   `json:"status"`
	Metadata         DocumentMetadata `json:"metadata"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DocumentMetadata is the closed set of descriptive fields a document carries.
type DocumentMetadata struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	PageCount   int               `json:"page_count,omitempty"`
	SizeBytes   int64             `json:"size_bytes"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// HashChainIntact reports whether a finalized document's hashes form a valid chain.
func (d *Document) HashChainIntact() bool {
	if d.Status != DocumentCompleted {
		return d.SignedHash == ""
	}
	return d.SignedHash != "" && d.SignedHash != d.OriginalHash
}
