package domain

import (
	"sort"
	"time"
)

type SigningType string

const (
	SigningSequential SigningType = "sequential"
	SigningParallel   SigningType = "parallel"
)

func (t SigningType) Valid() bool {
	return t == SigningSequential || t == SigningParallel
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestCompleted RequestStatus = "completed"
	RequestRejected  RequestStatus = "rejected"
)

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestCompleted || next == RequestRejected
	case RequestCompleted, RequestRejected:
		return false
	default:
		return false
	}
}

type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerSigned   SignerStatus = "signed"
	SignerRejected SignerStatus = "rejected"
)

func (s SignerStatus) CanTransitionTo(next SignerStatus) bool {
	switch s {
	case SignerPending:
		return next == SignerSigned || next == SignerRejected
	case SignerSigned, SignerRejected:
		return false
	default:
		return false
	}
}

type SignatureAlgorithm string

const (
	AlgorithmEd25519      SignatureAlgorithm = "ed25519"
	AlgorithmECDSAP256    SignatureAlgorithm = "ecdsa-p256-sha256"
	AlgorithmRSAPSSSHA256 SignatureAlgorithm = "rsa-pss-sha256"
	AlgorithmDrawn        SignatureAlgorithm = "drawn"
)

func (a SignatureAlgorithm) Valid() bool {
	switch a {
	case AlgorithmEd25519, AlgorithmECDSAP256, AlgorithmRSAPSSSHA256, AlgorithmDrawn:
		return true
	default:
		return false
	}
}

// SignatureMetadata describes how a signature blob was produced.
type SignatureMetadata struct {
	Algorithm      SignatureAlgorithm `json:"algorithm"`
	HashReferenced string             `json:"hash_referenced"`
	KeyID          string             `json:"key_id,omitempty"`
	PublicKey      string             `json:"public_key,omitempty"`
}

type SigningRequest struct {
	ID                 string        `json:"id"`
	DocumentID         string        `json:"document_id"`
	InitiatorID        string        `json:"initiator_id"`
	SigningType        SigningType   `json:"signing_type"`
	Status             RequestStatus `json:"status"`
	CurrentSignerIndex int           `json:"current_signer_index"`
	RequiredSigners    int           `json:"required_signers"`
	CurrentSigners     int           `json:"current_signers"`
	CreatedAt          time.Time     `json:"created_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

type Signer struct {
	ID        string            `json:"id"`
	RequestID string            `json:"request_id"`
	SignerID  string            `json:"signer_id"`
	Order     int               `json:"order"`
	Status    SignerStatus      `json:"status"`
	Signature []byte            `json:"-"`
	SignedAt  *time.Time        `json:"signed_at,omitempty"`
	Metadata  SignatureMetadata `json:"metadata"`
}

// SigningAggregate is the unit the registry persists atomically.
type SigningAggregate struct {
	Document *Document       `json:"document"`
	Request  *SigningRequest `json:"request"`
	Signers  []Signer        `json:"signers"`
}

// EmbeddedSignature is what the evidence renderer receives per signer.
type EmbeddedSignature struct {
	SignerID  string            `json:"signer_id"`
	Order     int               `json:"order"`
	Signature []byte            `json:"signature"`
	SignedAt  time.Time         `json:"signed_at"`
	Metadata  SignatureMetadata `json:"metadata"`
}

// SortSigners orders signers by queue position.
func SortSigners(signers []Signer) {
	sort.SliceStable(signers, func(i, j int) bool {
		return signers[i].Order < signers[j].Order
	})
}

// CountSigned returns how many signers have signed.
func CountSigned(signers []Signer) int {
	n := 0
	for _, s := range signers {
		if s.Status == SignerSigned {
			n++
		}
	}
	return n
}

// AllSigned reports whether every signer in a non-empty set has signed.
func AllSigned(signers []Signer) bool {
	return len(signers) > 0 && CountSigned(signers) == len(signers)
}

// SignerAtOrder returns the signer occupying the given slot.
func SignerAtOrder(signers []Signer, order int) (*Signer, bool) {
	for i := range signers {
		if signers[i].Order == order {
			return &signers[i], true
		}
	}
	return nil, false
}

// CheckQueueInvariants validates the ordering invariants of a request and
// its signer set. It returns nil when the pair is consistent.
func CheckQueueInvariants(req *SigningRequest, signers []Signer) error {
	sorted := append([]Signer(nil), signers...)
	SortSigners(sorted)
	if len(sorted) != req.RequiredSigners {
		return NewError(ErrConflict, "check queue", "request %s has %d signers, requires %d", req.ID, len(sorted), req.RequiredSigners)
	}
	for i, s := range sorted {
		if s.Order != i {
			return NewError(ErrConflict, "check queue", "request %s has an ordering gap at %d", req.ID, i)
		}
	}
	if req.CurrentSigners != CountSigned(sorted) {
		return NewError(ErrConflict, "check queue", "request %s counts %d signed, found %d", req.ID, req.CurrentSigners, CountSigned(sorted))
	}
	if (req.Status == RequestCompleted) != AllSigned(sorted) {
		return NewError(ErrConflict, "check queue", "request %s status %s disagrees with signer set", req.ID, req.Status)
	}
	if req.Status != RequestPending || req.SigningType != SigningSequential {
		return nil
	}
	for _, s := range sorted {
		switch {
		case s.Order < req.CurrentSignerIndex && s.Status != SignerSigned:
			return NewError(ErrConflict, "check queue", "request %s signer %d precedes the queue head but is %s", req.ID, s.Order, s.Status)
		case s.Order == req.CurrentSignerIndex && s.Status != SignerPending:
			return NewError(ErrConflict, "check queue", "request %s queue head %d is %s", req.ID, s.Order, s.Status)
		case s.Order > req.CurrentSignerIndex && s.Status == SignerSigned:
			return NewError(ErrConflict, "check queue", "request %s signer %d signed out of order", req.ID, s.Order)
		}
	}
	return nil
}

// QueuePosition is the compare-and-swap key of a pending request.
type QueuePosition struct {
	Index  int
	Signed int
}

func (r *SigningRequest) Position() QueuePosition {
	return QueuePosition{Index: r.CurrentSignerIndex, Signed: r.CurrentSigners}
}
