package usecase

import (
	"context"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// DuplicateDetector classifies a content hash against documents already known
// by their original or signed hash.
type DuplicateDetector struct {
	store  ports.SigningStore
	hasher ports.Hasher
}

func NewDuplicateDetector(store ports.SigningStore, hasher ports.Hasher) *DuplicateDetector {
	return &DuplicateDetector{store: store, hasher: hasher}
}

func (d *DuplicateDetector) Check(ctx context.Context, hash, ownerID string) (domain.DuplicateCheck, error) {
	normalized, err := d.hasher.Normalize(hash)
	if err != nil {
		return domain.DuplicateCheck{}, domain.WrapError(domain.ErrValidation, "check duplicate", err)
	}
	docs, err := d.store.FindDocumentsByHash(ctx, normalized)
	if err != nil {
		return domain.DuplicateCheck{}, storageError("find documents by hash", err)
	}
	return classifyDuplicate(normalized, ownerID, docs), nil
}

// classifyDuplicate picks the most severe match: any document no longer in
// progress blocks; otherwise a same-owner in-progress match is preferred.
func classifyDuplicate(hash, ownerID string, docs []domain.Document) domain.DuplicateCheck {
	check := domain.DuplicateCheck{Verdict: domain.NoDuplicate, Hash: hash}
	var pick *domain.Document
	for i := range docs {
		doc := &docs[i]
		if !doc.Status.InProgress() {
			pick = doc
			check.Verdict = domain.DuplicateBlocking
			break
		}
		if pick == nil || (pick.OwnerID != ownerID && doc.OwnerID == ownerID) {
			pick = doc
			check.Verdict = domain.DuplicateConfirmable
		}
	}
	if pick == nil {
		return check
	}
	check.ConflictingDocument = pick.ID
	check.ConflictingStatus = pick.Status
	check.SameOwner = ownerID != "" && pick.OwnerID == ownerID
	return check
}
