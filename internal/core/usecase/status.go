package usecase

import (
	"context"
	"io"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// StatusUseCase serves read models: request progress and stored content.
type StatusUseCase struct {
	store   ports.SigningStore
	audit   ports.AuditReader
	storage ports.ObjectStorage
}

func NewStatusUseCase(store ports.SigningStore, audit ports.AuditReader, storage ports.ObjectStorage) *StatusUseCase {
	return &StatusUseCase{store: store, audit: audit, storage: storage}
}

func (uc *StatusUseCase) Status(ctx context.Context, requestID string) (*domain.RequestProgress, error) {
	req, err := uc.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	doc, err := uc.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	signers, err := uc.store.ListSigners(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	domain.SortSigners(signers)
	timeline, err := uc.audit.ListAuditByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	progress := &domain.RequestProgress{
		Request:        *req,
		DocumentStatus: doc.Status,
		Completed:      domain.CountSigned(signers),
		Total:          req.RequiredSigners,
		Signers:        signers,
		Timeline:       timeline,
		NeedsFinalize:  req.Status == domain.RequestCompleted && doc.Status == domain.DocumentSigned,
	}
	if current, ok := firstPending(req, signers); ok {
		c := *current
		progress.CurrentSigner = &c
	}
	return progress, nil
}

func (uc *StatusUseCase) Content(ctx context.Context, documentID string, variant domain.ContentVariant) (*domain.Document, io.ReadCloser, error) {
	doc, err := uc.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	key := doc.StorageKey
	switch variant {
	case domain.VariantOriginal, "":
	case domain.VariantSigned:
		if doc.Status != domain.DocumentCompleted || doc.SignedStorageKey == "" {
			return nil, nil, domain.NewError(domain.ErrConflict, "open document", "document %s has no signed rendition yet (%s)", doc.ID, doc.Status)
		}
		key = doc.SignedStorageKey
	default:
		return nil, nil, domain.NewError(domain.ErrValidation, "open document", "unknown variant %q", variant)
	}
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, nil, storageError("open document", err)
	}
	return doc, rc, nil
}
