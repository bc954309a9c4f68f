package usecase

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// SubmitDocumentUseCase is the upload path: fingerprint, duplicate defense,
// storage, then registry creation.
type SubmitDocumentUseCase struct {
	registry   ports.SigningRequestRegistry
	duplicates ports.DuplicateChecker
	storage    ports.ObjectStorage
	hasher     ports.Hasher
	inspector  ports.DocumentInspector
}

func NewSubmitDocumentUseCase(
	registry ports.SigningRequestRegistry,
	duplicates ports.DuplicateChecker,
	storage ports.ObjectStorage,
	hasher ports.Hasher,
	inspector ports.DocumentInspector,
) *SubmitDocumentUseCase {
	return &SubmitDocumentUseCase{
		registry:   registry,
		duplicates: duplicates,
		storage:    storage,
		hasher:     hasher,
		inspector:  inspector,
	}
}

func (uc *SubmitDocumentUseCase) Submit(ctx context.Context, in domain.SubmitDocumentInput) (*domain.SubmitDocumentResult, error) {
	ctx, span := tracer.Start(ctx, "documents.submit")
	var err error
	defer func() { endSpan(span, err) }()

	const op = "submit document"
	if strings.TrimSpace(in.OwnerID) == "" {
		err = domain.NewError(domain.ErrValidation, op, "owner id is required")
		return nil, err
	}
	if len(in.Content) == 0 {
		err = domain.NewError(domain.ErrValidation, op, "document is empty")
		return nil, err
	}
	if _, err = OrderSigners(in.Signers); err != nil {
		return nil, err
	}

	hash := uc.hasher.Sum(in.Content)
	var check domain.DuplicateCheck
	check, err = uc.duplicates.Check(ctx, hash, in.OwnerID)
	if err != nil {
		return nil, err
	}
	switch check.Verdict {
	case domain.DuplicateBlocking:
		err = &domain.DuplicateError{
			Hash:                hash,
			ConflictingDocument: check.ConflictingDocument,
			ConflictingStatus:   check.ConflictingStatus,
		}
		return nil, err
	case domain.DuplicateConfirmable:
		if !in.Force {
			return &domain.SubmitDocumentResult{Duplicate: check}, nil
		}
	}

	meta, err := uc.describe(ctx, in)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("original/%s/%s", id, sanitizeFilename(in.Filename))
	if err = uc.storage.Save(ctx, storageKey, bytes.NewReader(in.Content)); err != nil {
		err = storageError("save to object storage", err)
		return nil, err
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	var agg *domain.SigningAggregate
	agg, err = uc.registry.Create(ctx, domain.CreateRequestInput{
		InitiatorID: in.OwnerID,
		SigningType: in.SigningType,
		Signers:     in.Signers,
		Document: &domain.Document{
			ID:           id,
			OwnerID:      in.OwnerID,
			Filename:     in.Filename,
			MimeType:     mimeType,
			StorageKey:   storageKey,
			OriginalHash: hash,
			Metadata:     meta,
		},
	})
	if err != nil {
		return nil, err
	}
	return &domain.SubmitDocumentResult{Aggregate: agg, Duplicate: check}, nil
}

func (uc *SubmitDocumentUseCase) describe(ctx context.Context, in domain.SubmitDocumentInput) (domain.DocumentMetadata, error) {
	meta := in.Metadata
	meta.SizeBytes = int64(len(in.Content))
	if uc.inspector == nil {
		return meta, nil
	}
	inspected, err := uc.inspector.Inspect(ctx, in.MimeType, in.Content)
	if err != nil {
		return domain.DocumentMetadata{}, fmt.Errorf("inspect document: %w", err)
	}
	if inspected.PageCount > 0 {
		meta.PageCount = inspected.PageCount
	}
	if meta.Title == "" {
		meta.Title = inspected.Title
	}
	return meta, nil
}
