package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

type RegistryUseCase struct {
	store    ports.SigningStore
	audit    *AuditTrail
	notifier ports.Notifier
	now      func() time.Time
}

func NewRegistryUseCase(store ports.SigningStore, audit *AuditTrail, notifier ports.Notifier) *RegistryUseCase {
	return &RegistryUseCase{
		store:    store,
		audit:    audit,
		notifier: notifier,
		now:      defaultNow,
	}
}

// Create persists the document, a pending request and its ordered signer set
// in one transaction.
func (uc *RegistryUseCase) Create(ctx context.Context, in domain.CreateRequestInput) (*domain.SigningAggregate, error) {
	ctx, span := tracer.Start(ctx, "registry.create")
	var err error
	defer func() { endSpan(span, err) }()

	var agg *domain.SigningAggregate
	agg, err = uc.build(in)
	if err != nil {
		return nil, err
	}

	entry := &domain.AuditEntry{
		DocumentID: agg.Document.ID,
		RequestID:  agg.Request.ID,
		ActorID:    in.InitiatorID,
		Action:     domain.AuditRequestCreated,
		CreatedAt:  agg.Request.CreatedAt,
		Details: domain.AuditDetails{
			ToStatus:     string(domain.RequestPending),
			SignerCount:  len(agg.Signers),
			SigningType:  string(agg.Request.SigningType),
			OriginalHash: agg.Document.OriginalHash,
		},
	}
	err = uc.store.InTx(ctx, func(ctx context.Context, tx ports.SigningTx) error {
		if err := tx.InsertAggregate(ctx, agg); err != nil {
			return err
		}
		return uc.audit.Record(ctx, tx, entry)
	})
	if err != nil {
		err = storageError("create signing request", err)
		return nil, err
	}

	if first, ok := firstPending(agg.Request, agg.Signers); ok {
		notify(ctx, uc.notifier, domain.SigningEvent{
			Type:       domain.EventSignerTurn,
			RequestID:  agg.Request.ID,
			DocumentID: agg.Document.ID,
			SignerID:   first.SignerID,
			Order:      first.Order,
			OccurredAt: agg.Request.CreatedAt,
		})
	}
	return agg, nil
}

func (uc *RegistryUseCase) build(in domain.CreateRequestInput) (*domain.SigningAggregate, error) {
	const op = "create signing request"
	if strings.TrimSpace(in.InitiatorID) == "" {
		return nil, domain.NewError(domain.ErrValidation, op, "initiator id is required")
	}
	signingType := in.SigningType
	if signingType == "" {
		signingType = domain.SigningSequential
	}
	if !signingType.Valid() {
		return nil, domain.NewError(domain.ErrValidation, op, "unknown signing type %q", in.SigningType)
	}
	if in.Document == nil {
		return nil, domain.NewError(domain.ErrValidation, op, "document is required")
	}
	if in.Document.OriginalHash == "" {
		return nil, domain.NewError(domain.ErrValidation, op, "document hash is required")
	}
	ordered, err := OrderSigners(in.Signers)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	doc := *in.Document
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.OwnerID == "" {
		doc.OwnerID = in.InitiatorID
	}
	doc.Status = domain.DocumentUploaded
	doc.SignedHash = ""
	doc.SignedStorageKey = ""
	doc.CreatedAt = now
	doc.UpdatedAt = now

	req := &domain.SigningRequest{
		ID:                 uuid.NewString(),
		DocumentID:         doc.ID,
		InitiatorID:        in.InitiatorID,
		SigningType:        signingType,
		Status:             domain.RequestPending,
		CurrentSignerIndex: 0,
		RequiredSigners:    len(ordered),
		CurrentSigners:     0,
		CreatedAt:          now,
	}

	signers := make([]domain.Signer, 0, len(ordered))
	for i, id := range ordered {
		signers = append(signers, domain.Signer{
			ID:        uuid.NewString(),
			RequestID: req.ID,
			SignerID:  id,
			Order:     i,
			Status:    domain.SignerPending,
		})
	}
	return &domain.SigningAggregate{Document: &doc, Request: req, Signers: signers}, nil
}

// OrderSigners validates a signer list and returns the ids in queue order.
// Explicit orders sort first by value, entries without one keep their list
// position; the result is renumbered 0..n-1 by the caller.
func OrderSigners(in []domain.SignerInput) ([]string, error) {
	const op = "order signers"
	if len(in) == 0 {
		return nil, domain.NewError(domain.ErrValidation, op, "at least one signer is required")
	}

	type slot struct {
		id    string
		order int
		pos   int
	}
	slots := make([]slot, 0, len(in))
	seenIDs := make(map[string]int, len(in))
	seenOrders := make(map[int]string, len(in))
	for i, s := range in {
		id := strings.TrimSpace(s.SignerID)
		if id == "" {
			return nil, domain.NewError(domain.ErrValidation, op, "signer %d has an empty id", i)
		}
		key := NormalizeSignerID(id)
		if prev, dup := seenIDs[key]; dup {
			return nil, domain.NewError(domain.ErrValidation, op, "signer %q is listed twice (positions %d and %d)", id, prev, i)
		}
		seenIDs[key] = i

		order := i
		if s.Order != nil {
			order = *s.Order
			if order < 0 {
				return nil, domain.NewError(domain.ErrValidation, op, "signer %q has negative order %d", id, order)
			}
			if other, dup := seenOrders[order]; dup {
				return nil, domain.NewError(domain.ErrValidation, op, "signers %q and %q share order %d", other, id, order)
			}
			seenOrders[order] = id
		}
		slots = append(slots, slot{id: id, order: order, pos: i})
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].order != slots[j].order {
			return slots[i].order < slots[j].order
		}
		return slots[i].pos < slots[j].pos
	})
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.id
	}
	return ids, nil
}

// firstPending returns the signer allowed to act next: the queue head for a
// sequential request, the lowest pending order for a parallel one.
func firstPending(req *domain.SigningRequest, signers []domain.Signer) (*domain.Signer, bool) {
	if req.Status != domain.RequestPending {
		return nil, false
	}
	sorted := append([]domain.Signer(nil), signers...)
	domain.SortSigners(sorted)
	if req.SigningType == domain.SigningSequential {
		s, ok := domain.SignerAtOrder(sorted, req.CurrentSignerIndex)
		if !ok || s.Status != domain.SignerPending {
			return nil, false
		}
		return s, true
	}
	for i := range sorted {
		if sorted[i].Status == domain.SignerPending {
			return &sorted[i], true
		}
	}
	return nil, false
}
