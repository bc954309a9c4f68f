package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

const standaloneAuditAttempts = 3

// AuditTrail appends entries to per-request hash chains and reads them back.
type AuditTrail struct {
	store  ports.SigningStore
	reader ports.AuditReader
	now    func() time.Time
}

func NewAuditTrail(store ports.SigningStore, reader ports.AuditReader) *AuditTrail {
	return &AuditTrail{
		store:  store,
		reader: reader,
		now:    defaultNow,
	}
}

// ChainKey names the chain an entry belongs to. Verification attempts get a
// chain per document so recording them never touches the request row.
func ChainKey(e *domain.AuditEntry) string {
	if e.Action == domain.AuditVerificationAttempted {
		return "verify:" + e.DocumentID
	}
	if e.RequestID != "" {
		return "request:" + e.RequestID
	}
	return "document:" + e.DocumentID
}

// Record seals entry onto the tail of its chain inside tx.
func (a *AuditTrail) Record(ctx context.Context, tx ports.SigningTx, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	key := ChainKey(entry)
	last, err := tx.LastAuditEntry(ctx, key)
	if err != nil {
		return fmt.Errorf("read audit chain tail: %w", err)
	}
	entry.Seq = 1
	entry.PrevHash = ""
	if last != nil {
		entry.Seq = last.Seq + 1
		entry.PrevHash = last.EntryHash
	}
	hash, err := SealEntry(key, entry)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "seal audit entry", err)
	}
	entry.EntryHash = hash

	if err := tx.AppendAudit(ctx, key, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// RecordStandalone appends entry in its own transaction. Request chains lock
// the request row first so the tail cannot move underneath the append; other
// chains rely on the (chain_key, seq) unique key and retry on conflict.
func (a *AuditTrail) RecordStandalone(ctx context.Context, entry *domain.AuditEntry) error {
	lock := strings.HasPrefix(ChainKey(entry), "request:")
	var err error
	for attempt := 0; attempt < standaloneAuditAttempts; attempt++ {
		err = a.store.InTx(ctx, func(ctx context.Context, tx ports.SigningTx) error {
			if lock {
				if _, err := tx.LockRequest(ctx, entry.RequestID); err != nil {
					return err
				}
			}
			return a.Record(ctx, tx, entry)
		})
		if err == nil || !domain.IsKind(err, domain.ErrConflict) {
			return err
		}
		entry.EntryHash = ""
	}
	return err
}

// Trail lists a request's audit entries and checks their chain.
func (a *AuditTrail) Trail(ctx context.Context, requestID string) (*domain.AuditTrail, error) {
	if _, err := a.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	entries, err := a.reader.ListAuditByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	trail := &domain.AuditTrail{RequestID: requestID, Entries: entries}
	trail.BrokenAt, err = VerifyChain(entries)
	if err != nil {
		return nil, err
	}
	trail.ChainValid = trail.BrokenAt == ""
	return trail, nil
}

// VerifyChain recomputes every chain present in entries and returns the id of
// the first entry that does not link to its predecessor, or "" when all
// chains are intact.
func VerifyChain(entries []domain.AuditEntry) (string, error) {
	chains := make(map[string][]domain.AuditEntry)
	var order []string
	for i := range entries {
		key := ChainKey(&entries[i])
		if _, ok := chains[key]; !ok {
			order = append(order, key)
		}
		chains[key] = append(chains[key], entries[i])
	}
	for _, key := range order {
		broken, err := verifyLinks(key, chains[key])
		if err != nil || broken != "" {
			return broken, err
		}
	}
	return "", nil
}

func verifyLinks(key string, entries []domain.AuditEntry) (string, error) {
	sorted := append([]domain.AuditEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	prev := ""
	for i := range sorted {
		e := &sorted[i]
		if e.Seq != int64(i+1) || e.PrevHash != prev {
			return e.ID, nil
		}
		hash, err := SealEntry(key, e)
		if err != nil {
			return "", domain.WrapError(domain.ErrStorage, "verify audit chain", err)
		}
		if hash != e.EntryHash {
			return e.ID, nil
		}
		prev = e.EntryHash
	}
	return "", nil
}

type sealedEntry struct {
	Chain      string              `json:"chain"`
	Seq        int64               `json:"seq"`
	PrevHash   string              `json:"prev_hash"`
	ID         string              `json:"id"`
	DocumentID string              `json:"document_id"`
	RequestID  string              `json:"request_id"`
	ActorID    string              `json:"actor_id"`
	Action     domain.AuditAction  `json:"action"`
	Details    domain.AuditDetails `json:"details"`
	CreatedAt  string              `json:"created_at"`
}

// SealEntry hashes the RFC 8785 canonical form of an entry and its link.
func SealEntry(chain string, e *domain.AuditEntry) (string, error) {
	if e == nil {
		return "", errors.New("nil audit entry")
	}
	raw, err := json.Marshal(sealedEntry{
		Chain:      chain,
		Seq:        e.Seq,
		PrevHash:   e.PrevHash,
		ID:         e.ID,
		DocumentID: e.DocumentID,
		RequestID:  e.RequestID,
		ActorID:    e.ActorID,
		Action:     e.Action,
		Details:    e.Details,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
