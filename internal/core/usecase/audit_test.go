package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/signflow/internal/core/domain"
)

func TestAuditTrailRecordsEveryTransition(t *testing.T) {
	h := newHarness()
	agg := h.upload(t, "owner", "doc-audit", "S1", "S2")
	h.mustSign(t, agg.Request.ID, "S1")
	h.mustSign(t, agg.Request.ID, "S2")

	trail := mustTrail(t, h, agg.Request.ID)
	if !trail.ChainValid {
		t.Fatalf("expected intact chain, broken at %s", trail.BrokenAt)
	}
	want := []domain.AuditAction{
		domain.AuditRequestCreated,
		domain.AuditSignatureRecorded,
		domain.AuditQueueAdvanced,
		domain.AuditSignatureRecorded,
		domain.AuditRequestCompleted,
		domain.AuditFinalizeAttempted,
		domain.AuditFinalizeSucceeded,
	}
	if len(trail.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(trail.Entries))
	}
	for i, action := range want {
		e := trail.Entries[i]
		if e.Action != action {
			t.Fatalf("entry %d: expected %s, got %s", i, action, e.Action)
		}
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d: expected seq %d, got %d", i, i+1, e.Seq)
		}
	}
	first := trail.Entries[1]
	if first.Details.FromStatus != string(domain.SignerPending) || first.Details.ToStatus != string(domain.SignerSigned) {
		t.Fatalf("expected signer status transition in details, got %+v", first.Details)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	h := newHarness()
	agg := h.upload(t, "owner", "doc-tamper-audit", "S1", "S2")
	h.mustSign(t, agg.Request.ID, "S1")

	h.store.tamperAudit(1, func(e *domain.AuditEntry) { e.ActorID = "mallory" })
	trail := mustTrail(t, h, agg.Request.ID)
	if trail.ChainValid {
		t.Fatalf("expected tampering to break the chain")
	}
	if trail.BrokenAt != trail.Entries[1].ID {
		t.Fatalf("expected break at entry 1, got %s", trail.BrokenAt)
	}
}

func TestVerifyChainDetectsRemovedEntry(t *testing.T) {
	h := newHarness()
	agg := h.upload(t, "owner", "doc-gap-audit", "S1", "S2")
	h.mustSign(t, agg.Request.ID, "S1")

	trail := mustTrail(t, h, agg.Request.ID)
	entries := append([]domain.AuditEntry{trail.Entries[0]}, trail.Entries[2:]...)
	broken, err := VerifyChain(entries)
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if broken != trail.Entries[2].ID {
		t.Fatalf("expected break at the entry after the gap, got %q", broken)
	}
}

func TestAuditEntryValidation(t *testing.T) {
	h := newHarness()
	err := h.audit.RecordStandalone(context.Background(), &domain.AuditEntry{
		DocumentID: "d",
		Action:     domain.AuditQueueAdvanced,
	})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing indexes, got %v", err)
	}
}

func TestSealEntryIsStable(t *testing.T) {
	e := &domain.AuditEntry{
		ID:         "e1",
		DocumentID: "d1",
		RequestID:  "r1",
		ActorID:    "a",
		Action:     domain.AuditRequestCreated,
		Seq:        1,
		CreatedAt:  defaultNow(),
		Details:    domain.AuditDetails{SignerCount: 2, SigningType: "sequential"},
	}
	a, err := SealEntry("request:r1", e)
	if err != nil {
		t.Fatalf("SealEntry() error = %v", err)
	}
	b, _ := SealEntry("request:r1", e)
	if a != b {
		t.Fatalf("expected deterministic seal")
	}
	if c, _ := SealEntry("request:r2", e); c == a {
		t.Fatalf("expected chain key to be bound into the seal")
	}
}
