package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/signflow/internal/core/domain"
)

func TestVerifyCompletedDocument(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	agg := h.upload(t, "owner", "doc-verify", "S1", "S2")
	h.mustSign(t, agg.Request.ID, "S1")
	res := h.mustSign(t, agg.Request.ID, "S2")
	rendered := h.storage.objects[res.Document.SignedStorageKey]

	bySigned, err := h.verify.Verify(ctx, domain.VerifyInput{Content: rendered, ActorID: "auditor"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !bySigned.Valid || bySigned.MatchedOn != domain.MatchSigned {
		t.Fatalf("expected valid signed match, got %+v", bySigned)
	}
	if len(bySigned.Signers) != 2 || bySigned.Signers[0].SignerID != "S1" || bySigned.Signers[1].SignerID != "S2" {
		t.Fatalf("expected ordered signer detail, got %+v", bySigned.Signers)
	}
	for _, s := range bySigned.Signers {
		if !s.SignaturePresent || s.SignatureDigest == "" {
			t.Fatalf("expected signature digest, got %+v", s)
		}
	}

	byOriginal, err := h.verify.Verify(ctx, domain.VerifyInput{Hash: agg.Document.OriginalHash})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !byOriginal.Valid || byOriginal.MatchedOn != domain.MatchOriginal {
		t.Fatalf("expected valid original match, got %+v", byOriginal)
	}

	entries, _ := h.store.ListAuditByRequest(ctx, agg.Request.ID)
	var attempts int
	for _, e := range entries {
		if e.Action == domain.AuditVerificationAttempted {
			attempts++
		}
	}
	if attempts != 2 {
		t.Fatalf("expected two verification_attempted entries, got %d", attempts)
	}
	if trail := mustTrail(t, h, agg.Request.ID); !trail.ChainValid {
		t.Fatalf("verification audit must keep the chain intact, broken at %s", trail.BrokenAt)
	}
}

func TestVerifyPendingDocumentIsInvalid(t *testing.T) {
	h := newHarness()
	agg := h.upload(t, "owner", "doc-half", "S1", "S2")
	h.mustSign(t, agg.Request.ID, "S1")

	res, err := h.verify.Verify(context.Background(), domain.VerifyInput{Content: []byte("doc-half")})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Valid {
		t.Fatalf("pending request must not verify")
	}
	if res.Signers[1].Problem == "" || res.Signers[0].Problem != "" {
		t.Fatalf("expected only the second signer to be flagged, got %+v", res.Signers)
	}
	before, _ := h.store.GetRequest(context.Background(), agg.Request.ID)
	if before.Status != domain.RequestPending || before.CurrentSignerIndex != 1 {
		t.Fatalf("verification must not change state, got %+v", before)
	}
}

func TestVerifyClaimedSigners(t *testing.T) {
	h := newHarness()
	agg := h.upload(t, "owner", "doc-claims", "S1", "S2")
	h.mustSign(t, agg.Request.ID, "S1")
	h.mustSign(t, agg.Request.ID, "S2")
	ctx := context.Background()

	ok, err := h.verify.Verify(ctx, domain.VerifyInput{
		Hash:    agg.Document.OriginalHash,
		Claimed: []domain.ClaimedSignature{{SignerID: "s2", Order: domain.IntPtr(1)}, {SignerID: "S1"}},
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok.Valid {
		t.Fatalf("expected claimed set to match, got %v", ok.Reasons)
	}

	bad, err := h.verify.Verify(ctx, domain.VerifyInput{
		Hash:    agg.Document.OriginalHash,
		Claimed: []domain.ClaimedSignature{{SignerID: "S1", Order: domain.IntPtr(1)}, {SignerID: "S3"}},
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if bad.Valid || len(bad.Reasons) != 3 {
		t.Fatalf("expected wrong order, unknown signer and missing signer, got %v", bad.Reasons)
	}
}

func TestVerifyUnknownHash(t *testing.T) {
	h := newHarness()
	res, err := h.verify.Verify(context.Background(), domain.VerifyInput{Content: []byte("never uploaded")})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Valid || res.MatchedOn != domain.MatchNone {
		t.Fatalf("expected no match, got %+v", res)
	}
	if h.metrics.verified[false] != 1 {
		t.Fatalf("expected invalid verification metric")
	}
}

func TestVerifyRequiresInput(t *testing.T) {
	h := newHarness()
	if _, err := h.verify.Verify(context.Background(), domain.VerifyInput{}); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.verify.Verify(context.Background(), domain.VerifyInput{Hash: "zz"}); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for malformed hash, got %v", err)
	}
}

func TestVerifyAuditDoesNotLockRequest(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	agg := h.upload(t, "owner", "doc-verify-nolock", "S1")
	h.mustSign(t, agg.Request.ID, "S1")

	var calls []string
	h.store.fail = func(method string) error {
		calls = append(calls, method)
		return nil
	}
	for i := 0; i < 2; i++ {
		if _, err := h.verify.Verify(ctx, domain.VerifyInput{Hash: agg.Document.OriginalHash}); err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
	}
	h.store.fail = nil

	var appends int
	for _, method := range calls {
		if method == "LockRequest" {
			t.Fatalf("verification must not lock the request row, calls = %v", calls)
		}
		if method == "AppendAudit" {
			appends++
		}
	}
	if appends != 2 {
		t.Fatalf("expected two audit appends, got %d (%v)", appends, calls)
	}

	entries, _ := h.store.ListAuditByRequest(ctx, agg.Request.ID)
	var seqs []int64
	for i := range entries {
		if entries[i].Action == domain.AuditVerificationAttempted {
			if key := ChainKey(&entries[i]); key != "verify:"+agg.Document.ID {
				t.Fatalf("expected verification chain, got %s", key)
			}
			seqs = append(seqs, entries[i].Seq)
		}
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("expected verification chain seq 1,2, got %v", seqs)
	}
	if trail := mustTrail(t, h, agg.Request.ID); !trail.ChainValid {
		t.Fatalf("expected both chains intact, broken at %s", trail.BrokenAt)
	}
}
