package sqlstore_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/usecase"
	"github.com/kirillkom/signflow/internal/infrastructure/hashing"
	"github.com/kirillkom/signflow/internal/infrastructure/renderer/manifest"
	"github.com/kirillkom/signflow/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/signflow/internal/infrastructure/resilience"
	"github.com/kirillkom/signflow/internal/infrastructure/storage/localfs"
)

// flakyRenderer fails while down is set, then delegates.
type flakyRenderer struct {
	mu   sync.Mutex
	down bool
	next *manifest.Renderer
}

func (r *flakyRenderer) Embed(ctx context.Context, doc *domain.Document, original []byte, sigs []domain.EmbeddedSignature) ([]byte, error) {
	r.mu.Lock()
	down := r.down
	r.mu.Unlock()
	if down {
		return nil, domain.WrapError(domain.ErrRender, "embed", errors.New("renderer unavailable"))
	}
	return r.next.Embed(ctx, doc, original, sigs)
}

func (r *flakyRenderer) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

type stack struct {
	store    *sqlstore.Store
	storage  *localfs.Storage
	renderer *flakyRenderer
	hasher   *hashing.Hasher
	audit    *usecase.AuditTrail
	submit   *usecase.SubmitDocumentUseCase
	signing  *usecase.SigningUseCase
	finalize *usecase.FinalizeUseCase
	verify   *usecase.VerificationUseCase
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(dir, "signflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	store, err := sqlstore.New(db, sqlstore.DriverSQLite, executor)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))

	storage, err := localfs.New(filepath.Join(dir, "objects"))
	require.NoError(t, err)
	hasher, err := hashing.New(hashing.SHA256)
	require.NoError(t, err)

	s := &stack{
		store:    store,
		storage:  storage,
		renderer: &flakyRenderer{next: manifest.New()},
		hasher:   hasher,
	}
	s.audit = usecase.NewAuditTrail(store, store)
	registry := usecase.NewRegistryUseCase(store, s.audit, nil)
	duplicates := usecase.NewDuplicateDetector(store, hasher)
	s.submit = usecase.NewSubmitDocumentUseCase(registry, duplicates, storage, hasher, nil)
	s.finalize = usecase.NewFinalizeUseCase(store, storage, s.renderer, hasher, s.audit, nil)
	s.signing = usecase.NewSigningUseCase(store, s.audit, s.finalize, hasher, nil, nil)
	s.verify = usecase.NewVerificationUseCase(store, hasher, s.audit, false, nil)
	return s
}

func (s *stack) upload(t *testing.T, signingType domain.SigningType, content string, signers ...domain.SignerInput) *domain.SigningAggregate {
	t.Helper()
	res, err := s.submit.Submit(context.Background(), domain.SubmitDocumentInput{
		OwnerID:     "owner",
		Filename:    "contract.pdf",
		MimeType:    "application/pdf",
		Content:     []byte(content),
		SigningType: signingType,
		Signers:     signers,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Aggregate)
	return res.Aggregate
}

func (s *stack) sign(agg *domain.SigningAggregate, signerID string) (*domain.SubmitSignatureResult, error) {
	return s.signing.SubmitSignature(context.Background(), domain.SubmitSignatureInput{
		RequestID: agg.Request.ID,
		SignerID:  signerID,
		Signature: []byte("drawn:" + signerID),
		Metadata: domain.SignatureMetadata{
			Algorithm:      domain.AlgorithmDrawn,
			HashReferenced: agg.Document.OriginalHash,
		},
	})
}

func (s *stack) signedBytes(t *testing.T, key string) []byte {
	t.Helper()
	rc, err := s.storage.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	return buf.Bytes()
}

func ordered(id string, order int) domain.SignerInput {
	return domain.SignerInput{SignerID: id, Order: domain.IntPtr(order)}
}

func TestSequentialSigningOnSQLite(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	agg := s.upload(t, domain.SigningSequential, "sequential bytes", ordered("S1", 0), ordered("S2", 1))

	_, err := s.sign(agg, "S2")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrAuthorization))
	var turn *domain.TurnError
	require.ErrorAs(t, err, &turn)
	assert.Equal(t, "S1", turn.CurrentSigner)

	first, err := s.sign(agg, "S1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Request.CurrentSignerIndex)
	assert.False(t, first.Completed)

	last, err := s.sign(agg, "S2")
	require.NoError(t, err)
	assert.True(t, last.Completed)
	assert.True(t, last.Finalized)

	doc, err := s.store.GetDocument(ctx, agg.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentCompleted, doc.Status)
	assert.NotEmpty(t, doc.SignedHash)
	assert.NotEqual(t, doc.OriginalHash, doc.SignedHash)
	assert.Equal(t, s.hasher.Sum(s.signedBytes(t, doc.SignedStorageKey)), doc.SignedHash)

	req, err := s.store.GetRequest(ctx, agg.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, req.Status)
	require.NotNil(t, req.CompletedAt)

	signers, err := s.store.ListSigners(ctx, agg.Request.ID)
	require.NoError(t, err)
	require.NoError(t, domain.CheckQueueInvariants(req, signers))
	assert.Equal(t, []byte("drawn:S1"), signers[0].Signature)

	trail, err := s.audit.Trail(ctx, agg.Request.ID)
	require.NoError(t, err)
	assert.True(t, trail.ChainValid, "chain broken at %s", trail.BrokenAt)
	actions := make([]domain.AuditAction, 0, len(trail.Entries))
	for i, e := range trail.Entries {
		assert.Equal(t, int64(i+1), e.Seq)
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, domain.AuditSignatureRejected)
	assert.Equal(t, domain.AuditFinalizeSucceeded, actions[len(actions)-1])

	result, err := s.verify.Verify(ctx, domain.VerifyInput{Content: s.signedBytes(t, doc.SignedStorageKey)})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, domain.MatchSigned, result.MatchedOn)
}

func TestConcurrentFinalSignatureCompletesOnce(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	agg := s.upload(t, domain.SigningParallel, "parallel bytes", ordered("A", 0), ordered("B", 1))
	_, err := s.sign(agg, "A")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.sign(agg, "B")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Completed:
				completed++
			case domain.IsKind(err, domain.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, conflicts)

	req, err := s.store.GetRequest(ctx, agg.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, req.Status)
	assert.Equal(t, 2, req.CurrentSigners)

	entries, err := s.store.ListAuditByRequest(ctx, agg.Request.ID)
	require.NoError(t, err)
	var completions int
	for _, e := range entries {
		if e.Action == domain.AuditRequestCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestDuplicateInProgressOnSQLite(t *testing.T) {
	s := newStack(t)
	first := s.upload(t, domain.SigningSequential, "same bytes", ordered("S1", 0))

	res, err := s.submit.Submit(context.Background(), domain.SubmitDocumentInput{
		OwnerID:  "owner",
		Filename: "again.pdf",
		Content:  []byte("same bytes"),
		Signers:  []domain.SignerInput{{SignerID: "S1"}},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Aggregate)
	assert.Equal(t, domain.DuplicateConfirmable, res.Duplicate.Verdict)
	assert.Equal(t, first.Document.ID, res.Duplicate.ConflictingDocument)
}

func TestFinalizeRetryAfterRendererFailure(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	agg := s.upload(t, domain.SigningSequential, "retry bytes", ordered("S1", 0))

	s.renderer.setDown(true)
	res, err := s.sign(agg, "S1")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.False(t, res.Finalized)
	assert.NotEmpty(t, res.FinalizeError)

	doc, err := s.store.GetDocument(ctx, agg.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentSigned, doc.Status)
	assert.Empty(t, doc.SignedHash)

	pending, err := s.store.ListAwaitingFinalize(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, agg.Request.ID, pending[0].ID)

	s.renderer.setDown(false)
	doc, err = s.finalize.FinalizeRetry(ctx, agg.Request.ID, "worker")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentCompleted, doc.Status)
	assert.NotEqual(t, doc.OriginalHash, doc.SignedHash)

	pending, err = s.store.ListAwaitingFinalize(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	again, err := s.finalize.FinalizeRetry(ctx, agg.Request.ID, "worker")
	require.NoError(t, err)
	assert.Equal(t, doc.SignedHash, again.SignedHash)

	trail, err := s.audit.Trail(ctx, agg.Request.ID)
	require.NoError(t, err)
	assert.True(t, trail.ChainValid, "chain broken at %s", trail.BrokenAt)

	byDoc, err := s.store.ListAuditByDocument(ctx, agg.Document.ID)
	require.NoError(t, err)
	assert.Len(t, byDoc, len(trail.Entries))
}

func TestRejectClosesRequestOnSQLite(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	agg := s.upload(t, domain.SigningSequential, "reject bytes", ordered("S1", 0), ordered("S2", 1))

	req, err := s.signing.Reject(ctx, agg.Request.ID, "S1", "wrong amount")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestRejected, req.Status)

	_, err = s.sign(agg, "S1")
	assert.True(t, domain.IsKind(err, domain.ErrConflict))

	stored, err := s.store.GetRequest(ctx, agg.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestRejected, stored.Status)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	agg := s.upload(t, domain.SigningSequential, "schema twice", ordered("S1", 0))

	require.NoError(t, s.store.EnsureSchema(ctx))

	doc, err := s.store.GetDocument(ctx, agg.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, agg.Document.OriginalHash, doc.OriginalHash)
}

func TestAwaitingFinalizeOrdersByLastAttempt(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.renderer.setDown(true)

	older := s.upload(t, domain.SigningSequential, "stuck older", ordered("S1", 0))
	_, err := s.sign(older, "S1")
	require.NoError(t, err)
	newer := s.upload(t, domain.SigningSequential, "stuck newer", ordered("S1", 0))
	_, err = s.sign(newer, "S1")
	require.NoError(t, err)

	head, err := s.store.ListAwaitingFinalize(ctx, 1)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, older.Request.ID, head[0].ID)

	_, err = s.finalize.FinalizeRetry(ctx, older.Request.ID, "worker")
	require.True(t, domain.IsKind(err, domain.ErrRender), "got %v", err)

	head, err = s.store.ListAwaitingFinalize(ctx, 1)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, newer.Request.ID, head[0].ID)
}

func TestVerificationAuditKeepsRequestChainOnSQLite(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	agg := s.upload(t, domain.SigningSequential, "verify chain", ordered("S1", 0))
	_, err := s.sign(agg, "S1")
	require.NoError(t, err)

	verifier := usecase.NewVerificationUseCase(s.store, s.hasher, s.audit, true, nil)
	for i := 0; i < 2; i++ {
		res, err := verifier.Verify(ctx, domain.VerifyInput{Hash: agg.Document.OriginalHash})
		require.NoError(t, err)
		assert.True(t, res.Valid)
	}

	trail, err := s.audit.Trail(ctx, agg.Request.ID)
	require.NoError(t, err)
	assert.True(t, trail.ChainValid, "chain broken at %s", trail.BrokenAt)
	var attempts int
	for i := range trail.Entries {
		if trail.Entries[i].Action == domain.AuditVerificationAttempted {
			attempts++
			assert.Equal(t, "verify:"+agg.Document.ID, usecase.ChainKey(&trail.Entries[i]))
		}
	}
	assert.Equal(t, 2, attempts)
}
