package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/core/ports"
)

// memStore is a transactional in-memory store. InTx works on a copy of the
// state and publishes it only when fn succeeds, so a failed step leaves
// nothing behind.
type memStore struct {
	mu    sync.Mutex
	state memState
	// fail returns an injected error for a tx method name.
	fail func(method string) error
}

type auditRow struct {
	chain string
	entry domain.AuditEntry
}

type memState struct {
	docs    map[string]domain.Document
	reqs    map[string]domain.SigningRequest
	signers map[string][]domain.Signer
	audit   []auditRow
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		docs:    map[string]domain.Document{},
		reqs:    map[string]domain.SigningRequest{},
		signers: map[string][]domain.Signer{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		docs:    make(map[string]domain.Document, len(s.docs)),
		reqs:    make(map[string]domain.SigningRequest, len(s.reqs)),
		signers: make(map[string][]domain.Signer, len(s.signers)),
		audit:   append([]auditRow(nil), s.audit...),
	}
	for k, v := range s.docs {
		out.docs[k] = v
	}
	for k, v := range s.reqs {
		out.reqs[k] = v
	}
	for k, v := range s.signers {
		out.signers[k] = append([]domain.Signer(nil), v...)
	}
	return out
}

func (s *memStore) InTx(ctx context.Context, fn func(context.Context, ports.SigningTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &memTx{st: &work, fail: s.fail}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.document(id)
}

func (s *memStore) GetRequest(_ context.Context, id string) (*domain.SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.request(id)
}

func (s *memStore) GetRequestByDocument(_ context.Context, documentID string) (*domain.SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.state.reqs {
		if r.DocumentID == documentID {
			out := r
			return &out, nil
		}
	}
	return nil, domain.NewError(domain.ErrNotFound, "get request by document", "document %s has no request", documentID)
}

func (s *memStore) ListSigners(_ context.Context, requestID string) ([]domain.Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listSigners(requestID), nil
}

func (s *memStore) FindDocumentsByHash(_ context.Context, hash string) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, d := range s.state.docs {
		if d.OriginalHash == hash || (d.SignedHash != "" && d.SignedHash == hash) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListAwaitingFinalize(_ context.Context, limit int) ([]domain.SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := map[string]time.Time{}
	for _, row := range s.state.audit {
		if row.entry.Action == domain.AuditFinalizeAttempted && row.entry.CreatedAt.After(last[row.entry.RequestID]) {
			last[row.entry.RequestID] = row.entry.CreatedAt
		}
	}
	attempted := func(r domain.SigningRequest) time.Time {
		if at, ok := last[r.ID]; ok {
			return at
		}
		return *r.CompletedAt
	}
	var out []domain.SigningRequest
	for _, r := range s.state.reqs {
		if r.Status == domain.RequestCompleted && s.state.docs[r.DocumentID].Status == domain.DocumentSigned {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return attempted(out[i]).Before(attempted(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListAuditByRequest(_ context.Context, requestID string) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, row := range s.state.audit {
		if row.entry.RequestID == requestID {
			out = append(out, row.entry)
		}
	}
	return out, nil
}

func (s *memStore) ListAuditByDocument(_ context.Context, documentID string) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, row := range s.state.audit {
		if row.entry.DocumentID == documentID {
			out = append(out, row.entry)
		}
	}
	return out, nil
}

// seed writes an aggregate directly, bypassing registry validation.
func (s *memStore) seed(agg *domain.SigningAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.docs[agg.Document.ID] = *agg.Document
	s.state.reqs[agg.Request.ID] = *agg.Request
	s.state.signers[agg.Request.ID] = append([]domain.Signer(nil), agg.Signers...)
}

// tamperAudit overwrites an audit entry in place.
func (s *memStore) tamperAudit(i int, mutate func(*domain.AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.state.audit[i].entry)
}

func (st *memState) document(id string) (*domain.Document, error) {
	d, ok := st.docs[id]
	if !ok {
		return nil, domain.NewError(domain.ErrNotFound, "get document", "document %s not found", id)
	}
	return &d, nil
}

func (st *memState) request(id string) (*domain.SigningRequest, error) {
	r, ok := st.reqs[id]
	if !ok {
		return nil, domain.NewError(domain.ErrNotFound, "get request", "request %s not found", id)
	}
	return &r, nil
}

func (st *memState) listSigners(requestID string) []domain.Signer {
	out := append([]domain.Signer(nil), st.signers[requestID]...)
	domain.SortSigners(out)
	return out
}

type memTx struct {
	st   *memState
	fail func(method string) error
}

func (tx *memTx) injected(method string) error {
	if tx.fail == nil {
		return nil
	}
	return tx.fail(method)
}

func (tx *memTx) InsertAggregate(_ context.Context, agg *domain.SigningAggregate) error {
	if err := tx.injected("InsertAggregate"); err != nil {
		return err
	}
	if _, ok := tx.st.docs[agg.Document.ID]; ok {
		return domain.NewError(domain.ErrConflict, "insert aggregate", "document %s exists", agg.Document.ID)
	}
	tx.st.docs[agg.Document.ID] = *agg.Document
	tx.st.reqs[agg.Request.ID] = *agg.Request
	tx.st.signers[agg.Request.ID] = append([]domain.Signer(nil), agg.Signers...)
	return nil
}

func (tx *memTx) LockRequest(_ context.Context, id string) (*domain.SigningRequest, error) {
	if err := tx.injected("LockRequest"); err != nil {
		return nil, err
	}
	return tx.st.request(id)
}

func (tx *memTx) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	return tx.st.document(id)
}

func (tx *memTx) ListSigners(_ context.Context, requestID string) ([]domain.Signer, error) {
	return tx.st.listSigners(requestID), nil
}

func (tx *memTx) updateSigner(id string, fn func(*domain.Signer) error) error {
	for reqID, list := range tx.st.signers {
		for i := range list {
			if list[i].ID == id {
				if err := fn(&list[i]); err != nil {
					return err
				}
				tx.st.signers[reqID] = list
				return nil
			}
		}
	}
	return domain.NewError(domain.ErrNotFound, "update signer", "signer row %s not found", id)
}

func (tx *memTx) MarkSignerSigned(_ context.Context, signer *domain.Signer) error {
	if err := tx.injected("MarkSignerSigned"); err != nil {
		return err
	}
	return tx.updateSigner(signer.ID, func(s *domain.Signer) error {
		if s.Status != domain.SignerPending {
			return domain.NewError(domain.ErrConflict, "mark signer signed", "signer %s is %s", s.ID, s.Status)
		}
		s.Status = domain.SignerSigned
		s.Signature = append([]byte(nil), signer.Signature...)
		s.SignedAt = signer.SignedAt
		s.Metadata = signer.Metadata
		return nil
	})
}

func (tx *memTx) MarkSignerRejected(_ context.Context, id string) error {
	return tx.updateSigner(id, func(s *domain.Signer) error {
		if s.Status != domain.SignerPending {
			return domain.NewError(domain.ErrConflict, "mark signer rejected", "signer %s is %s", s.ID, s.Status)
		}
		s.Status = domain.SignerRejected
		return nil
	})
}

func (tx *memTx) casRequest(id string, from domain.QueuePosition, fn func(*domain.SigningRequest)) error {
	r, ok := tx.st.reqs[id]
	if !ok || r.Status != domain.RequestPending || r.Position() != from {
		return domain.NewError(domain.ErrConflict, "update request", "request %s moved", id)
	}
	fn(&r)
	tx.st.reqs[id] = r
	return nil
}

func (tx *memTx) AdvanceRequest(_ context.Context, id string, from, to domain.QueuePosition) error {
	if err := tx.injected("AdvanceRequest"); err != nil {
		return err
	}
	return tx.casRequest(id, from, func(r *domain.SigningRequest) {
		r.CurrentSignerIndex = to.Index
		r.CurrentSigners = to.Signed
	})
}

func (tx *memTx) CompleteRequest(_ context.Context, id string, from domain.QueuePosition, signed int, at time.Time) error {
	if err := tx.injected("CompleteRequest"); err != nil {
		return err
	}
	return tx.casRequest(id, from, func(r *domain.SigningRequest) {
		r.Status = domain.RequestCompleted
		r.CurrentSigners = signed
		r.CompletedAt = &at
	})
}

func (tx *memTx) RejectRequest(_ context.Context, id string, _ time.Time) error {
	r, ok := tx.st.reqs[id]
	if !ok || r.Status != domain.RequestPending {
		return domain.NewError(domain.ErrConflict, "reject request", "request %s is not pending", id)
	}
	r.Status = domain.RequestRejected
	tx.st.reqs[id] = r
	return nil
}

func (tx *memTx) UpdateDocumentStatus(_ context.Context, id string, from, to domain.DocumentStatus, at time.Time) error {
	d, ok := tx.st.docs[id]
	if !ok || d.Status != from {
		return domain.NewError(domain.ErrConflict, "update document status", "document %s is not %s", id, from)
	}
	d.Status = to
	d.UpdatedAt = at
	tx.st.docs[id] = d
	return nil
}

func (tx *memTx) CompleteDocument(_ context.Context, id, signedHash, signedKey string, at time.Time) error {
	if err := tx.injected("CompleteDocument"); err != nil {
		return err
	}
	d, ok := tx.st.docs[id]
	if !ok || d.Status != domain.DocumentSigned {
		return domain.NewError(domain.ErrConflict, "complete document", "document %s is not signed", id)
	}
	d.Status = domain.DocumentCompleted
	d.SignedHash = signedHash
	d.SignedStorageKey = signedKey
	d.UpdatedAt = at
	tx.st.docs[id] = d
	return nil
}

func (tx *memTx) LastAuditEntry(_ context.Context, chain string) (*domain.AuditEntry, error) {
	for i := len(tx.st.audit) - 1; i >= 0; i-- {
		if tx.st.audit[i].chain == chain {
			e := tx.st.audit[i].entry
			return &e, nil
		}
	}
	return nil, nil
}

func (tx *memTx) AppendAudit(_ context.Context, chain string, entry *domain.AuditEntry) error {
	if err := tx.injected("AppendAudit"); err != nil {
		return err
	}
	for _, row := range tx.st.audit {
		if row.chain == chain && row.entry.Seq == entry.Seq {
			return domain.NewError(domain.ErrConflict, "append audit", "chain %s already has seq %d", chain, entry.Seq)
		}
	}
	tx.st.audit = append(tx.st.audit, auditRow{chain: chain, entry: *entry})
	return nil
}

type testHasher struct{}

func (testHasher) Algorithm() string { return "sha256" }

func (testHasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (testHasher) Normalize(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) != 64 {
		return "", fmt.Errorf("malformed sha256 hash %q", hash)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", fmt.Errorf("malformed sha256 hash %q", hash)
	}
	return "sha256:" + h, nil
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (s *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = raw
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[key]
	if !ok {
		return nil, domain.NewError(domain.ErrNotFound, "open object", "object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

// fakeRenderer appends a signer trailer; err makes it fail, identity makes it
// return the original bytes unchanged and stamp is appended after the trailer.
type fakeRenderer struct {
	mu       sync.Mutex
	err      error
	identity bool
	stamp    string
	calls    int
}

func (r *fakeRenderer) Embed(_ context.Context, _ *domain.Document, original []byte, sigs []domain.EmbeddedSignature) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.identity {
		return original, nil
	}
	var buf bytes.Buffer
	buf.Write(original)
	for _, s := range sigs {
		fmt.Fprintf(&buf, "\n%%signed %d %s", s.Order, s.SignerID)
	}
	if r.stamp != "" {
		fmt.Fprintf(&buf, "\n%%stamp %s", r.stamp)
	}
	return buf.Bytes(), nil
}

func (r *fakeRenderer) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.SigningEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, event domain.SigningEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) ofType(t domain.EventType) []domain.SigningEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.SigningEvent
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type countingMetrics struct {
	mu         sync.Mutex
	signatures map[string]int
	completed  int
	finalized  map[string]int
	verified   map[bool]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		signatures: map[string]int{},
		finalized:  map[string]int{},
		verified:   map[bool]int{},
	}
}

func (m *countingMetrics) SignatureSubmitted(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signatures[result]++
}

func (m *countingMetrics) RequestCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *countingMetrics) Finalized(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized[status]++
}

func (m *countingMetrics) Verified(valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified[valid]++
}

type harness struct {
	store      *memStore
	storage    *memStorage
	renderer   *fakeRenderer
	notifier   *recordingNotifier
	metrics    *countingMetrics
	hasher     testHasher
	audit      *AuditTrail
	registry   *RegistryUseCase
	duplicates *DuplicateDetector
	submit     *SubmitDocumentUseCase
	signing    *SigningUseCase
	finalize   *FinalizeUseCase
	verify     *VerificationUseCase
	status     *StatusUseCase
}

func newHarness() *harness {
	h := &harness{
		store:    newMemStore(),
		storage:  newMemStorage(),
		renderer: &fakeRenderer{},
		notifier: &recordingNotifier{},
		metrics:  newCountingMetrics(),
	}
	h.audit = NewAuditTrail(h.store, h.store)
	h.registry = NewRegistryUseCase(h.store, h.audit, h.notifier)
	h.duplicates = NewDuplicateDetector(h.store, h.hasher)
	h.submit = NewSubmitDocumentUseCase(h.registry, h.duplicates, h.storage, h.hasher, nil)
	h.finalize = NewFinalizeUseCase(h.store, h.storage, h.renderer, h.hasher, h.audit, h.metrics)
	h.signing = NewSigningUseCase(h.store, h.audit, h.finalize, h.hasher, h.notifier, h.metrics)
	h.verify = NewVerificationUseCase(h.store, h.hasher, h.audit, true, h.metrics)
	h.status = NewStatusUseCase(h.store, h.store, h.storage)
	return h
}

func signerInputs(ids ...string) []domain.SignerInput {
	out := make([]domain.SignerInput, len(ids))
	for i, id := range ids {
		out[i] = domain.SignerInput{SignerID: id}
	}
	return out
}

func (h *harness) upload(t *testing.T, owner, content string, signers ...string) *domain.SigningAggregate {
	t.Helper()
	res, err := h.submit.Submit(context.Background(), domain.SubmitDocumentInput{
		OwnerID:  owner,
		Filename: "contract.pdf",
		MimeType: "application/pdf",
		Content:  []byte(content),
		Signers:  signerInputs(signers...),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Aggregate == nil {
		t.Fatalf("expected aggregate, got verdict %s", res.Duplicate.Verdict)
	}
	return res.Aggregate
}

func (h *harness) originalHash(t *testing.T, requestID string) string {
	t.Helper()
	req, err := h.store.GetRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	doc, err := h.store.GetDocument(context.Background(), req.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	return doc.OriginalHash
}

func (h *harness) sign(t *testing.T, requestID, signerID string) (*domain.SubmitSignatureResult, error) {
	t.Helper()
	return h.signing.SubmitSignature(context.Background(), domain.SubmitSignatureInput{
		RequestID: requestID,
		SignerID:  signerID,
		Signature: []byte("sig:" + signerID),
		Metadata: domain.SignatureMetadata{
			Algorithm:      domain.AlgorithmDrawn,
			HashReferenced: h.originalHash(t, requestID),
		},
	})
}

func (h *harness) mustSign(t *testing.T, requestID, signerID string) *domain.SubmitSignatureResult {
	t.Helper()
	res, err := h.sign(t, requestID, signerID)
	if err != nil {
		t.Fatalf("SubmitSignature(%s) error = %v", signerID, err)
	}
	return res
}

func (h *harness) requireInvariants(t *testing.T, requestID string) {
	t.Helper()
	req, err := h.store.GetRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	signers, _ := h.store.ListSigners(context.Background(), requestID)
	if err := domain.CheckQueueInvariants(req, signers); err != nil {
		t.Fatalf("queue invariants violated: %v", err)
	}
}

var errRendererDown = errors.New("renderer unavailable")
