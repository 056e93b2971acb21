package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/ledger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/messagequeue"
)

var (
	testPaymentHash = "0x" + strings.Repeat("11", 32)
	testT0          = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testKey(t *testing.T, nonce uint64) dispute.Key {
	t.Helper()
	k, err := dispute.NewKey(testPaymentHash, nonce)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func payerEntry(content string) dispute.EvidenceEntry {
	return dispute.EvidenceEntry{Submitter: "0xpayer", Role: dispute.RolePayer, Timestamp: testT0, Identifier: content}
}

func receiverEntry(content string) dispute.EvidenceEntry {
	return dispute.EvidenceEntry{Submitter: "0xreceiver", Role: dispute.RoleReceiver, Timestamp: testT0.Add(time.Hour), Identifier: content}
}

// --- ledger ---

type fakeLedger struct {
	mu       sync.Mutex
	status   map[dispute.Key]dispute.Status
	evidence map[dispute.Key][]dispute.EvidenceEntry
	disputes map[dispute.Key]*dispute.Dispute
	payments map[string]*payment.Info
	head     uint64
	keys     []dispute.Key
	refunded map[string]bool

	approves, denies, refunds int
	evidenceReads             int
	paymentReads              int

	statusErr   error
	evidenceErr error
	submitErr   error
	rulingErr   error
	refundErr   error
	// afterEvidenceRead runs (unlocked) after the n-th GetAllEvidence call.
	afterEvidenceRead func(n int)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		status:   map[dispute.Key]dispute.Status{},
		evidence: map[dispute.Key][]dispute.EvidenceEntry{},
		disputes: map[dispute.Key]*dispute.Dispute{},
		payments: map[string]*payment.Info{},
		refunded: map[string]bool{},
		head:     1000,
	}
}

// addDispute registers a pending dispute with its payment and evidence.
func (f *fakeLedger) addDispute(key dispute.Key, nonce uint64, entries ...dispute.EvidenceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[key] = dispute.StatusPending
	f.evidence[key] = append([]dispute.EvidenceEntry(nil), entries...)
	f.disputes[key] = &dispute.Dispute{Key: key, PaymentInfoHash: testPaymentHash, Nonce: nonce, Status: dispute.StatusPending}
	f.payments[testPaymentHash] = &payment.Info{Hash: testPaymentHash, Payer: "0xpayer", Receiver: "0xreceiver", Token: "0xusdc", Amount: "1000000"}
	f.keys = append(f.keys, key)
}

func (f *fakeLedger) appendEvidence(key dispute.Key, e dispute.EvidenceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evidence[key] = append(f.evidence[key], e)
}

func (f *fakeLedger) arbiterEntries(key dispute.Key) []dispute.EvidenceEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dispute.EvidenceEntry
	for _, e := range f.evidence[key] {
		if e.Role == dispute.RoleArbiter {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeLedger) writes() (approves, denies, refunds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approves, f.denies, f.refunds
}

func (f *fakeLedger) GetAllEvidence(_ context.Context, key dispute.Key) ([]dispute.EvidenceEntry, error) {
	f.mu.Lock()
	f.evidenceReads++
	n := f.evidenceReads
	hook := f.afterEvidenceRead
	err := f.evidenceErr
	out := append([]dispute.EvidenceEntry(nil), f.evidence[key]...)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(n)
	}
	return out, nil
}

func (f *fakeLedger) SubmitEvidence(_ context.Context, key dispute.Key, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.status[key].IsTerminal() {
		return "", fmt.Errorf("submit evidence: %w", domain.ErrConflict)
	}
	f.evidence[key] = append(f.evidence[key], dispute.EvidenceEntry{
		Submitter: "0xarbiter", Role: dispute.RoleArbiter, Timestamp: testT0.Add(2 * time.Hour), Identifier: content,
	})
	return fmt.Sprintf("0xtx-evidence-%d", len(f.evidence[key])), nil
}

func (f *fakeLedger) rule(key dispute.Key, to dispute.Status) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rulingErr != nil {
		return "", f.rulingErr
	}
	if f.status[key] != dispute.StatusPending {
		return "", fmt.Errorf("rule: %w", domain.ErrConflict)
	}
	f.status[key] = to
	if to == dispute.StatusApproved {
		f.approves++
	} else {
		f.denies++
	}
	return "0xtx-" + string(to), nil
}

func (f *fakeLedger) Approve(_ context.Context, key dispute.Key) (string, error) {
	return f.rule(key, dispute.StatusApproved)
}

func (f *fakeLedger) Deny(_ context.Context, key dispute.Key) (string, error) {
	return f.rule(key, dispute.StatusDenied)
}

func (f *fakeLedger) ExecuteRefund(_ context.Context, info payment.Info) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return "", f.refundErr
	}
	if f.refunded[info.Hash] {
		return "", fmt.Errorf("refund: %w", domain.ErrConflict)
	}
	f.refunded[info.Hash] = true
	f.refunds++
	return "0xtx-refund", nil
}

func (f *fakeLedger) GetStatus(_ context.Context, key dispute.Key) (dispute.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	s, ok := f.status[key]
	if !ok {
		return "", fmt.Errorf("dispute %s: %w", key, domain.ErrNotFound)
	}
	return s, nil
}

func (f *fakeLedger) setStatus(key dispute.Key, s dispute.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[key] = s
}

func (f *fakeLedger) ListRecentDisputeKeys(_ context.Context, _ ledger.BlockRange) ([]dispute.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispute.Key(nil), f.keys...), nil
}

func (f *fakeLedger) LatestBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeLedger) GetDispute(_ context.Context, key dispute.Key) (*dispute.Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[key]
	if !ok {
		return nil, fmt.Errorf("dispute %s: %w", key, domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeLedger) GetPaymentInfo(_ context.Context, hash string) (*payment.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentReads++
	p, ok := f.payments[hash]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", hash, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// --- model ---

type fakeModel struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	seeds    []uint64
	prompts  []string
	// release, when set, blocks every call until closed.
	release chan struct{}
	started chan struct{}
}

func (m *fakeModel) Name() string { return "fake-model" }

func (m *fakeModel) Evaluate(ctx context.Context, _, user string, seed uint64) (string, error) {
	m.mu.Lock()
	m.calls++
	m.seeds = append(m.seeds, seed)
	m.prompts = append(m.prompts, user)
	release, started := m.release, m.started
	resp, err := m.response, m.err
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", domain.Wrap(domain.KindTransient, "model request", ctx.Err())
		}
	}
	return resp, err
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// --- evidence store ---

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	fetches int
	fail    map[string]bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, fail: map[string]bool{}}
}

func (m *memBlobs) Put(_ context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	id := "sha256:" + hex.EncodeToString(sum[:])
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *memBlobs) Fetch(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fail[id] {
		return nil, domain.Errorf(domain.KindTransient, "gateway timeout for %s", id)
	}
	b, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (m *memBlobs) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// --- cache ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- database ---

type memStore struct {
	mu          sync.Mutex
	payments    map[string]payment.Info
	evaluations []evaluation.Result
	getErr      error
}

func newMemStore() *memStore { return &memStore{payments: map[string]payment.Info{}} }

func (s *memStore) GetPayment(_ context.Context, hash string) (*payment.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.payments[hash]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", hash, domain.ErrNotFound)
	}
	return &p, nil
}

func (s *memStore) UpsertPayment(_ context.Context, info payment.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[payment.NormalizeHash(info.Hash)] = info
	return nil
}

func (s *memStore) CountPayments(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.payments)), nil
}

func (s *memStore) SaveEvaluation(_ context.Context, r *evaluation.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, *r)
	return nil
}

func (s *memStore) ListEvaluations(_ context.Context, key string, _ int) ([]evaluation.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []evaluation.Result
	for _, r := range s.evaluations {
		if key == "" || r.DisputeKey == key {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- queue & broadcast ---

type published struct {
	subject string
	data    []byte
}

type memQueue struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]messagequeue.Handler
}

func newMemQueue() *memQueue { return &memQueue{handlers: map[string]messagequeue.Handler{}} }

func (q *memQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, published{subject: subject, data: data})
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}

func (q *memQueue) deliver(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler for %s", subject)
	}
	return h(ctx, subject, data)
}

func (q *memQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.messages))
	for _, m := range q.messages {
		out = append(out, m.subject)
	}
	return out
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

type memHub struct {
	mu     sync.Mutex
	events []string
}

func (h *memHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}
