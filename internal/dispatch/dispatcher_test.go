package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldermfg/payment-webhooks/internal/domain"
	"github.com/caldermfg/payment-webhooks/internal/logging"
)

type fakeRegistry struct {
	mu       sync.Mutex
	partners map[uuid.UUID]*domain.Partner
}

func newFakeRegistry(partners ...*domain.Partner) *fakeRegistry {
	r := &fakeRegistry{partners: make(map[uuid.UUID]*domain.Partner)}
	for _, p := range partners {
		r.partners[p.ID] = p
	}
	return r
}

func (r *fakeRegistry) ListActive(_ context.Context) ([]domain.Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Partner
	for _, p := range r.partners {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakeRegistry) Get(_ context.Context, id uuid.UUID) (*domain.Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partners[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRegistry) deactivate(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partners[id].IsActive = false
}

type memStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]domain.DispatchAttempt
	history  map[uuid.UUID][]domain.DispatchStatus
}

func newMemStore() *memStore {
	return &memStore{
		attempts: make(map[uuid.UUID]domain.DispatchAttempt),
		history:  make(map[uuid.UUID][]domain.DispatchStatus),
	}
}

func (s *memStore) Create(_ context.Context, a *domain.DispatchAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = *a
	s.history[a.ID] = append(s.history[a.ID], a.Status)
	return nil
}

func (s *memStore) Update(_ context.Context, a *domain.DispatchAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = *a
	s.history[a.ID] = append(s.history[a.ID], a.Status)
	return nil
}

func (s *memStore) ListInFlight(_ context.Context) ([]domain.DispatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DispatchAttempt
	for _, a := range s.attempts {
		if a.Status == domain.DispatchStatusPending || a.Status == domain.DispatchStatusRetrying {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) forPartner(partnerID uuid.UUID) (domain.DispatchAttempt, []domain.DispatchStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.attempts {
		if a.PartnerID == partnerID {
			return a, s.history[id], true
		}
	}
	return domain.DispatchAttempt{}, nil, false
}

// fakeTransport answers each partner's deliveries from a script of outcomes;
// once the script is spent the last outcome repeats.
type fakeTransport struct {
	mu      sync.Mutex
	scripts map[uuid.UUID][]DeliveryResult
	calls   map[uuid.UUID]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		scripts: make(map[uuid.UUID][]DeliveryResult),
		calls:   make(map[uuid.UUID]int),
	}
}

func (t *fakeTransport) script(partnerID uuid.UUID, results ...DeliveryResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[partnerID] = results
}

func (t *fakeTransport) callCount(partnerID uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[partnerID]
}

func (t *fakeTransport) Deliver(_ context.Context, partner *domain.Partner, _ *domain.WebhookEvent) DeliveryResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.calls[partner.ID]
	t.calls[partner.ID] = n + 1
	script := t.scripts[partner.ID]
	if len(script) == 0 {
		return DeliveryResult{Success: true, StatusCode: 200}
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n]
}

func failure(msg string) DeliveryResult {
	return DeliveryResult{StatusCode: 500, Err: errors.New(msg)}
}

func success() DeliveryResult {
	return DeliveryResult{Success: true, StatusCode: 200}
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        time.Millisecond,
		Multiplier:  2,
		Max:         20 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func testPartner(name string) *domain.Partner {
	return &domain.Partner{
		ID:            uuid.New(),
		Name:          name,
		Email:         name + "@partner.test",
		WebhookURL:    "https://" + name + ".partner.test/hooks",
		WebhookSecret: "secret-" + name,
		IsActive:      true,
	}
}

func testEvent() *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:            "evt_" + uuid.NewString(),
		EventType:     domain.EventTypePaymentConfirmed,
		TransactionID: "txn_1",
		OrderID:       "ord_1",
		Status:        "completed",
		Amount:        decimal.NewFromInt(150),
		Currency:      "USD",
		Timestamp:     time.Now().UTC(),
		Provider:      "stripe",
		Metadata:      map[string]string{},
	}
}

func TestDispatcher_SuccessFirstAttempt(t *testing.T) {
	partner := testPartner("alpha")
	store := newMemStore()
	transport := newFakeTransport()

	d := NewDispatcher(newFakeRegistry(partner), store, transport, testPolicy(), 8, logging.Component("dispatcher"))

	count, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	d.Wait()

	attempt, history, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusSent, attempt.Status)
	assert.Equal(t, 0, attempt.AttemptIndex)
	assert.Equal(t, []domain.DispatchStatus{domain.DispatchStatusPending, domain.DispatchStatusSent}, history)
	assert.Equal(t, 1, transport.callCount(partner.ID))
}

func TestDispatcher_ExhaustsAfterRetryBudget(t *testing.T) {
	partner := testPartner("beta")
	store := newMemStore()
	transport := newFakeTransport()
	transport.script(partner.ID, failure("connection refused"))

	d := NewDispatcher(newFakeRegistry(partner), store, transport, testPolicy(), 8, logging.Component("dispatcher"))

	_, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	d.Wait()

	attempt, history, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusExhausted, attempt.Status)
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "connection refused")

	// Initial try plus MaxAttempts retries, indexes 0..3.
	assert.Equal(t, 4, transport.callCount(partner.ID))
	assert.Equal(t, 3, attempt.AttemptIndex)

	// failed -> retrying for each scheduled retry, then failed -> exhausted.
	want := []domain.DispatchStatus{
		domain.DispatchStatusPending,
		domain.DispatchStatusFailed, domain.DispatchStatusRetrying,
		domain.DispatchStatusFailed, domain.DispatchStatusRetrying,
		domain.DispatchStatusFailed, domain.DispatchStatusRetrying,
		domain.DispatchStatusFailed, domain.DispatchStatusExhausted,
	}
	assert.Equal(t, want, history)

	// Terminal means terminal: nothing else fires afterwards.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, transport.callCount(partner.ID))
}

func TestDispatcher_PartnerRetryOverride(t *testing.T) {
	partner := testPartner("gamma")
	noRetries := 0
	partner.RetryAttempts = &noRetries

	store := newMemStore()
	transport := newFakeTransport()
	transport.script(partner.ID, failure("boom"))

	d := NewDispatcher(newFakeRegistry(partner), store, transport, testPolicy(), 8, logging.Component("dispatcher"))

	_, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	d.Wait()

	attempt, _, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusExhausted, attempt.Status)
	assert.Equal(t, 1, transport.callCount(partner.ID), "override of zero disables retries")
}

func TestDispatcher_FailedThenSent(t *testing.T) {
	partner := testPartner("delta")
	store := newMemStore()
	transport := newFakeTransport()
	transport.script(partner.ID, failure("timeout"), failure("timeout"), success())

	d := NewDispatcher(newFakeRegistry(partner), store, transport, testPolicy(), 8, logging.Component("dispatcher"))

	_, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	d.Wait()

	attempt, history, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusSent, attempt.Status)
	assert.Equal(t, 2, attempt.AttemptIndex)
	assert.Equal(t, domain.DispatchStatusSent, history[len(history)-1])
	assert.Equal(t, 3, transport.callCount(partner.ID))
}

func TestDispatcher_FanOutIndependence(t *testing.T) {
	failing := testPartner("always-fails")
	healthy := testPartner("always-succeeds")

	store := newMemStore()
	transport := newFakeTransport()
	transport.script(failing.ID, failure("no route to host"))
	transport.script(healthy.ID, success())

	d := NewDispatcher(newFakeRegistry(failing, healthy), store, transport, testPolicy(), 8, logging.Component("dispatcher"))

	count, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	d.Wait()

	healthyAttempt, _, ok := store.forPartner(healthy.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusSent, healthyAttempt.Status)
	assert.Equal(t, 0, healthyAttempt.AttemptIndex, "healthy lineage succeeds on attempt 0 regardless of the failing one")
	assert.Nil(t, healthyAttempt.LastError, "the failing partner's errors never leak into another lineage")

	failingAttempt, _, ok := store.forPartner(failing.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusExhausted, failingAttempt.Status)
}

func TestDispatcher_DeactivationDoesNotCancelInFlight(t *testing.T) {
	partner := testPartner("epsilon")
	registry := newFakeRegistry(partner)
	store := newMemStore()
	transport := newFakeTransport()
	transport.script(partner.ID, failure("503"))

	d := NewDispatcher(registry, store, transport, testPolicy(), 8, logging.Component("dispatcher"))

	_, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)

	registry.deactivate(partner.ID)
	d.Wait()

	attempt, _, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusExhausted, attempt.Status)
	assert.Equal(t, 4, transport.callCount(partner.ID), "scheduled retries still execute after deactivation")

	// But no new lineages are created for the deactivated partner.
	count, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDispatcher_ResumeContinuesFromRecordedIndex(t *testing.T) {
	partner := testPartner("zeta")
	store := newMemStore()
	transport := newFakeTransport()
	transport.script(partner.ID, success())

	event := testEvent()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Second)
	seeded := &domain.DispatchAttempt{
		ID:            uuid.New(),
		EventID:       event.ID,
		PartnerID:     partner.ID,
		Status:        domain.DispatchStatusRetrying,
		AttemptIndex:  1,
		NextAttemptAt: &past,
		EventPayload:  payload,
		CreatedAt:     past,
		UpdatedAt:     past,
	}
	require.NoError(t, store.Create(context.Background(), seeded))

	d := NewDispatcher(newFakeRegistry(partner), store, transport, testPolicy(), 8, logging.Component("dispatcher"))
	require.NoError(t, d.Resume(context.Background()))
	d.Wait()

	attempt, _, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusSent, attempt.Status)
	assert.Equal(t, 2, attempt.AttemptIndex, "resumed redelivery runs at the index after the recorded failure")
	assert.Equal(t, 1, transport.callCount(partner.ID))
}

func TestDispatcher_ResumeTerminatesCorruptLineage(t *testing.T) {
	partner := testPartner("eta")
	store := newMemStore()

	seeded := &domain.DispatchAttempt{
		ID:           uuid.New(),
		EventID:      "evt_corrupt",
		PartnerID:    partner.ID,
		Status:       domain.DispatchStatusPending,
		EventPayload: json.RawMessage(`{not json`),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), seeded))

	d := NewDispatcher(newFakeRegistry(partner), store, newFakeTransport(), testPolicy(), 8, logging.Component("dispatcher"))
	require.NoError(t, d.Resume(context.Background()))
	d.Wait()

	attempt, _, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusExhausted, attempt.Status)
	require.NotNil(t, attempt.LastError)
}

func TestDispatcher_ShutdownLeavesLineageResumable(t *testing.T) {
	partner := testPartner("theta")
	store := newMemStore()
	transport := newFakeTransport()
	transport.script(partner.ID, failure("gateway down"))

	// Long backoff so the lineage is parked when Shutdown fires.
	policy := testPolicy()
	policy.Base = 5 * time.Second
	policy.Max = 5 * time.Second

	d := NewDispatcher(newFakeRegistry(partner), store, transport, policy, 8, logging.Component("dispatcher"))

	_, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return transport.callCount(partner.ID) == 1
	}, time.Second, 5*time.Millisecond)

	d.Shutdown()

	attempt, _, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusRetrying, attempt.Status, "interrupted lineage stays retrying for Resume")
	require.NotNil(t, attempt.NextAttemptAt)
	assert.Equal(t, 1, transport.callCount(partner.ID))
}

func TestDispatcher_ParkedBackoffFreesConcurrencySlot(t *testing.T) {
	failing := testPartner("stuck")
	healthy := testPartner("prompt")

	store := newMemStore()
	transport := newFakeTransport()
	transport.script(failing.ID, failure("503"))
	transport.script(healthy.ID, success())

	// Long backoffs on the failing lineage; with a single permit the healthy
	// one can only proceed if parked lineages release their slot.
	policy := testPolicy()
	policy.Base = 500 * time.Millisecond
	policy.Max = 500 * time.Millisecond

	d := NewDispatcher(newFakeRegistry(failing, healthy), store, transport, policy, 1, logging.Component("dispatcher"))

	start := time.Now()
	count, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.Eventually(t, func() bool {
		a, _, ok := store.forPartner(healthy.ID)
		return ok && a.Status == domain.DispatchStatusSent
	}, 100*time.Millisecond, 2*time.Millisecond, "healthy lineage must not wait out another lineage's backoff")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	d.Shutdown()
}

// flakyStore errors on a chosen status transition so persistence failures
// mid-lineage can be exercised.
type flakyStore struct {
	*memStore
	failOn domain.DispatchStatus
}

func (s *flakyStore) Update(ctx context.Context, a *domain.DispatchAttempt) error {
	if a.Status == s.failOn {
		return errors.New("connection reset by peer")
	}
	return s.memStore.Update(ctx, a)
}

func TestDispatcher_RetrySchedulingFailureTerminatesLineage(t *testing.T) {
	partner := testPartner("iota")
	store := &flakyStore{memStore: newMemStore(), failOn: domain.DispatchStatusRetrying}
	transport := newFakeTransport()
	transport.script(partner.ID, failure("502"))

	d := NewDispatcher(newFakeRegistry(partner), store, transport, testPolicy(), 8, logging.Component("dispatcher"))

	_, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	d.Wait()

	// The lineage must not die at non-terminal failed, which Resume never
	// reloads; it ends exhausted with the store error recorded.
	attempt, _, ok := store.forPartner(partner.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DispatchStatusExhausted, attempt.Status)
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "connection reset")
	assert.Equal(t, 1, transport.callCount(partner.ID))

	inFlight, err := store.ListInFlight(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inFlight)
}

func TestDispatcher_ManyPartnersBoundedConcurrency(t *testing.T) {
	var partners []*domain.Partner
	for i := range 20 {
		partners = append(partners, testPartner(fmt.Sprintf("p%02d", i)))
	}

	store := newMemStore()
	transport := newFakeTransport()
	d := NewDispatcher(newFakeRegistry(partners...), store, transport, testPolicy(), 4, logging.Component("dispatcher"))

	count, err := d.Dispatch(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 20, count)
	d.Wait()

	for _, p := range partners {
		attempt, _, ok := store.forPartner(p.ID)
		require.True(t, ok)
		assert.Equal(t, domain.DispatchStatusSent, attempt.Status)
	}
}
