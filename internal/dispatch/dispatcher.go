package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/caldermfg/payment-webhooks/internal/domain"
)

type partnerRegistry interface {
	ListActive(ctx context.Context) ([]domain.Partner, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Partner, error)
}

type attemptStore interface {
	Create(ctx context.Context, attempt *domain.DispatchAttempt) error
	Update(ctx context.Context, attempt *domain.DispatchAttempt) error
	ListInFlight(ctx context.Context) ([]domain.DispatchAttempt, error)
}

// Dispatcher fans a canonical event out to every active partner and owns the
// per-lineage state machine: pending -> sent on success, pending -> failed ->
// retrying -> ... -> exhausted on repeated failure. Lineages run on
// independent goroutines; a weighted semaphore bounds concurrent deliveries,
// not lineages, so a lineage parked in backoff frees its slot and one
// partner's retry timeline never blocks another's.
//
// Lineages outlive the request that created them: they run on the
// dispatcher's own lifecycle context, ended by Shutdown, not on the caller's.
type Dispatcher struct {
	registry  partnerRegistry
	attempts  attemptStore
	transport Transport
	policy    RetryPolicy
	logger    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	sem     *semaphore.Weighted
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewDispatcher(
	registry partnerRegistry,
	attempts attemptStore,
	transport Transport,
	policy RetryPolicy,
	concurrency int,
	logger *slog.Logger,
) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry:  registry,
		attempts:  attempts,
		transport: transport,
		policy:    policy,
		logger:    logger,
		baseCtx:   baseCtx,
		cancel:    cancel,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch creates one lineage per active partner and starts delivery
// immediately. It returns the fan-out count; delivery outcomes are absorbed
// into DispatchAttempt state and never surfaced to the event producer.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.WebhookEvent) (int, error) {
	partners, err := d.registry.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("Dispatch: list partners: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("Dispatch: marshal event: %w", err)
	}

	started := 0
	for i := range partners {
		partner := partners[i]

		attempt := &domain.DispatchAttempt{
			ID:           uuid.New(),
			EventID:      event.ID,
			PartnerID:    partner.ID,
			Status:       domain.DispatchStatusPending,
			AttemptIndex: 0,
			EventPayload: payload,
			CreatedAt:    d.now(),
			UpdatedAt:    d.now(),
		}
		if err := d.attempts.Create(ctx, attempt); err != nil {
			d.logger.Error("failed to create dispatch attempt",
				"event_id", event.ID,
				"partner_id", partner.ID,
				"error", err,
			)
			continue
		}

		d.startLineage(event, &partner, attempt, 0)
		started++
	}

	d.logger.Info("event fanned out",
		"event_id", event.ID,
		"event_type", event.EventType,
		"partners", started,
	)
	return started, nil
}

// Resume reloads lineages left in pending or retrying and continues them from
// the recorded attempt index, so exhaustion accounting survives a restart
// instead of starting over from zero.
func (d *Dispatcher) Resume(ctx context.Context) error {
	inFlight, err := d.attempts.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("Resume: %w", err)
	}

	resumed := 0
	for i := range inFlight {
		attempt := inFlight[i]

		var event domain.WebhookEvent
		if err := json.Unmarshal(attempt.EventPayload, &event); err != nil {
			d.failLineage(ctx, &attempt, fmt.Errorf("Resume: decode payload: %w", err))
			continue
		}

		partner, err := d.registry.Get(ctx, attempt.PartnerID)
		if err != nil {
			d.failLineage(ctx, &attempt, fmt.Errorf("Resume: load partner: %w", err))
			continue
		}

		var initialDelay time.Duration
		if attempt.Status == domain.DispatchStatusRetrying {
			if attempt.NextAttemptAt != nil {
				initialDelay = time.Until(*attempt.NextAttemptAt)
			}
			// The recorded index is the attempt that failed; the
			// scheduled redelivery runs at the next index.
			attempt.AttemptIndex++
		}

		d.startLineage(&event, partner, &attempt, initialDelay)
		resumed++
	}

	if resumed > 0 {
		d.logger.Info("resumed in-flight dispatch lineages", "count", resumed)
	}
	return nil
}

// Wait blocks until every running lineage goroutine has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown wakes lineages parked in backoff and waits for them to return.
// Rows left in retrying are picked back up by Resume on the next boot.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) startLineage(event *domain.WebhookEvent, partner *domain.Partner, attempt *domain.DispatchAttempt, initialDelay time.Duration) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx := d.baseCtx
		if initialDelay > 0 && !d.wait(ctx, initialDelay) {
			return
		}
		d.runLineage(ctx, event, partner, attempt)
	}()
}

// runLineage drives one (event, partner) pair through the state machine.
// Attempts are strictly sequential: the next try only starts after the
// previous outcome is persisted.
func (d *Dispatcher) runLineage(ctx context.Context, event *domain.WebhookEvent, partner *domain.Partner, attempt *domain.DispatchAttempt) {
	log := d.logger.With(
		"event_id", attempt.EventID,
		"partner_id", attempt.PartnerID,
	)
	maxAttempts := partner.EffectiveMaxAttempts(d.policy.MaxAttempts)

	for {
		delay, done := d.attemptDelivery(ctx, event, partner, attempt, maxAttempts, log)
		if done {
			return
		}

		if !d.wait(ctx, delay) {
			// Shutdown mid-backoff. The row stays in retrying and
			// Resume picks the lineage back up on the next boot.
			return
		}

		attempt.AttemptIndex++
		attempt.NextAttemptAt = nil
	}
}

// attemptDelivery runs one delivery under a concurrency permit. The permit
// covers only the active attempt; a lineage parked in backoff holds no slot,
// so one partner's retry timeline cannot starve another partner's deliveries.
// Returns done=false with the backoff delay when a retry is scheduled.
func (d *Dispatcher) attemptDelivery(ctx context.Context, event *domain.WebhookEvent, partner *domain.Partner, attempt *domain.DispatchAttempt, maxAttempts int, log *slog.Logger) (time.Duration, bool) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		log.Warn("delivery not attempted, context cancelled")
		return 0, true
	}
	defer d.sem.Release(1)

	result := d.transport.Deliver(ctx, partner, event)

	if result.Success {
		attempt.Status = domain.DispatchStatusSent
		attempt.NextAttemptAt = nil
		if err := d.update(ctx, attempt); err != nil {
			log.Error("failed to record sent attempt", "error", err)
		}
		log.Info("webhook delivered",
			"attempt", attempt.AttemptIndex,
			"status_code", result.StatusCode,
		)
		return 0, true
	}

	errMsg := "delivery failed"
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	attempt.Status = domain.DispatchStatusFailed
	attempt.LastError = &errMsg
	if err := d.update(ctx, attempt); err != nil {
		log.Error("failed to record failed attempt", "error", err)
		return 0, true
	}

	if !d.policy.ShouldRetry(attempt.AttemptIndex, maxAttempts) {
		attempt.Status = domain.DispatchStatusExhausted
		if err := d.update(ctx, attempt); err != nil {
			log.Error("failed to record exhausted attempt", "error", err)
		}
		log.Error("dispatch lineage exhausted",
			"attempts", attempt.AttemptIndex+1,
			"last_error", errMsg,
		)
		return 0, true
	}

	delay := d.policy.BackoffDelay(attempt.AttemptIndex)
	next := d.now().Add(delay)
	attempt.Status = domain.DispatchStatusRetrying
	attempt.NextAttemptAt = &next
	if err := d.update(ctx, attempt); err != nil {
		log.Error("failed to schedule retry", "error", err)
		// A row stuck at failed is invisible to Resume; terminate the
		// lineage so the outcome stays discoverable.
		d.failLineage(ctx, attempt, fmt.Errorf("schedule retry: %w", err))
		return 0, true
	}
	log.Warn("delivery failed, retry scheduled",
		"attempt", attempt.AttemptIndex,
		"backoff_ms", delay.Milliseconds(),
		"error", errMsg,
	)
	return delay, false
}

func (d *Dispatcher) failLineage(ctx context.Context, attempt *domain.DispatchAttempt, cause error) {
	msg := cause.Error()
	attempt.Status = domain.DispatchStatusExhausted
	attempt.LastError = &msg
	if err := d.update(ctx, attempt); err != nil {
		d.logger.Error("failed to terminate unresumable lineage",
			"event_id", attempt.EventID,
			"partner_id", attempt.PartnerID,
			"error", err,
		)
	}
	d.logger.Error("dispatch lineage not resumable",
		"event_id", attempt.EventID,
		"partner_id", attempt.PartnerID,
		"error", cause,
	)
}

func (d *Dispatcher) update(ctx context.Context, attempt *domain.DispatchAttempt) error {
	attempt.UpdatedAt = d.now()
	return d.attempts.Update(ctx, attempt)
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
