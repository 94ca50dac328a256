package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caldermfg/payment-webhooks/internal/domain"
)

// statusMaps holds the per-provider translation tables from raw provider
// statuses to the canonical vocabulary. Lookups are case-insensitive on both
// the provider name and the raw status.
var statusMaps = map[string]map[string]string{
	"stripe": {
		"succeeded":               "completed",
		"requires_payment_method": "failed",
		"requires_action":         "pending",
		"processing":              "pending",
		"canceled":                "cancelled",
	},
	"paypal": {
		"completed": "completed",
		"denied":    "failed",
		"refunded":  "refunded",
		"voided":    "cancelled",
		"pending":   "pending",
	},
}

// NormalizeStatus maps a provider-specific status onto the canonical
// vocabulary. Unknown providers and unmapped statuses pass through unchanged;
// there is no canonical equivalent to substitute, so rejecting them would turn
// every new provider status into a hard failure.
func NormalizeStatus(providerStatus, providerName string) string {
	table, ok := statusMaps[strings.ToLower(providerName)]
	if !ok {
		return providerStatus
	}
	canonical, ok := table[strings.ToLower(providerStatus)]
	if !ok {
		return providerStatus
	}
	return canonical
}

// RawEvent is the provider payload as delivered by the payment processing
// logic, before normalization.
type RawEvent struct {
	ID            string            `json:"id,omitempty"`
	TransactionID string            `json:"transaction_id"`
	OrderID       string            `json:"order_id"`
	Status        string            `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Timestamp     *time.Time        `json:"timestamp,omitempty"`
	Provider      string            `json:"provider"`
	EventType     string            `json:"event_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

var eventTypes = map[domain.EventType]struct{}{
	domain.EventTypePaymentCreated:   {},
	domain.EventTypePaymentConfirmed: {},
	domain.EventTypePaymentFailed:    {},
	domain.EventTypePaymentRefunded:  {},
	domain.EventTypePaymentCancelled: {},
}

// ToCanonicalEvent builds the immutable canonical event from a raw provider
// payload. The event id falls back to the transaction id, the timestamp
// defaults to now, and metadata defaults to an empty map.
func ToCanonicalEvent(raw RawEvent) (*domain.WebhookEvent, error) {
	id := raw.ID
	if id == "" {
		id = raw.TransactionID
	}
	if id == "" {
		return nil, fmt.Errorf("ToCanonicalEvent: missing id and transaction_id: %w", domain.ErrInvalidEvent)
	}

	eventType := domain.EventType(raw.EventType)
	if _, ok := eventTypes[eventType]; !ok {
		return nil, fmt.Errorf("ToCanonicalEvent: unknown event_type %q: %w", raw.EventType, domain.ErrInvalidEvent)
	}

	if !raw.Amount.IsPositive() {
		return nil, fmt.Errorf("ToCanonicalEvent: %w", domain.ErrInvalidAmount)
	}

	ts := time.Now().UTC()
	if raw.Timestamp != nil {
		ts = raw.Timestamp.UTC()
	}

	metadata := raw.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	return &domain.WebhookEvent{
		ID:            id,
		EventType:     eventType,
		TransactionID: raw.TransactionID,
		OrderID:       raw.OrderID,
		Status:        NormalizeStatus(raw.Status, raw.Provider),
		Amount:        raw.Amount,
		Currency:      raw.Currency,
		Timestamp:     ts,
		Provider:      raw.Provider,
		Metadata:      metadata,
	}, nil
}
