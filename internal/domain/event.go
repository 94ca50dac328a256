package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypePaymentCreated   EventType = "payment.created"
	EventTypePaymentConfirmed EventType = "payment.confirmed"
	EventTypePaymentFailed    EventType = "payment.failed"
	EventTypePaymentRefunded  EventType = "payment.refunded"
	EventTypePaymentCancelled EventType = "payment.cancelled"
)

// WebhookEvent is the canonical form of a payment lifecycle change. It is
// built once by the normalizer and read-only everywhere downstream.
type WebhookEvent struct {
	ID            string            `json:"id"`
	EventType     EventType         `json:"event_type"`
	TransactionID string            `json:"transaction_id"`
	OrderID       string            `json:"order_id"`
	Status        string            `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Timestamp     time.Time         `json:"timestamp"`
	Provider      string            `json:"provider"`
	Metadata      map[string]string `json:"metadata"`
}
