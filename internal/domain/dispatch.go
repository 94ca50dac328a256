package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DispatchStatus string

const (
	DispatchStatusPending   DispatchStatus = "pending"
	DispatchStatusSent      DispatchStatus = "sent"
	DispatchStatusFailed    DispatchStatus = "failed"
	DispatchStatusRetrying  DispatchStatus = "retrying"
	DispatchStatusExhausted DispatchStatus = "exhausted"
)

// Terminal reports whether no further transitions may occur for a lineage.
func (s DispatchStatus) Terminal() bool {
	return s == DispatchStatusSent || s == DispatchStatusExhausted
}

// DispatchAttempt tracks the delivery lineage for one (event, partner) pair.
// AttemptIndex is 0-based and increases by exactly one per delivery try.
// EventPayload carries the serialized canonical event so a lineage left in
// pending or retrying can be resumed after a restart.
type DispatchAttempt struct {
	ID            uuid.UUID
	EventID       string
	PartnerID     uuid.UUID
	Status        DispatchStatus
	AttemptIndex  int
	NextAttemptAt *time.Time
	LastError     *string
	EventPayload  json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
