package domain

import (
	"time"

	"github.com/google/uuid"
)

// Partner is a registered webhook subscriber. WebhookSecret is generated at
// registration, signs every outbound payload, and is returned to the caller
// only in the creation response.
type Partner struct {
	ID            uuid.UUID
	Name          string
	Email         string
	WebhookURL    string
	WebhookSecret string
	IsActive      bool
	RetryAttempts *int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectiveMaxAttempts resolves the partner-specific retry override against
// the service-wide default.
func (p *Partner) EffectiveMaxAttempts(defaultMax int) int {
	if p.RetryAttempts != nil && *p.RetryAttempts >= 0 {
		return *p.RetryAttempts
	}
	return defaultMax
}
