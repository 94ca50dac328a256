package testutil

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caldermfg/payment-webhooks/internal/domain"
)

func SeedPartner(t *testing.T, db *sql.DB, name string, active bool) *domain.Partner {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	partner := &domain.Partner{
		ID:            uuid.New(),
		Name:          name,
		Email:         name + "@partner.test",
		WebhookURL:    "https://" + name + ".partner.test/hooks",
		WebhookSecret: "whsec_" + uuid.NewString(),
		IsActive:      active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := db.Exec(
		`INSERT INTO partners (id, name, email, webhook_url, webhook_secret, is_active, retry_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		partner.ID, partner.Name, partner.Email, partner.WebhookURL, partner.WebhookSecret,
		partner.IsActive, partner.RetryAttempts, partner.CreatedAt, partner.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed partner: %v", err)
	}
	return partner
}

func SeedDispatchAttempt(t *testing.T, db *sql.DB, eventID string, partnerID uuid.UUID, status domain.DispatchStatus) *domain.DispatchAttempt {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"id": eventID, "event_type": "payment.confirmed"})
	now := time.Now().UTC().Truncate(time.Microsecond)
	attempt := &domain.DispatchAttempt{
		ID:           uuid.New(),
		EventID:      eventID,
		PartnerID:    partnerID,
		Status:       status,
		EventPayload: payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := db.Exec(
		`INSERT INTO dispatch_attempts (id, event_id, partner_id, status, attempt_index, next_attempt_at, last_error, event_payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.ID, attempt.EventID, attempt.PartnerID, attempt.Status, attempt.AttemptIndex,
		attempt.NextAttemptAt, attempt.LastError, attempt.EventPayload, attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed dispatch attempt: %v", err)
	}
	return attempt
}
