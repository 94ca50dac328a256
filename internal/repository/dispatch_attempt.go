package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/caldermfg/payment-webhooks/internal/domain"
)

const dispatchAttemptColumns = `id, event_id, partner_id, status, attempt_index,
	next_attempt_at, last_error, event_payload, created_at, updated_at`

type DispatchAttemptRepository struct {
	db *sql.DB
}

func NewDispatchAttemptRepository(db *sql.DB) *DispatchAttemptRepository {
	return &DispatchAttemptRepository{db: db}
}

func (r *DispatchAttemptRepository) Create(ctx context.Context, attempt *domain.DispatchAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dispatch_attempts (
			id, event_id, partner_id, status, attempt_index, next_attempt_at, last_error, event_payload, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.ID, attempt.EventID, attempt.PartnerID, attempt.Status, attempt.AttemptIndex,
		attempt.NextAttemptAt, attempt.LastError, attempt.EventPayload, attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *DispatchAttemptRepository) Update(ctx context.Context, attempt *domain.DispatchAttempt) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE dispatch_attempts SET status = $1, attempt_index = $2, next_attempt_at = $3,
			last_error = $4, updated_at = $5
		WHERE id = $6`,
		attempt.Status, attempt.AttemptIndex, attempt.NextAttemptAt,
		attempt.LastError, attempt.UpdatedAt, attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *DispatchAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DispatchAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+dispatchAttemptColumns+` FROM dispatch_attempts WHERE id = $1`, id,
	)
	a, err := scanDispatchAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

// ListInFlight returns the lineages a restarted dispatcher must pick back up:
// everything not yet in a terminal state.
func (r *DispatchAttemptRepository) ListInFlight(ctx context.Context) ([]domain.DispatchAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+dispatchAttemptColumns+` FROM dispatch_attempts
		WHERE status IN ($1, $2) ORDER BY created_at`,
		domain.DispatchStatusPending, domain.DispatchStatusRetrying,
	)
	if err != nil {
		return nil, fmt.Errorf("ListInFlight: %w", err)
	}
	return collectDispatchAttempts(rows, "ListInFlight")
}

// ListFilter narrows List to a single event, partner, or status. Zero values
// match everything.
type ListFilter struct {
	EventID   string
	PartnerID uuid.UUID
	Status    domain.DispatchStatus
}

func (r *DispatchAttemptRepository) List(ctx context.Context, filter ListFilter, limit int) ([]domain.DispatchAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+dispatchAttemptColumns+` FROM dispatch_attempts
		WHERE ($1 = '' OR event_id = $1)
			AND ($2::uuid IS NULL OR partner_id = $2)
			AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC LIMIT $4`,
		filter.EventID, uuidOrNil(filter.PartnerID), string(filter.Status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return collectDispatchAttempts(rows, "List")
}

func collectDispatchAttempts(rows *sql.Rows, op string) ([]domain.DispatchAttempt, error) {
	defer rows.Close()

	var attempts []domain.DispatchAttempt
	for rows.Next() {
		a, err := scanDispatchAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return attempts, nil
}

func scanDispatchAttempt(s scanner) (*domain.DispatchAttempt, error) {
	var a domain.DispatchAttempt
	err := s.Scan(
		&a.ID, &a.EventID, &a.PartnerID, &a.Status, &a.AttemptIndex,
		&a.NextAttemptAt, &a.LastError, &a.EventPayload, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func uuidOrNil(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
