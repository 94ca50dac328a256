package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/caldermfg/payment-webhooks/internal/domain"
)

const partnerColumns = `id, name, email, webhook_url, webhook_secret,
	is_active, retry_attempts, created_at, updated_at`

type PartnerRepository struct {
	db *sql.DB
}

func NewPartnerRepository(db *sql.DB) *PartnerRepository {
	return &PartnerRepository{db: db}
}

func (r *PartnerRepository) Create(ctx context.Context, partner *domain.Partner) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO partners (
			id, name, email, webhook_url, webhook_secret, is_active, retry_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		partner.ID, partner.Name, partner.Email, partner.WebhookURL, partner.WebhookSecret,
		partner.IsActive, partner.RetryAttempts, partner.CreatedAt, partner.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PartnerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Partner, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE id = $1`, id,
	)
	p, err := scanPartner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *PartnerRepository) ListActive(ctx context.Context) ([]domain.Partner, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE is_active ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	defer rows.Close()

	var partners []domain.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("ListActive: scan: %w", err)
		}
		partners = append(partners, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListActive: rows: %w", err)
	}
	return partners, nil
}

// Update persists the mutable partner fields. The webhook secret is never
// part of the statement; it is written once at creation.
func (r *PartnerRepository) Update(ctx context.Context, partner *domain.Partner) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE partners SET name = $1, email = $2, webhook_url = $3, is_active = $4,
			retry_attempts = $5, updated_at = $6
		WHERE id = $7`,
		partner.Name, partner.Email, partner.WebhookURL, partner.IsActive,
		partner.RetryAttempts, partner.UpdatedAt, partner.ID,
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

func scanPartner(s scanner) (*domain.Partner, error) {
	var p domain.Partner
	var retryAttempts sql.NullInt32
	err := s.Scan(
		&p.ID, &p.Name, &p.Email, &p.WebhookURL, &p.WebhookSecret,
		&p.IsActive, &retryAttempts, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if retryAttempts.Valid {
		n := int(retryAttempts.Int32)
		p.RetryAttempts = &n
	}
	return &p, nil
}
