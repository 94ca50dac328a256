// Package registry owns partner records: registration, lookup, updates, and
// deactivation. The webhook secret is minted here exactly once; callers only
// ever see it again on the partner's own side of the wire.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caldermfg/payment-webhooks/internal/domain"
)

type partnerRepo interface {
	Create(ctx context.Context, partner *domain.Partner) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Partner, error)
	ListActive(ctx context.Context) ([]domain.Partner, error)
	Update(ctx context.Context, partner *domain.Partner) error
}

type Service struct {
	partners partnerRepo
	now      func() time.Time
}

func NewService(partners partnerRepo) *Service {
	return &Service{
		partners: partners,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type RegisterInput struct {
	Name          string
	Email         string
	WebhookURL    string
	RetryAttempts *int
}

// Register creates a partner with a fresh id and signing secret, active by
// default. The returned Partner is the only place the secret appears in
// plaintext outside the dispatch path.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.Partner, error) {
	if err := validateName(in.Name); err != nil {
		return nil, err
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := validateWebhookURL(in.WebhookURL); err != nil {
		return nil, err
	}
	if in.RetryAttempts != nil && *in.RetryAttempts < 0 {
		return nil, fmt.Errorf("Register: negative retry attempts: %w", domain.ErrInvalidRequest)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	now := s.now()
	partner := &domain.Partner{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(in.Name),
		Email:         in.Email,
		WebhookURL:    in.WebhookURL,
		WebhookSecret: secret,
		IsActive:      true,
		RetryAttempts: in.RetryAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.partners.Create(ctx, partner); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	return partner, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Partner, error) {
	partner, err := s.partners.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return partner, nil
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Partner, error) {
	partners, err := s.partners.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	return partners, nil
}

type UpdateInput struct {
	Name          *string
	Email         *string
	WebhookURL    *string
	IsActive      *bool
	RetryAttempts *int
}

// Update applies the provided fields. Only name, email, webhook URL, the
// active flag, and the retry override are mutable; the secret is not an input
// here at all.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*domain.Partner, error) {
	partner, err := s.partners.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return nil, err
		}
		partner.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		if err := validateEmail(*in.Email); err != nil {
			return nil, err
		}
		partner.Email = *in.Email
	}
	if in.WebhookURL != nil {
		if err := validateWebhookURL(*in.WebhookURL); err != nil {
			return nil, err
		}
		partner.WebhookURL = *in.WebhookURL
	}
	if in.IsActive != nil {
		partner.IsActive = *in.IsActive
	}
	if in.RetryAttempts != nil {
		if *in.RetryAttempts < 0 {
			return nil, fmt.Errorf("Update: negative retry attempts: %w", domain.ErrInvalidRequest)
		}
		partner.RetryAttempts = in.RetryAttempts
	}

	partner.UpdatedAt = s.now()
	if err := s.partners.Update(ctx, partner); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	return partner, nil
}

// Deactivate stops new dispatch lineages for the partner. Attempts already
// scheduled keep running; the dispatcher does not consult the flag mid-lineage.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	inactive := false
	if _, err := s.Update(ctx, id, UpdateInput{IsActive: &inactive}); err != nil {
		return fmt.Errorf("Deactivate: %w", err)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("validateName: empty name: %w", domain.ErrInvalidRequest)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("validateEmail: %q: %w", email, domain.ErrInvalidEmail)
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("validateWebhookURL: %q: %w", raw, domain.ErrInvalidURL)
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generateSecret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
