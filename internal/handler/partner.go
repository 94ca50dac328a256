package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/caldermfg/payment-webhooks/internal/domain"
	"github.com/caldermfg/payment-webhooks/internal/logging"
	"github.com/caldermfg/payment-webhooks/internal/registry"
)

type partnerRegistry interface {
	Register(ctx context.Context, in registry.RegisterInput) (*domain.Partner, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Partner, error)
	ListActive(ctx context.Context) ([]domain.Partner, error)
	Update(ctx context.Context, id uuid.UUID, in registry.UpdateInput) (*domain.Partner, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type PartnerHandler struct {
	registry partnerRegistry
}

func NewPartnerHandler(registry partnerRegistry) *PartnerHandler {
	return &PartnerHandler{registry: registry}
}

// partnerResponse is the read shape: no secret, ever.
type partnerResponse struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	WebhookURL    string    `json:"webhook_url"`
	IsActive      bool      `json:"is_active"`
	RetryAttempts *int      `json:"retry_attempts,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// createdPartnerResponse additionally carries the secret; it is used for the
// registration response only.
type createdPartnerResponse struct {
	partnerResponse
	WebhookSecret string `json:"webhook_secret"`
}

func toPartnerResponse(p *domain.Partner) partnerResponse {
	return partnerResponse{
		ID:            p.ID,
		Name:          p.Name,
		Email:         p.Email,
		WebhookURL:    p.WebhookURL,
		IsActive:      p.IsActive,
		RetryAttempts: p.RetryAttempts,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type registerPartnerRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	WebhookURL    string `json:"webhook_url"`
	RetryAttempts *int   `json:"retry_attempts,omitempty"`
}

func (h *PartnerHandler) Register(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req registerPartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	partner, err := h.registry.Register(r.Context(), registry.RegisterInput{
		Name:          req.Name,
		Email:         req.Email,
		WebhookURL:    req.WebhookURL,
		RetryAttempts: req.RetryAttempts,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	log.Info("partner registered", "partner_id", partner.ID, "name", partner.Name)

	RespondSuccess(w, http.StatusCreated, createdPartnerResponse{
		partnerResponse: toPartnerResponse(partner),
		WebhookSecret:   partner.WebhookSecret,
	})
}

func (h *PartnerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	partner, err := h.registry.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPartnerResponse(partner))
}

func (h *PartnerHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	partners, err := h.registry.ListActive(r.Context())
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	out := make([]partnerResponse, 0, len(partners))
	for i := range partners {
		out = append(out, toPartnerResponse(&partners[i]))
	}
	RespondSuccess(w, http.StatusOK, out)
}

type updatePartnerRequest struct {
	Name          *string `json:"name,omitempty"`
	Email         *string `json:"email,omitempty"`
	WebhookURL    *string `json:"webhook_url,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
	RetryAttempts *int    `json:"retry_attempts,omitempty"`
	WebhookSecret *string `json:"webhook_secret,omitempty"`
}

func (h *PartnerHandler) Update(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req updatePartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if req.WebhookSecret != nil {
		RespondDomainError(w, domain.ErrSecretImmutable)
		return
	}

	partner, err := h.registry.Update(r.Context(), id, registry.UpdateInput{
		Name:          req.Name,
		Email:         req.Email,
		WebhookURL:    req.WebhookURL,
		IsActive:      req.IsActive,
		RetryAttempts: req.RetryAttempts,
	})
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	log.Info("partner updated", "partner_id", partner.ID)
	RespondSuccess(w, http.StatusOK, toPartnerResponse(partner))
}

func (h *PartnerHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	if err := h.registry.Deactivate(r.Context(), id); err != nil {
		RespondDomainError(w, err)
		return
	}

	log.Info("partner deactivated", "partner_id", id)
	RespondSuccess(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
