package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/caldermfg/payment-webhooks/internal/domain"
	"github.com/caldermfg/payment-webhooks/internal/repository"
)

type attemptReader interface {
	List(ctx context.Context, filter repository.ListFilter, limit int) ([]domain.DispatchAttempt, error)
}

// DispatchHandler exposes dispatch history so operators can inspect lineages;
// exhausted deliveries in particular must be discoverable, not silently lost.
type DispatchHandler struct {
	attempts attemptReader
}

func NewDispatchHandler(attempts attemptReader) *DispatchHandler {
	return &DispatchHandler{attempts: attempts}
}

type dispatchAttemptResponse struct {
	ID            uuid.UUID  `json:"id"`
	EventID       string     `json:"event_id"`
	PartnerID     uuid.UUID  `json:"partner_id"`
	Status        string     `json:"status"`
	AttemptIndex  int        `json:"attempt_index"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toDispatchAttemptResponse(a *domain.DispatchAttempt) dispatchAttemptResponse {
	return dispatchAttemptResponse{
		ID:            a.ID,
		EventID:       a.EventID,
		PartnerID:     a.PartnerID,
		Status:        string(a.Status),
		AttemptIndex:  a.AttemptIndex,
		NextAttemptAt: a.NextAttemptAt,
		LastError:     a.LastError,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

const defaultHistoryLimit = 100

func (h *DispatchHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.ListFilter{
		EventID: r.URL.Query().Get("event_id"),
		Status:  domain.DispatchStatus(r.URL.Query().Get("status")),
	}

	if raw := r.URL.Query().Get("partner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondValidationError(w, []FieldError{{Field: "partner_id", Message: "must be a valid UUID"}})
			return
		}
		filter.PartnerID = id
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be between 1 and 1000"}})
			return
		}
		limit = n
	}

	h.respondList(w, r, filter, limit)
}

func (h *DispatchHandler) ListExhausted(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, repository.ListFilter{Status: domain.DispatchStatusExhausted}, defaultHistoryLimit)
}

func (h *DispatchHandler) respondList(w http.ResponseWriter, r *http.Request, filter repository.ListFilter, limit int) {
	attempts, err := h.attempts.List(r.Context(), filter, limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	out := make([]dispatchAttemptResponse, 0, len(attempts))
	for i := range attempts {
		out = append(out, toDispatchAttemptResponse(&attempts[i]))
	}
	RespondSuccess(w, http.StatusOK, out)
}
