package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/caldermfg/payment-webhooks/internal/dispatch"
	"github.com/caldermfg/payment-webhooks/internal/domain"
	"github.com/caldermfg/payment-webhooks/internal/logging"
	"github.com/caldermfg/payment-webhooks/internal/normalizer"
)

type eventDispatcher interface {
	Dispatch(ctx context.Context, event *domain.WebhookEvent) (int, error)
}

// EventHandler accepts payment-state-change notifications from the payment
// processing logic, normalizes them, and hands them to the dispatcher. The
// caller authenticates with an HMAC signature over the raw body.
type EventHandler struct {
	dispatcher eventDispatcher
	secret     string
}

func NewEventHandler(dispatcher eventDispatcher, secret string) *EventHandler {
	return &EventHandler{dispatcher: dispatcher, secret: secret}
}

const internalSignatureHeader = "X-Internal-Signature"

func (h *EventHandler) Receive(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read event body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get(internalSignatureHeader)
	if !dispatch.VerifySignature(body, sig, h.secret) {
		log.Warn("event signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var raw normalizer.RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		log.Warn("failed to parse event payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	event, err := normalizer.ToCanonicalEvent(raw)
	if err != nil {
		// A malformed event blocks only itself; nothing is in flight yet.
		log.Warn("event rejected by normalizer", "error", err)
		RespondDomainError(w, err)
		return
	}

	partners, err := h.dispatcher.Dispatch(r.Context(), event)
	if err != nil {
		log.Error("failed to dispatch event", "event_id", event.ID, "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("event accepted for dispatch",
		"event_id", event.ID,
		"event_type", event.EventType,
		"provider", event.Provider,
		"partners", partners,
	)

	RespondSuccess(w, http.StatusAccepted, map[string]any{
		"event_id": event.ID,
		"status":   event.Status,
		"partners": partners,
	})
}
