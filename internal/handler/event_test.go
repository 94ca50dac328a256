package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldermfg/payment-webhooks/internal/dispatch"
	"github.com/caldermfg/payment-webhooks/internal/domain"
)

const testSigningSecret = "test-signing-secret"

type mockDispatcher struct {
	dispatched *domain.WebhookEvent
	partners   int
	err        error
}

func (m *mockDispatcher) Dispatch(_ context.Context, event *domain.WebhookEvent) (int, error) {
	m.dispatched = event
	return m.partners, m.err
}

func validEventBody() string {
	return `{
		"transaction_id": "txn_123",
		"order_id": "ord_456",
		"status": "succeeded",
		"amount": "49.99",
		"currency": "USD",
		"provider": "stripe",
		"event_type": "payment.confirmed"
	}`
}

func postEvent(h *EventHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Internal-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	return rec
}

func TestEventHandler_Receive(t *testing.T) {
	dispatcher := &mockDispatcher{partners: 3}
	h := NewEventHandler(dispatcher, testSigningSecret)

	body := validEventBody()
	rec := postEvent(h, body, dispatch.Sign([]byte(body), testSigningSecret))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, dispatcher.dispatched)
	assert.Equal(t, "txn_123", dispatcher.dispatched.ID, "id falls back to transaction id")
	assert.Equal(t, "completed", dispatcher.dispatched.Status, "status is normalized before dispatch")

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "txn_123", data["event_id"])
	assert.Equal(t, float64(3), data["partners"])
}

func TestEventHandler_ReceiveBadSignature(t *testing.T) {
	dispatcher := &mockDispatcher{}
	h := NewEventHandler(dispatcher, testSigningSecret)

	body := validEventBody()

	t.Run("missing", func(t *testing.T) {
		rec := postEvent(h, body, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := postEvent(h, body, dispatch.Sign([]byte(body), "other-secret"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Nil(t, dispatcher.dispatched)
}

func TestEventHandler_ReceiveMalformedJSON(t *testing.T) {
	h := NewEventHandler(&mockDispatcher{}, testSigningSecret)

	body := `{not json`
	rec := postEvent(h, body, dispatch.Sign([]byte(body), testSigningSecret))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventHandler_ReceiveRejectedByNormalizer(t *testing.T) {
	dispatcher := &mockDispatcher{}
	h := NewEventHandler(dispatcher, testSigningSecret)

	body := `{
		"transaction_id": "txn_123",
		"status": "succeeded",
		"amount": "49.99",
		"currency": "USD",
		"provider": "stripe",
		"event_type": "payment.teleported"
	}`
	rec := postEvent(h, body, dispatch.Sign([]byte(body), testSigningSecret))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, dispatcher.dispatched, "a rejected event never reaches the dispatcher")

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_EVENT", resp.Error.Code)
}
