package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/caldermfg/payment-webhooks/internal/domain"
	"github.com/caldermfg/payment-webhooks/internal/logging"
)

// DeliveryResult captures the outcome of one outbound call to a partner
// endpoint.
type DeliveryResult struct {
	Success    bool
	StatusCode int
	Err        error
}

// Transport performs the outbound delivery of a canonical event to a single
// partner endpoint.
type Transport interface {
	Deliver(ctx context.Context, partner *domain.Partner, event *domain.WebhookEvent) DeliveryResult
}

const signatureHeader = "X-Webhook-Signature"

// HTTPTransport posts the JSON-encoded event to the partner's webhook URL,
// signing the body with the partner's secret so the partner can verify
// authenticity. Every attempt is bounded by the client timeout; a hung
// endpoint must never stall other lineages.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Deliver(ctx context.Context, partner *domain.Partner, event *domain.WebhookEvent) DeliveryResult {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(event)
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("Deliver: marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, partner.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("Deliver: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, Sign(body, partner.WebhookSecret))

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("Deliver: send: %w", err)}
	}
	defer resp.Body.Close()

	log.Debug("partner response received",
		"partner_id", partner.ID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return DeliveryResult{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("Deliver: unexpected status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	return DeliveryResult{Success: true, StatusCode: resp.StatusCode}
}

// Sign computes the hex-encoded HMAC-SHA256 of the payload under the
// partner's shared secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the payload. Used by
// partner-side receivers (and the mock partner binary) to authenticate
// deliveries.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
