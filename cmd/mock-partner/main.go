package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/caldermfg/payment-webhooks/internal/dispatch"
	"github.com/caldermfg/payment-webhooks/internal/logging"
)

// mock-partner is a stand-in webhook consumer for local runs. It verifies the
// delivery signature against MOCK_PARTNER_SECRET and, when FAIL_FIRST is set,
// rejects the first N deliveries of each event so retry behaviour can be
// observed end to end.
func main() {
	logging.Init("mock-partner", "info", os.Getenv("APP_ENV"))

	secret := os.Getenv("MOCK_PARTNER_SECRET")
	if secret == "" {
		slog.Error("MOCK_PARTNER_SECRET is required")
		os.Exit(1)
	}

	failFirst := 0
	if raw := os.Getenv("FAIL_FIRST"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			slog.Error("FAIL_FIRST must be a non-negative integer", "value", raw)
			os.Exit(1)
		}
		failFirst = n
	}

	addr := ":8081"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	var mu sync.Mutex
	seen := make(map[string]int)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("POST /webhooks", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("X-Webhook-Signature")
		if !dispatch.VerifySignature(body, sig, secret) {
			slog.Warn("rejected delivery with bad signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var event struct {
			ID        string `json:"id"`
			EventType string `json:"event_type"`
			Status    string `json:"status"`
		}
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		mu.Lock()
		seen[event.ID]++
		attempt := seen[event.ID]
		mu.Unlock()

		if attempt <= failFirst {
			slog.Warn("simulating delivery failure",
				"event_id", event.ID,
				"attempt", attempt,
				"fail_first", failFirst,
			)
			http.Error(w, "simulated failure", http.StatusInternalServerError)
			return
		}

		slog.Info("webhook received",
			"event_id", event.ID,
			"event_type", event.EventType,
			"status", event.Status,
			"attempt", attempt,
		)
		w.WriteHeader(http.StatusOK)
	})

	slog.Info("mock partner started", "addr", addr, "fail_first", failFirst)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
