// ABOUTME: The inbound webhook HTTP handler: raw body → verify → normalize → append → ACK → async run.
// ABOUTME: Mounted as a plain chi route; it must see the unparsed body for HMAC verification.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/scarson/riskops/internal/metrics"
	"github.com/scarson/riskops/internal/store"
)

// Trigger dispatches one asynchronous analysis run for repoURL. The webhook
// handler never waits on it; failures surface only in logs and the next
// poll of the latest/history endpoints.
type Trigger func(repoURL, mode string)

// Handler verifies, normalizes, and records inbound webhook deliveries.
type Handler struct {
	secret  string
	store   *store.Store
	trigger Trigger
	log     *slog.Logger
}

// NewHandler creates a Handler. trigger runs detached from the request.
func NewHandler(secret string, st *store.Store, trigger Trigger) *Handler {
	return &Handler{secret: secret, store: st, trigger: trigger, log: slog.Default()}
}

// ServeHTTP implements the receiver state machine: received →
// signature-verified (else 401) → parsed (else 500) → normalized → appended
// → acknowledged → [async] pipeline. The 200 is written before the pipeline
// starts; the sender never waits on analysis.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.WebhookRejected.WithLabelValues("body_read").Inc()
		http.Error(w, "could not read body", http.StatusInternalServerError)
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		metrics.WebhookRejected.WithLabelValues("signature").Inc()
		h.log.Warn("webhook signature mismatch rejected",
			"delivery", r.Header.Get("X-GitHub-Delivery"))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventName := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")

	event, err := Normalize(eventName, body, delivery, time.Now())
	if err != nil {
		metrics.WebhookRejected.WithLabelValues("payload").Inc()
		h.log.Error("webhook payload unparsable", "delivery", delivery, "error", err)
		http.Error(w, "malformed payload", http.StatusInternalServerError)
		return
	}

	h.store.AppendEvent(event)
	metrics.WebhookEventsReceived.WithLabelValues(event.Type).Inc()
	h.log.Info("webhook event received",
		"type", event.Type, "repo", event.RepoURL, "delivery", delivery)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"ok": true}) //nolint:errcheck

	if ShouldTrigger(event) {
		h.trigger(event.RepoURL, "webhook")
	}
}
