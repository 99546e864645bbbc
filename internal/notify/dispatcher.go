// ABOUTME: Routes completed analyses to the configured alert channels.
// ABOUTME: Fires only on ALERT or BLOCK_PR recommendations; delivery is detached from the pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/scarson/riskops/internal/explain"
	"github.com/scarson/riskops/internal/govern"
	"github.com/scarson/riskops/internal/metrics"
	"github.com/scarson/riskops/internal/store"
)

const deliveryTimeout = 15 * time.Second

// Dispatcher fans a completed analysis out to the configured channels.
// A nil webhook config or empty recipient list disables that channel.
type Dispatcher struct {
	client     *http.Client
	webhook    *WebhookConfig
	smtp       SMTPConfig
	recipients []string
	log        *slog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. client must be the safeurl-wrapped
// delivery client when a webhook is configured.
func NewDispatcher(client *http.Client, webhook *WebhookConfig, smtp SMTPConfig, recipients []string) *Dispatcher {
	return &Dispatcher{
		client:     client,
		webhook:    webhook,
		smtp:       smtp,
		recipients: recipients,
		log:        slog.Default(),
	}
}

// alertPayload is the JSON body delivered to the alert webhook.
type alertPayload struct {
	AnalysisID  string          `json:"analysisId"`
	RepoURL     string          `json:"repoUrl"`
	OverallRisk string          `json:"overallRisk"`
	Actions     []govern.Action `json:"actions"`
	Summary     string          `json:"summary"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// OnAnalysis is registered as a pipeline completion observer. It returns
// immediately; delivery runs detached with its own timeout.
func (d *Dispatcher) OnAnalysis(res *store.AnalysisResult) {
	if !shouldAlert(res) {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		d.deliver(ctx, res)
	}()
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// shouldAlert reports whether the recommendations warrant interrupting a human.
func shouldAlert(res *store.AnalysisResult) bool {
	for _, a := range res.RecommendedActions {
		if a.Type == govern.ActionAlert || a.Type == govern.ActionBlockPR {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliver(ctx context.Context, res *store.AnalysisResult) {
	summary := explain.Fallback(res, explain.DetailShort)

	if d.webhook != nil {
		payload, err := json.Marshal(alertPayload{
			AnalysisID:  res.ID,
			RepoURL:     res.RepoURL,
			OverallRisk: string(res.OverallRisk),
			Actions:     res.RecommendedActions,
			Summary:     summary,
			UpdatedAt:   res.UpdatedAt,
		})
		if err != nil {
			d.log.Error("alert payload marshal failed", "analysis", res.ID, "error", err)
		} else if err := Send(ctx, d.client, *d.webhook, payload); err != nil {
			metrics.AlertDeliveries.WithLabelValues("webhook", "error").Inc()
			d.log.Error("alert webhook delivery failed", "repo", res.RepoURL, "error", err)
		} else {
			metrics.AlertDeliveries.WithLabelValues("webhook", "ok").Inc()
			d.log.Info("alert webhook delivered", "repo", res.RepoURL, "analysis", res.ID)
		}
	}

	if len(d.recipients) > 0 {
		subject := fmt.Sprintf("[RiskOps] %s risk in %s", res.OverallRisk, res.RepoURL)
		text := explain.Fallback(res, explain.DetailDetailed)
		htmlBody := "<pre>" + html.EscapeString(text) + "</pre>"
		if err := EmailSend(ctx, d.smtp, d.recipients, subject, htmlBody, text); err != nil {
			metrics.AlertDeliveries.WithLabelValues("email", "error").Inc()
			d.log.Error("alert email delivery failed", "repo", res.RepoURL, "error", err)
		} else {
			metrics.AlertDeliveries.WithLabelValues("email", "ok").Inc()
			d.log.Info("alert email delivered", "repo", res.RepoURL, "recipients", len(d.recipients))
		}
	}
}
