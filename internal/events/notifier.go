// Package events posts entity-state notifications to a configured webhook so
// downstream consumers (dashboards, CRM sync) can react to pipeline progress.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event types emitted by the pipeline.
const (
	EventOpportunityScored  = "opportunity_scored"
	EventMatchCreated       = "match_created"
	EventMatchScored        = "match_scored"
	EventMatchStatusChanged = "match_status_changed"
)

// Event is the webhook payload envelope.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Notifier delivers events over HTTP. Delivery is best-effort: failures are
// logged and dropped, never surfaced to the pipeline.
type Notifier struct {
	url string
	hc  *http.Client
}

// NewNotifier creates a Notifier. An empty URL disables delivery; Emit on a
// disabled or nil Notifier is a no-op.
func NewNotifier(url string) *Notifier {
	return &Notifier{
		url: url,
		hc:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Emit posts one event to the webhook.
func (n *Notifier) Emit(ctx context.Context, eventType string, payload any) {
	if n == nil || n.url == "" {
		return
	}
	log := zap.L().With(zap.String("component", "events"), zap.String("event", eventType))

	body, err := json.Marshal(Event{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		log.Warn("marshal event failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		log.Warn("build event request failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.hc.Do(req)
	if err != nil {
		log.Warn("event delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn("event rejected", zap.Int("status", resp.StatusCode))
		return
	}
	log.Debug("event delivered")
}
