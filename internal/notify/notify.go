// Package notify delivers lifecycle and trade events to an external webhook.
// Delivery is best effort: failures are logged and swallowed so notification
// problems never disturb the trading loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Event names emitted by the worker.
const (
	EventBotStarted     = "BOT_STARTED"
	EventBotStopped     = "BOT_STOPPED"
	EventBotError       = "BOT_ERROR"
	EventPositionOpened = "POSITION_OPENED"
	EventPositionClosed = "POSITION_CLOSED"
)

// Notifier publishes events with arbitrary payloads. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Emit(ctx context.Context, event string, payload map[string]interface{})
}

// WebhookNotifier posts events as JSON to a single webhook URL.
type WebhookNotifier struct {
	client *http.Client
	url    string
	logger zerolog.Logger
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a notifier posting to url with a 5 second
// request timeout.
func NewWebhookNotifier(url string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: 5 * time.Second},
		url:    url,
		logger: logger,
	}
}

// Emit posts the event. Failures are logged at warn level and dropped.
func (n *WebhookNotifier) Emit(ctx context.Context, event string, payload map[string]interface{}) {
	body := map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"payload":   payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		n.logger.Warn().Err(err).Str("event", event).Msg("notification marshal failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		n.logger.Warn().Err(err).Str("event", event).Msg("notification request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("event", event).Msg("notification delivery failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		n.logger.Warn().
			Str("event", event).
			Err(fmt.Errorf("webhook status %d", resp.StatusCode)).
			Msg("notification rejected")
	}
}

// NopNotifier discards all events, used when no webhook URL is configured.
type NopNotifier struct{}

var _ Notifier = (*NopNotifier)(nil)

// Emit discards the event.
func (NopNotifier) Emit(context.Context, string, map[string]interface{}) {}
