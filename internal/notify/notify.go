// Package notify delivers trading events to external sinks. Delivery is
// best-effort: a failing sink is logged and never blocks the pipeline.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is a notification payload.
type Event struct {
	Type       string    `json:"type"`
	Instrument string    `json:"instrument,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event types.
const (
	EventSignal    = "signal"
	EventFill      = "fill"
	EventRejection = "rejection"
	EventAlert     = "alert"
)

// Notifier delivers events to a sink.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// WebhookNotifier POSTs events as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a webhook sink.
func NewWebhookNotifier(url string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Notify POSTs the event. A non-2xx response is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an event out to several notifiers, logging failures.
type Multi struct {
	sinks  []Notifier
	logger zerolog.Logger
}

// NewMulti combines sinks. A nil or empty list produces a no-op notifier.
func NewMulti(logger zerolog.Logger, sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks, logger: logger.With().Str("component", "notify").Logger()}
}

// Notify delivers to every sink; individual failures are logged, not returned.
func (m *Multi) Notify(ctx context.Context, ev Event) error {
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			m.logger.Warn().Err(err).Str("type", ev.Type).Msg("notification delivery failed")
		}
	}
	return nil
}
