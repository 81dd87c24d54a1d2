// Package notify posts run completion events to an HTTP endpoint for
// downstream automation. Emission failures never fail the run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mediaforge/segpipe/internal/config"
	"github.com/mediaforge/segpipe/internal/logging"
)

// Event describes a finished run.
type Event struct {
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	SHA256    string    `json:"sha256,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	Segments  int       `json:"segments"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	Producer  string    `json:"producer"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter delivers run events.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
	Close() error
}

// New returns an HTTP emitter when an endpoint is configured, a no-op
// emitter otherwise.
func New(cfg config.NotifyConfig) Emitter {
	if cfg.Endpoint == "" {
		return &noopEmitter{}
	}
	return &httpEmitter{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		log: logging.Component("notify"),
	}
}

type noopEmitter struct{}

func (*noopEmitter) Emit(ctx context.Context, evt Event) error { return nil }
func (*noopEmitter) Close() error                              { return nil }

type httpEmitter struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

// Emit POSTs the event as JSON, retrying transient failures with
// exponential backoff.
func (e *httpEmitter) Emit(ctx context.Context, evt Event) error {
	evt.Timestamp = time.Now().UTC()

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var lastErr error
	delay := time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = e.post(ctx, body)
		if lastErr == nil {
			e.log.Info("event delivered", "run_id", evt.RunID, "event_type", evt.EventType)
			return nil
		}
		if attempt < 3 {
			e.log.Warn("event delivery failed, retrying",
				"attempt", attempt, "delay", delay.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("emit event to %s: %w", e.endpoint, lastErr)
}

func (e *httpEmitter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (e *httpEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
