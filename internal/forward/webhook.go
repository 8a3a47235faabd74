// Package forward delivers postings to the downstream webhook consumer.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobsync/internal/logging"
	"jobsync/internal/models"
	"jobsync/internal/telemetry"
)

// Outcome is the result of one delivery attempt. It is a value, never an error.
type Outcome string

const (
	NotApplicable Outcome = "not_applicable"
	Delivered     Outcome = "delivered"
	Failed        Outcome = "failed"
)

// Forwarded maps the outcome to the tri-state reported to API clients: nil when no
// webhook is configured.
func (o Outcome) Forwarded() *bool {
	switch o {
	case Delivered:
		b := true
		return &b
	case Failed:
		b := false
		return &b
	default:
		return nil
	}
}

// Notifier is what ingestion and sync passes use to hand a posting downstream.
type Notifier interface {
	Forward(ctx context.Context, p models.JobPosting) Outcome
}

// Webhook posts one posting per call to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
	log    *logging.Logger
}

// NewWebhook builds a forwarder; an empty url makes every Forward a no-op.
func NewWebhook(url string, timeout time.Duration, log *logging.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.With("component", "webhook"),
	}
}

// Enabled reports whether a target URL is configured.
func (w *Webhook) Enabled() bool {
	return w.url != ""
}

// Forward attempts a single delivery. Transport errors and non-2xx responses are
// reported as Failed; nothing is retried.
func (w *Webhook) Forward(ctx context.Context, p models.JobPosting) Outcome {
	if !w.Enabled() {
		return NotApplicable
	}
	outcome := Delivered
	if err := w.post(ctx, p); err != nil {
		w.log.Warn("webhook delivery failed", "job_url", p.JobURL, "err", err)
		outcome = Failed
	}
	telemetry.ForwardOutcomes.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (w *Webhook) post(ctx context.Context, p models.JobPosting) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal posting: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
