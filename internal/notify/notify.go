package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// Notifier is told about every run that reaches a terminal status.
type Notifier interface {
	Notify(ctx context.Context, r *run.DeploymentRun) error
}

// Message is the payload sent to webhooks.
type Message struct {
	RunID    string                     `json:"runId"`
	Stage    string                     `json:"stage"`
	Status   run.Status                 `json:"status"`
	Error    string                     `json:"error,omitempty"`
	Counts   map[run.ComponentState]int `json:"counts"`
	Failed   []string                   `json:"failed,omitempty"`
	Skipped  map[string]string          `json:"skipped,omitempty"`
	Duration string                     `json:"duration,omitempty"`
	Text     string                     `json:"text"`
}

// NewMessage summarises r.
func NewMessage(r *run.DeploymentRun) Message {
	m := Message{
		RunID:  r.ID,
		Stage:  r.Stage,
		Status: r.Status,
		Error:  r.Error,
		Counts: r.Counts(),
	}
	for _, cs := range r.Ordered() {
		switch cs.State {
		case run.StateFailed, run.StateRollbackFailed:
			m.Failed = append(m.Failed, cs.Name)
		case run.StateSkipped:
			if m.Skipped == nil {
				m.Skipped = map[string]string{}
			}
			m.Skipped[cs.Name] = cs.SkipReason
		}
	}
	if r.FinishedAt != nil {
		m.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
	}
	m.Text = fmt.Sprintf("wavectl run %s (%s): %s, %d healthy, %d failed, %d skipped",
		r.ID, r.Stage, r.Status, m.Counts[run.StateHealthy], m.Counts[run.StateFailed], m.Counts[run.StateSkipped])
	return m
}

// Log writes the summary to the log.
type Log struct{}

func (Log) Notify(_ context.Context, r *run.DeploymentRun) error {
	msg := NewMessage(r)
	switch r.Status {
	case run.StatusSucceeded, run.StatusPlanned, run.StatusRolledBack:
		logging.Info("Notify", "%s", msg.Text)
	default:
		logging.Warn("Notify", "%s", msg.Text)
	}
	return nil
}

// Webhook POSTs the summary as JSON.
type Webhook struct {
	URL    string
	client *resty.Client
}

// NewWebhook creates a webhook notifier with a short timeout and a couple of
// retries on transport errors and 5xx responses.
func NewWebhook(url string) *Webhook {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	return &Webhook{URL: url, client: client}
}

func (w *Webhook) Notify(ctx context.Context, r *run.DeploymentRun) error {
	resp, err := w.client.R().SetContext(ctx).SetBody(NewMessage(r)).Post(w.URL)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.URL, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s: unexpected status %d", w.URL, resp.StatusCode())
	}
	return nil
}

// Multi fans out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r *run.DeploymentRun) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromURL returns the log notifier, plus a webhook when url is set.
func FromURL(url string) Notifier {
	if url == "" {
		return Log{}
	}
	return Multi{Log{}, NewWebhook(url)}
}
