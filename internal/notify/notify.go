// Package notify delivers completion notices for finished sheets.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mna-news/translate-runner/internal/config"
)

// Message is one notification.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Notifier sends messages. Callers log failures and do not retry.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a webhook notifier when a URL is configured, otherwise a
// notifier that only logs.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return LogNotifier{}
	}
	return NewWebhook(cfg.WebhookURL)
}

// webhookPayload is the JSON body posted to the webhook.
type webhookPayload struct {
	Message
	Timestamp time.Time `json:"timestamp"`
}

// WebhookNotifier posts messages as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates a WebhookNotifier.
func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(webhookPayload{Message: msg, Timestamp: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	zap.L().Info("notify: message sent",
		zap.String("subject", msg.Subject),
		zap.Int("recipients", len(msg.To)),
	)
	return nil
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	zap.L().Info("notify: message (log only)",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// Completion builds the notice sent when every in-scope row of a sheet has
// reached a terminal status.
func Completion(cfg config.NotifyConfig, sheet, location string, rows int, at time.Time) Message {
	subject := cfg.Subject
	if subject == "" {
		subject = "翻訳完了"
	}
	subject = fmt.Sprintf("%s [%s]", subject, sheet)

	var b strings.Builder
	fmt.Fprintf(&b, "Sheet %q finished: %d rows processed.\n", sheet, rows)
	if location != "" {
		fmt.Fprintf(&b, "Workbook: %s\n", location)
	}
	fmt.Fprintf(&b, "Sent at: %s\n", at.UTC().Format(time.RFC3339))

	return Message{To: cfg.To, Subject: subject, Body: b.String()}
}
