package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Notifier is the external notification channel. The engine only
// records the success/failure outcome for circuit-breaker accounting;
// delivery mechanics belong to the provider.
type Notifier interface {
	Send(ctx context.Context, accountID, title, body string, data map[string]string) error
}

// WebhookNotifier posts notification payloads to a provider endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for the given endpoint. The
// per-send timeout is enforced by the caller's context, not here.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{},
	}
}

type webhookPayload struct {
	AccountID string            `json:"account_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
}

// Send delivers one notification. Any non-2xx response counts as a
// failure.
func (n *WebhookNotifier) Send(ctx context.Context, accountID, title, body string, data map[string]string) error {
	payload, err := json.Marshal(webhookPayload{
		AccountID: accountID,
		Title:     title,
		Body:      body,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to the log instead of an external
// channel. Used when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, accountID, title, body string, data map[string]string) error {
	slog.Info("NOTIFY",
		slog.String("account", accountID),
		slog.String("title", title),
		slog.String("body", body),
		slog.Any("data", data))
	return nil
}
