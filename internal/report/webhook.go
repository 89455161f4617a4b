package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// WebhookNotifier posts events as JSON to a configured endpoint. Events
// below the minimum severity are dropped.
type WebhookNotifier struct {
	url         string
	minSeverity Severity
	httpClient  *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(url string, minSeverity Severity) *WebhookNotifier {
	return &WebhookNotifier{
		url:         url,
		minSeverity: minSeverity,
		httpClient: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

// eventPayload is the wire form of an event.
type eventPayload struct {
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  string            `json:"severity"`
	Action    string            `json:"action,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Commit    *commitPayload    `json:"commit,omitempty"`
	Timestamp string            `json:"timestamp"`
}

type commitPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Notify posts the event unless it falls below the minimum severity.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if event.Severity < n.minSeverity {
		return nil
	}

	payload := eventPayload{
		Title:     event.Title,
		Message:   event.Message,
		Severity:  event.Severity.String(),
		Action:    event.Action,
		Fields:    event.Fields,
		Timestamp: event.Time.Format(time.RFC3339),
	}
	if event.Commit != nil {
		payload.Commit = &commitPayload{
			ID:      event.Commit.ID,
			Message: event.Commit.Message,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
