// Package notify implements the fire-and-forget notification collaborator.
// Notifications are best effort by contract: senders log failures and move
// on, and no state change is ever rolled back because a notification did
// not go out.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	soltok "github.com/soltok-labs/soltok/go"
	"github.com/soltok-labs/soltok/go/pkg/logger"
)

// WebhookNotifier POSTs each event as JSON to a configured endpoint
// (typically the email relay that formats and sends customer mail).
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Event string        `json:"event"`
	Order *soltok.Order `json:"order"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, eventType string, order *soltok.Order) error {
	body, err := json.Marshal(webhookPayload{Event: eventType, Order: order})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to the log. Default when no webhook is
// configured.
type LogNotifier struct {
	Log logger.Logger
}

func (n *LogNotifier) Notify(_ context.Context, eventType string, order *soltok.Order) error {
	n.Log.Infof("notify: %s order=%s tracking=%s", eventType, order.ID, order.TrackingNumber)
	return nil
}

var (
	_ soltok.Notifier = (*WebhookNotifier)(nil)
	_ soltok.Notifier = (*LogNotifier)(nil)
)
