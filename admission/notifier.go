package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pmgate/pmgate/util"
)

type webhookBody struct {
	Text string `json:"text"`
}

// WebhookNotifier pushes one-line operator alerts (protection mode engaged,
// destructive rejections) to a slack-compatible "incoming webhook" URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: util.RobustHTTPClient(),
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, msg string) error {
	body, err := json.Marshal(webhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("failed webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

// notify sends an operator alert if a notifier is configured. Notification
// failures are logged, never surfaced.
func (eng *Engine) notify(ctx context.Context, msg string) {
	if eng.Notifier == nil {
		return
	}
	if err := eng.Notifier.Send(ctx, msg); err != nil {
		eng.Logger.Warn("webhook notification failed", "err", err)
	}
}
