package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier posts events as JSON to an external alerting endpoint.
type WebhookNotifier struct {
	url  string
	http *resty.Client
}

func NewWebhookNotifier(cfg Config) *WebhookNotifier {
	c := resty.New().
		SetTimeout(cfg.WebhookTimeout).
		SetRetryCount(cfg.WebhookRetries).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.WebhookToken != "" {
		c.SetAuthToken(cfg.WebhookToken)
	}
	return &WebhookNotifier{url: cfg.WebhookURL, http: c}
}

func (w *WebhookNotifier) Notify(ctx context.Context, e Event) error {
	resp, err := w.http.R().
		SetContext(ctx).
		SetBody(e).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
