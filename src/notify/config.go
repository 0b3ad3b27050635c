package notify

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WebhookURL     string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	WebhookToken   string        `envconfig:"NOTIFY_WEBHOOK_TOKEN"`
	WebhookTimeout time.Duration `envconfig:"NOTIFY_WEBHOOK_TIMEOUT" default:"5s"`
	WebhookRetries int           `envconfig:"NOTIFY_WEBHOOK_RETRIES" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// FromConfig returns the log notifier, plus the webhook when a URL is configured.
func FromConfig(cfg Config) Notifier {
	if cfg.WebhookURL == "" {
		return LogNotifier{}
	}
	return Multi{LogNotifier{}, NewWebhookNotifier(cfg)}
}
