package resilience

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxRetries       int           `envconfig:"ORDER_MAX_RETRIES" default:"2"`
	BackoffBase      time.Duration `envconfig:"ORDER_BACKOFF_BASE" default:"500ms"`
	BackoffMax       time.Duration `envconfig:"ORDER_BACKOFF_MAX" default:"8s"`
	BreakerFailures  int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerSuccesses int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"1"`
	BreakerCoolDown  time.Duration `envconfig:"BREAKER_COOL_DOWN" default:"30s"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}

func (c *Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BackoffBase,
		MaxDelay:   c.BackoffMax,
	}
}

func (c *Config) BreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: c.BreakerFailures,
		SuccessThreshold: c.BreakerSuccesses,
		CoolDown:         c.BreakerCoolDown,
	}
}
