package accounts

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BalanceSyncInterval    time.Duration `envconfig:"BALANCE_SYNC_INTERVAL" default:"90s"`
	BalanceFailureLimit    int           `envconfig:"BALANCE_SYNC_FAILURE_LIMIT" default:"3"`
	BalanceSyncConcurrency int           `envconfig:"BALANCE_SYNC_CONCURRENCY" default:"8"`

	ConnectivityInterval    time.Duration `envconfig:"CONNECTIVITY_INTERVAL" default:"5m"`
	ConnectivityConcurrency int           `envconfig:"CONNECTIVITY_CONCURRENCY" default:"4"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
