package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Workers   int `envconfig:"ENGINE_WORKERS" default:"8"`
	QueueSize int `envconfig:"ENGINE_QUEUE_SIZE" default:"256"`

	// credentials tried per order: the primary plus one failover
	MaxCredentialAttempts int `envconfig:"ORDER_MAX_CREDENTIAL_ATTEMPTS" default:"2"`

	CloseTimeout time.Duration `envconfig:"CLOSE_TIMEOUT" default:"60s"`
	QueryTimeout time.Duration `envconfig:"RECONCILE_QUERY_TIMEOUT" default:"15s"`

	ReconcileInterval    time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	ReconcileGrace       time.Duration `envconfig:"RECONCILE_GRACE" default:"2m"`
	ReconcileCancelAfter time.Duration `envconfig:"RECONCILE_CANCEL_AFTER" default:"10m"`
	ReconcileBatch       int           `envconfig:"RECONCILE_BATCH" default:"100"`

	// how far back executed fills without a commission are looked up again; zero disables it
	CommissionBackfillWindow time.Duration `envconfig:"COMMISSION_BACKFILL_WINDOW" default:"1h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
