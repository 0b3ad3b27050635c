package monitor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Interval    time.Duration `envconfig:"MONITOR_INTERVAL" default:"10s"`
	Concurrency int           `envconfig:"MONITOR_CONCURRENCY" default:"8"`
	MaxHold     time.Duration `envconfig:"POSITION_MAX_HOLD" default:"4h"`
	DrawdownPct float64       `envconfig:"POSITION_DRAWDOWN_PCT" default:"50"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
