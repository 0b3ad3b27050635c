package signals

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Enabled bool `envconfig:"REVERSAL_SIGNALS_ENABLED" default:"true"`

	// only signals received within this window count as a reversal
	Lookback time.Duration `envconfig:"REVERSAL_SIGNAL_LOOKBACK" default:"15m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
