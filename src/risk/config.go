package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	DefaultLeverage        int           `envconfig:"RISK_DEFAULT_LEVERAGE" default:"1"`
	MaxLeverage            int           `envconfig:"RISK_MAX_LEVERAGE" default:"10"`
	MaxPositionPct         float64       `envconfig:"RISK_MAX_POSITION_PCT" default:"50"`
	MaxConcurrentPositions int           `envconfig:"RISK_MAX_CONCURRENT_POSITIONS" default:"2"`
	DailyVolumeCap         float64       `envconfig:"RISK_DAILY_VOLUME_CAP" default:"100000"`
	MinBalance             float64       `envconfig:"RISK_MIN_BALANCE" default:"10"`
	BalanceStaleness       time.Duration `envconfig:"BALANCE_STALENESS" default:"3m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Limits returns the engine-wide defaults a user's risk profile falls back to.
func (c Config) Limits() Limits {
	return Limits{
		MaxLeverage:            c.MaxLeverage,
		MaxPositionPct:         decimal.NewFromFloat(c.MaxPositionPct),
		MaxConcurrentPositions: c.MaxConcurrentPositions,
		DailyVolumeCap:         decimal.NewFromFloat(c.DailyVolumeCap),
		MinBalance:             decimal.NewFromFloat(c.MinBalance),
		Staleness:              c.BalanceStaleness,
	}
}
