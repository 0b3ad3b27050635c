package selector

import (
	"fmt"

	"orderengine/src/model"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	BalanceScale  float64            `envconfig:"SELECTOR_BALANCE_SCALE" default:"1000"`
	VenuePriority map[string]float64 `envconfig:"SELECTOR_VENUE_WEIGHTS" default:"binance:5,bybit:0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) Weights() map[model.Venue]decimal.Decimal {
	out := make(map[model.Venue]decimal.Decimal, len(c.VenuePriority))
	for venue, w := range c.VenuePriority {
		out[model.Venue(venue)] = decimal.NewFromFloat(w)
	}
	return out
}
