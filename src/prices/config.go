package prices

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	FallbackEnabled  bool          `envconfig:"PRICE_FALLBACK_ENABLED" default:"true"`
	FallbackEndpoint string        `envconfig:"PRICE_FALLBACK_ENDPOINT" default:"https://api.binance.com"`
	FallbackTimeout  time.Duration `envconfig:"PRICE_FALLBACK_TIMEOUT" default:"10s"`
	QuoteAsset       string        `envconfig:"QUOTE_ASSET" default:"USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// New builds the venue source, followed by the public fallback when enabled.
func New(cfg Config, adapters AdapterProvider) Source {
	venue := NewVenueSource(adapters)
	if !cfg.FallbackEnabled {
		return venue
	}
	return Chain{venue, NewGoexSource(cfg)}
}
