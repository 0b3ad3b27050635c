package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceBaseURL    string `envconfig:"BINANCE_BASE_URL" default:"https://fapi.binance.com"`
	BinanceSandboxURL string `envconfig:"BINANCE_SANDBOX_URL" default:"https://testnet.binancefuture.com"`
	BybitBaseURL      string `envconfig:"BYBIT_BASE_URL" default:"https://api.bybit.com"`
	BybitSandboxURL   string `envconfig:"BYBIT_SANDBOX_URL" default:"https://api-testnet.bybit.com"`

	CallTimeout time.Duration `envconfig:"EXCHANGE_CALL_TIMEOUT" default:"15s"`
	RecvWindow  time.Duration `envconfig:"EXCHANGE_RECV_WINDOW" default:"5s"`
	RatePerSec  float64       `envconfig:"EXCHANGE_RATE_PER_SEC" default:"10"`
	RateBurst   int           `envconfig:"EXCHANGE_RATE_BURST" default:"20"`
	QuoteAsset  string        `envconfig:"QUOTE_ASSET" default:"USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Options returns the per-client settings shared by every venue.
func (c Config) Options() Options {
	return Options{
		Timeout:    c.CallTimeout,
		RecvWindow: c.RecvWindow,
		RatePerSec: c.RatePerSec,
		RateBurst:  c.RateBurst,
		QuoteAsset: c.QuoteAsset,
	}
}
