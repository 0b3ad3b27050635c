package prices

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"orderengine/src/model"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
)

type tickerAPI interface {
	GetTicker(currency goex.CurrencyPair) (*goex.Ticker, error)
}

// GoexSource reads public tickers through goex. It needs no credentials and is
// used when the venue itself cannot be asked.
type GoexSource struct {
	api   tickerAPI
	quote string
}

func NewGoexSource(cfg Config) *GoexSource {
	api := binance.NewWithConfig(&goex.APIConfig{
		HttpClient: &http.Client{Timeout: cfg.FallbackTimeout},
		Endpoint:   cfg.FallbackEndpoint,
	})
	return &GoexSource{api: api, quote: cfg.QuoteAsset}
}

// pair splits BTCUSDT into BTC and USDT using the configured quote asset.
func (s *GoexSource) pair(symbol string) (goex.CurrencyPair, error) {
	symbol = strings.ToUpper(symbol)
	if !strings.HasSuffix(symbol, s.quote) || len(symbol) == len(s.quote) {
		return goex.CurrencyPair{}, fmt.Errorf("%w: %s is not quoted in %s", ErrNoPrice, symbol, s.quote)
	}
	base := strings.TrimSuffix(symbol, s.quote)
	return goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: s.quote}), nil
}

func (s *GoexSource) LastPrice(ctx context.Context, _ *model.ExchangeCredential, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	pair, err := s.pair(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	t, err := s.api.GetTicker(pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("goex ticker %s: %w", symbol, err)
	}
	if t == nil || t.Last <= 0 {
		return decimal.Zero, fmt.Errorf("%w: empty ticker for %s", ErrNoPrice, symbol)
	}
	return decimal.NewFromFloat(t.Last), nil
}
