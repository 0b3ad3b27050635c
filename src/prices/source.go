package prices

import (
	"context"
	"errors"
	"fmt"

	"orderengine/src/connectors"
	"orderengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var ErrNoPrice = errors.New("no price available")

// Source returns the last traded price of a symbol as seen from a credential's venue.
type Source interface {
	LastPrice(ctx context.Context, cred *model.ExchangeCredential, symbol string) (decimal.Decimal, error)
}

type AdapterProvider interface {
	For(cred *model.ExchangeCredential) (connectors.Adapter, error)
}

// VenueSource asks the credential's own venue.
type VenueSource struct {
	adapters AdapterProvider
}

func NewVenueSource(adapters AdapterProvider) *VenueSource {
	return &VenueSource{adapters: adapters}
}

func (s *VenueSource) LastPrice(ctx context.Context, cred *model.ExchangeCredential, symbol string) (decimal.Decimal, error) {
	if cred == nil {
		return decimal.Zero, fmt.Errorf("%w: no credential for %s", ErrNoPrice, symbol)
	}
	adapter, err := s.adapters.For(cred)
	if err != nil {
		return decimal.Zero, err
	}
	return adapter.LastPrice(ctx, symbol)
}

// Chain tries each source in order and returns the first positive price.
type Chain []Source

func (c Chain) LastPrice(ctx context.Context, cred *model.ExchangeCredential, symbol string) (decimal.Decimal, error) {
	var errs []error
	for i, src := range c {
		price, err := src.LastPrice(ctx, cred, symbol)
		if err == nil && price.IsPositive() {
			if i > 0 {
				logger.WithFields(map[string]interface{}{
					"component": "prices",
					"symbol":    symbol,
					"source":    i,
				}).Debug("price served by fallback source")
			}
			return price, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: source %d returned %s", ErrNoPrice, i, price.String())
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return decimal.Zero, ErrNoPrice
	}
	return decimal.Zero, errors.Join(errs...)
}
