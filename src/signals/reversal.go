package signals

import (
	"context"
	"strings"
	"time"

	"orderengine/src/externalmodel"
	"orderengine/src/model"

	logger "github.com/sirupsen/logrus"
)

// ReversalSource tells whether the signal provider now points against a position.
type ReversalSource interface {
	Reversed(ctx context.Context, pos *model.Position) (bool, error)
}

// SignalFinder is the read side of the provider's signal table.
type SignalFinder interface {
	FindLatestBySymbol(ctx context.Context, symbol string, since time.Time) (*externalmodel.TradingSignal, error)
}

// TableReversalSource reads the latest provider signal for the position's symbol.
type TableReversalSource struct {
	finder   SignalFinder
	lookback time.Duration
	now      func() time.Time
}

func NewTableReversalSource(finder SignalFinder, lookback time.Duration) *TableReversalSource {
	return &TableReversalSource{
		finder:   finder,
		lookback: lookback,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reversed is true when the newest signal since the position opened (and inside
// the lookback window) holds the opposite market position. Flat is not a reversal.
func (s *TableReversalSource) Reversed(ctx context.Context, pos *model.Position) (bool, error) {
	since := pos.OpenedAt
	if s.lookback > 0 {
		if floor := s.now().Add(-s.lookback); floor.After(since) {
			since = floor
		}
	}

	var signal *externalmodel.TradingSignal
	for _, symbol := range providerSymbols(pos.Symbol) {
		found, err := s.finder.FindLatestBySymbol(ctx, symbol, since)
		if err != nil {
			return false, err
		}
		if found != nil {
			signal = found
			break
		}
	}
	if signal == nil {
		return false, nil
	}

	reversed := sideOf(signal.MarketPosition) == pos.Side.Opposite()
	if reversed {
		logger.WithFields(map[string]interface{}{
			"component":       "signals",
			"position_id":     pos.ID,
			"symbol":          pos.Symbol,
			"signal_id":       signal.ID,
			"market_position": signal.MarketPosition,
		}).Info("direction reversal signal")
	}
	return reversed, nil
}

// providerSymbols lists the names the provider may use for an engine symbol:
// the engine quotes USD pairs in USDT, the provider often does not.
func providerSymbols(symbol string) []string {
	out := []string{symbol}
	if strings.HasSuffix(symbol, "USDT") {
		out = append(out, strings.TrimSuffix(symbol, "T"))
	}
	return out
}

func sideOf(marketPosition string) model.Side {
	switch strings.ToLower(strings.TrimSpace(marketPosition)) {
	case externalmodel.MarketPositionLong:
		return model.SideLong
	case externalmodel.MarketPositionShort:
		return model.SideShort
	}
	return ""
}

// Disabled never reports a reversal.
type Disabled struct{}

func (Disabled) Reversed(context.Context, *model.Position) (bool, error) {
	return false, nil
}
