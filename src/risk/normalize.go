package risk

import (
	"errors"
	"fmt"
	"strings"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
)

// ErrInvalidRequest marks a malformed request; it is not a risk rejection.
var ErrInvalidRequest = errors.New("invalid order request")

// derived quantities are cut to this many decimals before they reach a venue
const quantityScale = 6

// Order is a request with its sizing resolved to a quantity.
type Order struct {
	Symbol     string
	Side       model.Side
	Kind       model.OrderKind
	Quantity   decimal.Decimal
	Price      decimal.Decimal // limit price, or the reference price for market orders
	LimitPrice *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Leverage   int
	Notional   decimal.Decimal
	Margin     decimal.Decimal
}

// Normalize is the only place where Sizing turns into a quantity.
// balance_pct means a share of the available balance used as margin:
// quantity = available * pct / 100 * leverage / price.
func Normalize(req model.OrderRequest, available, referencePrice decimal.Decimal, defaultLeverage int) (Order, error) {
	req.Symbol = NormalizeSymbol(req.Symbol)
	if req.Symbol == "" {
		return Order{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if !req.Side.Valid() {
		return Order{}, fmt.Errorf("%w: unknown side %q", ErrInvalidRequest, req.Side)
	}
	if req.Leverage < 0 {
		return Order{}, fmt.Errorf("%w: negative leverage", ErrInvalidRequest)
	}

	kind := req.Kind
	if kind == "" {
		kind = model.OrderKindMarket
	}

	price := referencePrice
	switch kind {
	case model.OrderKindMarket:
	case model.OrderKindLimit:
		if req.Price == nil || !req.Price.IsPositive() {
			return Order{}, fmt.Errorf("%w: limit order requires a positive price", ErrInvalidRequest)
		}
		price = *req.Price
	default:
		return Order{}, fmt.Errorf("%w: unknown order kind %q", ErrInvalidRequest, kind)
	}
	if !price.IsPositive() {
		return Order{}, fmt.Errorf("%w: no reference price for %s", ErrInvalidRequest, req.Symbol)
	}

	leverage := req.Leverage
	if leverage == 0 {
		leverage = defaultLeverage
	}
	if leverage <= 0 {
		leverage = 1
	}
	lev := decimal.NewFromInt(int64(leverage))

	var qty decimal.Decimal
	switch req.Sizing.Mode {
	case model.SizingQuantity:
		qty = req.Sizing.Value
	case model.SizingBalancePct:
		if req.Sizing.Value.GreaterThan(hundred) {
			return Order{}, fmt.Errorf("%w: balance percentage above 100", ErrInvalidRequest)
		}
		qty = available.Mul(req.Sizing.Value).Div(hundred).Mul(lev).Div(price).Truncate(quantityScale)
	default:
		return Order{}, fmt.Errorf("%w: unknown sizing mode %q", ErrInvalidRequest, req.Sizing.Mode)
	}
	if !qty.IsPositive() {
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}

	notional := qty.Mul(price)
	return Order{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       kind,
		Quantity:   qty,
		Price:      price,
		LimitPrice: req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Leverage:   leverage,
		Notional:   notional,
		Margin:     notional.Div(lev),
	}, nil
}

// NormalizeSymbol upper-cases a symbol and quotes USD pairs in USDT.
//
//	BTCUSD  -> BTCUSDT
//	ethusd  -> ETHUSDT
//	BTCUSDT -> BTCUSDT
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.HasSuffix(s, "USDT") {
		return s
	}
	if strings.HasSuffix(s, "USD") {
		return strings.TrimSuffix(s, "USD") + "USDT"
	}
	return s
}
