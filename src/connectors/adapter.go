package connectors

import (
	"context"
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Adapter is the venue-neutral surface the engine talks to.
// Every method is a network call bounded by the client timeout and ctx.
type Adapter interface {
	Venue() model.Venue
	// Probe performs a lightweight authenticated call and syncs the server clock.
	Probe(ctx context.Context) error
	FetchBalance(ctx context.Context) (*Balance, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// SubmitOrder is idempotent on OrderParams.ClientOrderID.
	SubmitOrder(ctx context.Context, params OrderParams) (*ExecutionResult, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	// QueryOrder returns ErrOrderNotFound when the venue has no order with that client id.
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (*ExecutionResult, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Credentials struct {
	APIKey    string
	APISecret string
}

type Options struct {
	Timeout    time.Duration
	RecvWindow time.Duration
	RatePerSec float64
	RateBurst  int
	QuoteAsset string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RecvWindow <= 0 {
		o.RecvWindow = 5 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.QuoteAsset == "" {
		o.QuoteAsset = "USDT"
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.RatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, o.RateBurst)
	}
	return rate.NewLimiter(rate.Limit(o.RatePerSec), o.RateBurst)
}

type OrderParams struct {
	Symbol        string
	Side          model.Side
	Kind          model.OrderKind
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	ClientOrderID string
	ReduceOnly    bool
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// ExecutionResult is the venue's view of one order.
type ExecutionResult struct {
	VenueOrderID   string
	ClientOrderID  string
	Status         OrderStatus
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
	Commission     decimal.Decimal
	UpdatedAt      time.Time
}

// Final reports whether the venue will not change the order any more.
func (r *ExecutionResult) Final() bool {
	switch r.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Executed is true once the order is final with a non-zero fill.
func (r *ExecutionResult) Executed() bool {
	return r.Final() && r.FilledQuantity.GreaterThan(decimal.Zero)
}

type Balance struct {
	Asset     string
	Available decimal.Decimal
	Total     decimal.Decimal
}
