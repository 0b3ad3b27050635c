package model

import "github.com/shopspring/decimal"

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

type SizingMode string

const (
	SizingQuantity   SizingMode = "quantity"
	SizingBalancePct SizingMode = "balance_pct"
)

// Sizing is either an absolute base-asset quantity or a percentage of the free balance.
type Sizing struct {
	Mode  SizingMode      `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

func Quantity(q decimal.Decimal) Sizing {
	return Sizing{Mode: SizingQuantity, Value: q}
}

func BalancePercent(pct decimal.Decimal) Sizing {
	return Sizing{Mode: SizingBalancePct, Value: pct}
}

// OrderRequest is produced by the signal layer and is never persisted as-is.
type OrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Sizing     Sizing           `json:"sizing"`
	Kind       OrderKind        `json:"kind"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Leverage   int              `json:"leverage"`
}
