package tp_sl

import (
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// UnrealizedPnL of size units opened at entry and marked at price.
func UnrealizedPnL(side model.Side, entry, price, size decimal.Decimal) decimal.Decimal {
	diff := price.Sub(entry)
	if side == model.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}

// StopLossHit: a long closes at or below the stop, a short at or above it.
func StopLossHit(side model.Side, stopLoss *decimal.Decimal, price decimal.Decimal) bool {
	if stopLoss == nil || !stopLoss.IsPositive() {
		return false
	}
	if side == model.SideShort {
		return price.GreaterThanOrEqual(*stopLoss)
	}
	return price.LessThanOrEqual(*stopLoss)
}

// TakeProfitHit mirrors StopLossHit.
func TakeProfitHit(side model.Side, takeProfit *decimal.Decimal, price decimal.Decimal) bool {
	if takeProfit == nil || !takeProfit.IsPositive() {
		return false
	}
	if side == model.SideShort {
		return price.LessThanOrEqual(*takeProfit)
	}
	return price.GreaterThanOrEqual(*takeProfit)
}

// DrawdownHit reports whether the loss relative to committed margin reached limitPct.
func DrawdownHit(pnl, margin, limitPct decimal.Decimal) bool {
	if !margin.IsPositive() || !limitPct.IsPositive() || !pnl.IsNegative() {
		return false
	}
	lossPct := pnl.Neg().Div(margin).Mul(hundred)
	return lossPct.GreaterThanOrEqual(limitPct)
}

// TimeLimitHit reports whether a position opened at openedAt has been held for maxHold.
// A zero maxHold disables the limit.
func TimeLimitHit(openedAt, now time.Time, maxHold time.Duration) bool {
	return maxHold > 0 && !openedAt.IsZero() && now.Sub(openedAt) >= maxHold
}

type Rules struct {
	MaxHold     time.Duration
	DrawdownPct decimal.Decimal
}

type Input struct {
	Position        *model.Position
	Price           decimal.Decimal
	Now             time.Time
	ManualRequested bool
	Reversal        bool
}

// Evaluate returns the highest priority close trigger that fired:
// manual, stop-loss, take-profit, drawdown, time limit, reversal.
func Evaluate(in Input, rules Rules) (model.CloseReason, bool) {
	p := in.Position

	if in.ManualRequested {
		return model.CloseReasonManual, true
	}
	if StopLossHit(p.Side, p.StopLoss, in.Price) {
		return model.CloseReasonStopLoss, true
	}
	if TakeProfitHit(p.Side, p.TakeProfit, in.Price) {
		return model.CloseReasonTakeProfit, true
	}
	pnl := UnrealizedPnL(p.Side, p.EntryPrice, in.Price, p.Size)
	if DrawdownHit(pnl, p.Margin(), rules.DrawdownPct) {
		return model.CloseReasonDrawdownProtection, true
	}
	if TimeLimitHit(p.OpenedAt, in.Now, rules.MaxHold) {
		return model.CloseReasonTimeLimit, true
	}
	if in.Reversal {
		return model.CloseReasonDirectionReversal, true
	}
	return "", false
}
