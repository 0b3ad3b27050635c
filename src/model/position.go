package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type CloseReason string

const (
	CloseReasonManual             CloseReason = "manual"
	CloseReasonStopLoss           CloseReason = "stop_loss"
	CloseReasonTakeProfit         CloseReason = "take_profit"
	CloseReasonTimeLimit          CloseReason = "time_limit"
	CloseReasonDrawdownProtection CloseReason = "drawdown_protection"
	CloseReasonDirectionReversal  CloseReason = "direction_reversal"
)

func (r CloseReason) Valid() bool {
	switch r {
	case CloseReasonManual, CloseReasonStopLoss, CloseReasonTakeProfit,
		CloseReasonTimeLimit, CloseReasonDrawdownProtection, CloseReasonDirectionReversal:
		return true
	}
	return false
}

type Position struct {
	ID           uint  `gorm:"primaryKey" json:"id"`
	UserID       uint  `gorm:"not null;index" json:"user_id"`
	CredentialID uint  `gorm:"not null;index" json:"credential_id"`
	Venue        Venue `gorm:"size:30;not null" json:"venue"`

	Symbol   string          `gorm:"size:50;not null" json:"symbol"`
	Side     Side            `gorm:"size:10;not null" json:"side"`
	Size     decimal.Decimal `gorm:"type:numeric(30,10)" json:"size"`
	Leverage int             `json:"leverage"`

	EntryPrice    decimal.Decimal  `gorm:"type:numeric(30,10)" json:"entry_price"`
	LastPrice     decimal.Decimal  `gorm:"type:numeric(30,10)" json:"last_price"`
	UnrealizedPnL decimal.Decimal  `gorm:"column:unrealized_pnl;type:numeric(30,10)" json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal  `gorm:"column:realized_pnl;type:numeric(30,10)" json:"realized_pnl"`
	StopLoss      *decimal.Decimal `gorm:"type:numeric(30,10)" json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal `gorm:"type:numeric(30,10)" json:"take_profit,omitempty"`

	Active      bool        `gorm:"not null;default:true;index" json:"active"`
	CloseReason CloseReason `gorm:"size:30" json:"close_reason,omitempty"`

	OpenExecutionID  uint  `gorm:"not null;uniqueIndex" json:"open_execution_id"`
	CloseExecutionID *uint `json:"close_execution_id,omitempty"`

	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// Notional is size times the last observed price, or the entry price before the first mark.
func (p *Position) Notional() decimal.Decimal {
	price := p.LastPrice
	if price.IsZero() {
		price = p.EntryPrice
	}
	return p.Size.Mul(price)
}

// Margin is the capital committed at entry.
func (p *Position) Margin() decimal.Decimal {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return p.Size.Mul(p.EntryPrice).Div(decimal.NewFromInt(int64(lev)))
}
