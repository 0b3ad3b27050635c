package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderExecution status lifecycle: pending -> executed | failed, exactly once.
const (
	ExecutionStatusPending  = "pending"
	ExecutionStatusExecuted = "executed"
	ExecutionStatusFailed   = "failed"
)

const (
	ExecutionPurposeOpen  = "open"
	ExecutionPurposeClose = "close"
)

// OrderExecution stores every order sent to a venue and how it concluded.
type OrderExecution struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UserID       uint   `gorm:"not null;index" json:"user_id"`
	CredentialID uint   `gorm:"not null;index" json:"credential_id"`
	Venue        Venue  `gorm:"size:30;not null" json:"venue"`
	Purpose      string `gorm:"size:10;not null;default:open" json:"purpose"`
	PositionID   *uint  `gorm:"index" json:"position_id,omitempty"`

	Symbol   string           `gorm:"size:50;not null" json:"symbol"`
	Side     Side             `gorm:"size:10;not null" json:"side"`
	Kind     OrderKind        `gorm:"size:10;not null" json:"kind"`
	Quantity decimal.Decimal  `gorm:"type:numeric(30,10)" json:"quantity"`
	Price    *decimal.Decimal `gorm:"type:numeric(30,10)" json:"price,omitempty"`
	Leverage int              `json:"leverage"`
	Notional decimal.Decimal  `gorm:"type:numeric(30,10)" json:"notional"`

	// carried so a reconciled open can still create its position with the requested exits
	StopLoss   *decimal.Decimal `gorm:"type:numeric(30,10)" json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `gorm:"type:numeric(30,10)" json:"take_profit,omitempty"`
	// reason a close was issued; applied to the position once the close executes
	CloseReason CloseReason `gorm:"size:30" json:"close_reason,omitempty"`

	ClientOrderID string `gorm:"size:64;not null;uniqueIndex" json:"client_order_id"`
	VenueOrderID  string `gorm:"size:128" json:"venue_order_id"`

	Status         string          `gorm:"size:20;not null;index" json:"status"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric(30,10);default:0" json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `gorm:"type:numeric(30,10);default:0" json:"avg_fill_price"`
	Commission     decimal.Decimal `gorm:"type:numeric(30,10);default:0" json:"commission"`
	ErrorKind      string          `gorm:"size:50" json:"error_kind,omitempty"`
	ErrorDetail    *string         `gorm:"type:text" json:"error_detail,omitempty"`

	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (OrderExecution) TableName() string {
	return "order_executions"
}

func (e *OrderExecution) IsTerminal() bool {
	return e.Status == ExecutionStatusExecuted || e.Status == ExecutionStatusFailed
}
