package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// RiskProfile holds the per-user limits the risk validator enforces.
// Zero values fall back to the engine defaults.
type RiskProfile struct {
	MaxLeverage            int             `gorm:"column:max_leverage" json:"max_leverage"`
	MaxPositionPct         decimal.Decimal `gorm:"column:max_position_pct;type:numeric(10,4)" json:"max_position_pct"`
	MaxConcurrentPositions int             `gorm:"column:max_concurrent_positions" json:"max_concurrent_positions"`
	DailyVolumeCap         decimal.Decimal `gorm:"column:daily_volume_cap;type:numeric(30,10)" json:"daily_volume_cap"`
	MinBalance             decimal.Decimal `gorm:"column:min_balance;type:numeric(30,10)" json:"min_balance"`
}

type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email"`
	Status    string    `gorm:"size:20;not null;default:active" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RiskProfile `gorm:"embedded"`

	Credentials []ExchangeCredential `gorm:"foreignKey:UserID" json:"credentials,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}
