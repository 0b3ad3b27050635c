package model

import "time"

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// RiskViolation is an append-only log of rejected requests and account health alerts.
type RiskViolation struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Kind        string    `gorm:"size:50;not null;index" json:"kind"`
	Description string    `gorm:"type:text" json:"description"`
	Severity    string    `gorm:"size:10;not null" json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

func (RiskViolation) TableName() string {
	return "risk_violations"
}
