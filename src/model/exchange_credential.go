package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies an exchange implementation registered in the connectors registry.
type Venue string

const (
	VenueBinance Venue = "binance"
	VenueBybit   Venue = "bybit"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

const (
	CredentialStatusUnvalidated = "unvalidated"
	CredentialStatusConnected   = "connected"
	CredentialStatusFailed      = "failed"
)

// ExchangeCredential is one user's API account on a venue, with its cached balance snapshot.
type ExchangeCredential struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UserID      uint   `gorm:"not null;index:idx_user_venue_env,unique" json:"user_id"`
	Venue       Venue  `gorm:"size:30;not null;index:idx_user_venue_env,unique" json:"venue"`
	Environment string `gorm:"size:20;not null;default:production;index:idx_user_venue_env,unique" json:"environment"`
	Label       string `gorm:"size:100" json:"label"`

	APIKeyEnc    string `gorm:"column:api_key;type:text" json:"-"`
	APISecretEnc string `gorm:"column:api_secret;type:text" json:"-"`

	Status          string     `gorm:"size:20;not null;default:unvalidated;index" json:"status"`
	FailureReason   string     `gorm:"size:50" json:"failure_reason,omitempty"`
	Diagnosis       string     `gorm:"type:text" json:"diagnosis,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`

	AvailableBalance decimal.Decimal `gorm:"type:numeric(30,10);default:0" json:"available_balance"`
	TotalBalance     decimal.Decimal `gorm:"type:numeric(30,10);default:0" json:"total_balance"`
	BalanceAt        *time.Time      `json:"balance_at,omitempty"`

	PreferenceWeight decimal.Decimal `gorm:"type:numeric(10,4);default:0" json:"preference_weight"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User *User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (ExchangeCredential) TableName() string {
	return "exchange_credentials"
}

func (c *ExchangeCredential) IsConnected() bool {
	return c.Status == CredentialStatusConnected
}

func (c *ExchangeCredential) IsProduction() bool {
	return c.Environment != EnvironmentSandbox
}

// SnapshotAge returns how old the balance snapshot is. ok is false when no snapshot exists.
func (c *ExchangeCredential) SnapshotAge(now time.Time) (age time.Duration, ok bool) {
	if c.BalanceAt == nil {
		return 0, false
	}
	return now.Sub(*c.BalanceAt), true
}

func (c *ExchangeCredential) SnapshotFresh(now time.Time, bound time.Duration) bool {
	age, ok := c.SnapshotAge(now)
	return ok && age <= bound
}
