package externalmodel

import "time"

// TradingSignal is a row of the signal provider's table. The engine only reads it.
type TradingSignal struct {
	ID                 uint       `gorm:"primaryKey;column:id" json:"id"`
	ExchangeName       string     `gorm:"column:exchange_name" json:"exchange_name"`
	Symbol             string     `gorm:"column:symbol" json:"symbol"`
	Action             string     `gorm:"column:action" json:"action"`
	MarketPosition     string     `gorm:"column:market_position" json:"market_position"`
	PrevMarketPosition string     `gorm:"column:prev_market_position" json:"prev_market_position"`
	SignalToken        string     `gorm:"column:signal_token" json:"signal_token"`
	ReceivedAt         *time.Time `gorm:"column:received_at" json:"received_at,omitempty"`
}

// TableName keeps the provider's table name.
func (TradingSignal) TableName() string {
	return "trade_tradingsignal"
}

// Market position values written by the provider.
const (
	MarketPositionLong  = "long"
	MarketPositionShort = "short"
	MarketPositionFlat  = "flat"
)
