package repository

import (
	"context"
	"errors"
	"time"

	"orderengine/src/externalmodel"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TradingSignalRepository reads external trading signals from the read-only database.
type TradingSignalRepository struct {
	db *gorm.DB
}

func NewTradingSignalRepository(db *gorm.DB) *TradingSignalRepository {
	logger.WithField("component", "TradingSignalRepository").
		Info("Creating new TradingSignalRepository with ReadOnlyDB")

	return &TradingSignalRepository{db: db}
}

// FindLatestBySymbol returns the newest signal for symbol received at or after since.
// Returns (nil, nil) if there is none.
func (r *TradingSignalRepository) FindLatestBySymbol(
	ctx context.Context,
	symbol string,
	since time.Time,
) (*externalmodel.TradingSignal, error) {

	var signal externalmodel.TradingSignal
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND received_at >= ?", symbol, since).
		Order("id DESC").
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "TradingSignalRepository",
			"op":     "FindLatestBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch latest trading signal")

		return nil, err
	}

	return &signal, nil
}
