package repository

import (
	"context"
	"errors"
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Create(ctx context.Context, p *model.Position) error {
	p.Active = true
	return wrap("position.create", r.db.WithContext(ctx).Create(p).Error)
}

// FindByID returns (nil, nil) if not found.
func (r *PositionRepository) FindByID(ctx context.Context, id uint) (*model.Position, error) {
	var p model.Position
	err := r.db.WithContext(ctx).First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrap("position.find", err)
	}
	return &p, nil
}

func (r *PositionRepository) ListActive(ctx context.Context) ([]model.Position, error) {
	var out []model.Position
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&out).Error
	return out, wrap("position.list_active", err)
}

func (r *PositionRepository) ListActiveByUser(ctx context.Context, userID uint) ([]model.Position, error) {
	var out []model.Position
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("opened_at ASC, id ASC").
		Find(&out).Error
	return out, wrap("position.list_active_by_user", err)
}

func (r *PositionRepository) CountActive(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("user_id = ? AND active = ?", userID, true).
		Count(&n).Error
	return n, wrap("position.count_active", err)
}

// UpdateMark stores the last observed price and unrealized PnL of an active position.
func (r *PositionRepository) UpdateMark(ctx context.Context, id uint, lastPrice, pnl decimal.Decimal) error {
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{
			"last_price":     lastPrice,
			"unrealized_pnl": pnl,
		}).Error
	return wrap("position.update_mark", err)
}

// Deactivate closes an active position. It fails with ErrStaleWrite if it was already closed.
func (r *PositionRepository) Deactivate(ctx context.Context, p *model.Position, closeExecutionID uint, closedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND active = ?", p.ID, true).
		Updates(map[string]interface{}{
			"active":             false,
			"close_reason":       p.CloseReason,
			"realized_pnl":       p.RealizedPnL,
			"last_price":         p.LastPrice,
			"unrealized_pnl":     decimal.Zero,
			"close_execution_id": closeExecutionID,
			"closed_at":          closedAt,
		})
	if res.Error != nil {
		return wrap("position.deactivate", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	p.Active = false
	p.CloseExecutionID = &closeExecutionID
	p.ClosedAt = &closedAt
	return nil
}

// Reduce writes the smaller size and accumulated realized PnL of a position that
// stays open after a partial close.
func (r *PositionRepository) Reduce(ctx context.Context, p *model.Position, previousSize decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND active = ? AND size = ?", p.ID, true, previousSize).
		Updates(map[string]interface{}{
			"size":         p.Size,
			"realized_pnl": p.RealizedPnL,
			"last_price":   p.LastPrice,
		})
	if res.Error != nil {
		return wrap("position.reduce", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// AddRealizedPnL shifts the realized PnL of a position by delta, open or closed.
func (r *PositionRepository) AddRealizedPnL(ctx context.Context, id uint, delta decimal.Decimal) error {
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ?", id).
		Update("realized_pnl", gorm.Expr("realized_pnl + ?", delta)).Error
	return wrap("position.add_realized_pnl", err)
}
