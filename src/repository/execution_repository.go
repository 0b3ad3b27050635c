package repository

import (
	"context"
	"errors"
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExecutionRepository handles the order_executions table.
// Terminal rows are only touched by the fill backfill.
type ExecutionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// WithDB returns a repository bound to db, typically a transaction.
func (r *ExecutionRepository) WithDB(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts a pending execution. ClientOrderID is unique.
func (r *ExecutionRepository) Create(ctx context.Context, exec *model.OrderExecution) error {
	if exec.Status == "" {
		exec.Status = model.ExecutionStatusPending
	}
	err := r.db.WithContext(ctx).Create(exec).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":            "ExecutionRepository",
			"op":              "Create",
			"client_order_id": exec.ClientOrderID,
		}).WithError(err).Error("Failed to create execution")
		return wrap("execution.create", err)
	}

	logger.WithFields(map[string]interface{}{
		"repo":         "ExecutionRepository",
		"op":           "Create",
		"execution_id": exec.ID,
		"user_id":      exec.UserID,
		"purpose":      exec.Purpose,
	}).Debug("Execution created")
	return nil
}

// FindByID returns (nil, nil) if not found.
func (r *ExecutionRepository) FindByID(ctx context.Context, id uint) (*model.OrderExecution, error) {
	var e model.OrderExecution
	err := r.db.WithContext(ctx).First(&e, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrap("execution.find", err)
	}
	return &e, nil
}

// MarkExecuted moves a pending execution to executed with its fill.
func (r *ExecutionRepository) MarkExecuted(ctx context.Context, exec *model.OrderExecution) error {
	if exec.ExecutedAt == nil {
		now := time.Now().UTC()
		exec.ExecutedAt = &now
	}
	res := r.db.WithContext(ctx).
		Model(&model.OrderExecution{}).
		Where("id = ? AND status = ?", exec.ID, model.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"status":          model.ExecutionStatusExecuted,
			"venue_order_id":  exec.VenueOrderID,
			"filled_quantity": exec.FilledQuantity,
			"avg_fill_price":  exec.AvgFillPrice,
			"commission":      exec.Commission,
			"notional":        exec.Notional,
			"executed_at":     *exec.ExecutedAt,
		})
	if res.Error != nil {
		return wrap("execution.mark_executed", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	exec.Status = model.ExecutionStatusExecuted
	return nil
}

// MarkFailed moves a pending execution to failed. Already terminal rows are left alone.
func (r *ExecutionRepository) MarkFailed(ctx context.Context, id uint, kind, detail string) error {
	res := r.db.WithContext(ctx).
		Model(&model.OrderExecution{}).
		Where("id = ? AND status = ?", id, model.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"status":       model.ExecutionStatusFailed,
			"error_kind":   kind,
			"error_detail": detail,
		})
	if res.Error != nil {
		return wrap("execution.mark_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// BackfillCommission sets the commission of an executed row that was recorded
// without one. A row that already carries a commission is left alone.
func (r *ExecutionRepository) BackfillCommission(ctx context.Context, id uint, commission decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.OrderExecution{}).
		Where("id = ? AND status = ? AND commission = ?", id, model.ExecutionStatusExecuted, decimal.Zero).
		Update("commission", commission)
	if res.Error != nil {
		return wrap("execution.backfill_commission", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// ListMissingCommission returns executed fills since the given time that were
// recorded without a commission, oldest first.
func (r *ExecutionRepository) ListMissingCommission(ctx context.Context, since time.Time, limit int) ([]model.OrderExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.OrderExecution
	err := r.db.WithContext(ctx).
		Where("status = ? AND commission = ? AND filled_quantity > ? AND executed_at >= ?",
			model.ExecutionStatusExecuted, decimal.Zero, decimal.Zero, since).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, wrap("execution.list_missing_commission", err)
}

// ListPending returns pending executions created before olderThan, oldest first.
func (r *ExecutionRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]model.OrderExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.OrderExecution
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.ExecutionStatusPending, olderThan).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, wrap("execution.list_pending", err)
}

// CountPending counts a user's unresolved executions of one purpose.
func (r *ExecutionRepository) CountPending(ctx context.Context, userID uint, purpose string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderExecution{}).
		Where("user_id = ? AND status = ? AND purpose = ?", userID, model.ExecutionStatusPending, purpose).
		Count(&n).Error
	return n, wrap("execution.count_pending", err)
}

// FindPendingClose returns the unresolved closing execution of a position, or (nil, nil).
func (r *ExecutionRepository) FindPendingClose(ctx context.Context, positionID uint) (*model.OrderExecution, error) {
	var e model.OrderExecution
	err := r.db.WithContext(ctx).
		Where("position_id = ? AND purpose = ? AND status = ?", positionID, model.ExecutionPurposeClose, model.ExecutionStatusPending).
		Order("id DESC").
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrap("execution.find_pending_close", err)
	}
	return &e, nil
}

// ExecutionSearchOptions filters Search. Zero values are ignored.
type ExecutionSearchOptions struct {
	UserID        uint
	Status        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Search returns executions newest first.
func (r *ExecutionRepository) Search(ctx context.Context, opts ExecutionSearchOptions) ([]model.OrderExecution, error) {
	q := r.db.WithContext(ctx).Model(&model.OrderExecution{})
	if opts.UserID != 0 {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *opts.CreatedBefore)
	}
	q = q.Order("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var out []model.OrderExecution
	if err := q.Find(&out).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "ExecutionRepository",
			"op":      "Search",
			"user_id": opts.UserID,
		}).WithError(err).Error("Failed to search executions")
		return nil, wrap("execution.search", err)
	}
	return out, nil
}

// SumExecutedNotional adds up the notional of executed opening orders since the given instant.
func (r *ExecutionRepository) SumExecutedNotional(ctx context.Context, userID uint, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.OrderExecution{}).
		Select("COALESCE(SUM(notional), 0)").
		Where("user_id = ? AND status = ? AND purpose = ? AND executed_at >= ?",
			userID, model.ExecutionStatusExecuted, model.ExecutionPurposeOpen, since).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, wrap("execution.sum_notional", err)
	}
	return total, nil
}
