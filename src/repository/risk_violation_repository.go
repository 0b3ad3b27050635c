package repository

import (
	"context"

	"orderengine/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RiskViolationRepository is append-only.
type RiskViolationRepository struct {
	db *gorm.DB
}

func NewRiskViolationRepository(db *gorm.DB) *RiskViolationRepository {
	return &RiskViolationRepository{db: db}
}

func (r *RiskViolationRepository) Create(ctx context.Context, v *model.RiskViolation) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "RiskViolationRepository",
		"user_id":  v.UserID,
		"kind":     v.Kind,
		"severity": v.Severity,
	}).Warn(v.Description)

	return wrap("risk_violation.create", r.db.WithContext(ctx).Create(v).Error)
}

func (r *RiskViolationRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]model.RiskViolation, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.RiskViolation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, wrap("risk_violation.list", err)
}
