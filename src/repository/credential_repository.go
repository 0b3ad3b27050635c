package repository

import (
	"context"
	"errors"
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialStatusUpdate is the outcome of a probe or a failed call.
type CredentialStatusUpdate struct {
	Status        string
	FailureReason string
	Diagnosis     string
	ValidatedAt   *time.Time
}

type GormCredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

// FindByID returns (nil, nil) if not found.
func (r *GormCredentialRepository) FindByID(ctx context.Context, id uint) (*model.ExchangeCredential, error) {
	var c model.ExchangeCredential
	err := r.db.WithContext(ctx).First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrap("credential.find", err)
	}
	return &c, nil
}

func (r *GormCredentialRepository) ListByUser(ctx context.Context, userID uint) ([]model.ExchangeCredential, error) {
	var out []model.ExchangeCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&out).Error
	return out, wrap("credential.list_by_user", err)
}

// ListByStatus returns credentials in any of the given states; no states means all.
func (r *GormCredentialRepository) ListByStatus(ctx context.Context, statuses ...string) ([]model.ExchangeCredential, error) {
	q := r.db.WithContext(ctx).Model(&model.ExchangeCredential{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []model.ExchangeCredential
	err := q.Order("user_id ASC, id ASC").Find(&out).Error
	return out, wrap("credential.list_by_status", err)
}

// Upsert stores new key material for (user, venue, environment) and resets the
// credential to unvalidated so the next probe re-checks it.
func (r *GormCredentialRepository) Upsert(ctx context.Context, c *model.ExchangeCredential) error {
	c.Status = model.CredentialStatusUnvalidated
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "venue"},
				{Name: "environment"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key",
				"api_secret",
				"label",
				"status",
				"updated_at",
			}),
		}).
		Create(c).Error

	logger.WithFields(map[string]interface{}{
		"repo":    "CredentialRepository",
		"op":      "Upsert",
		"user_id": c.UserID,
		"venue":   c.Venue,
	}).Info("Credential stored")

	return wrap("credential.upsert", err)
}

func (r *GormCredentialRepository) UpdateStatus(ctx context.Context, id uint, u CredentialStatusUpdate) error {
	updates := map[string]interface{}{
		"status":         u.Status,
		"failure_reason": u.FailureReason,
		"diagnosis":      u.Diagnosis,
	}
	if u.ValidatedAt != nil {
		updates["last_validated_at"] = *u.ValidatedAt
	}
	res := r.db.WithContext(ctx).
		Model(&model.ExchangeCredential{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return wrap("credential.update_status", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormCredentialRepository) UpdateBalance(ctx context.Context, id uint, available, total decimal.Decimal, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.ExchangeCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"available_balance": available,
			"total_balance":     total,
			"balance_at":        at,
		})
	if res.Error != nil {
		return wrap("credential.update_balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
