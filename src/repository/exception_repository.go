package repository

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"orderengine/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

func NewExceptionRepository(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(ctx context.Context, exc *model.Exception) error {
	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
	}).Error("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// Capture records a system exception, logs it locally, and persists it when
// the repository is set. It never fails the caller.
func (r *ExceptionRepository) Capture(
	ctx context.Context,
	module string,
	method string,
	err error,
	contextData map[string]interface{},
) {
	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   "engine",
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     "error",
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	if r == nil || r.db == nil {
		logger.WithFields(map[string]interface{}{
			"module": module,
			"method": method,
		}).WithError(err).Error("System exception captured")
		return
	}

	// detached so a cancelled request still leaves its trace
	if e := r.Create(context.WithoutCancel(ctx), exc); e != nil {
		logger.WithError(e).Error("Failed to persist exception")
	}
}
