package executors

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Job is one pass of a periodic task.
type Job func(ctx context.Context) error

// StartLoop runs job once right away and then on every tick of period until ctx
// is done. A failing or panicking pass is logged and the loop goes on.
func StartLoop(ctx context.Context, name string, period time.Duration, job Job) error {
	if period <= 0 {
		return fmt.Errorf("loop %s: period must be positive, got %s", name, period)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log := logger.WithFields(map[string]interface{}{
		"component": "loop",
		"loop":      name,
		"period":    period.String(),
	})
	log.Info("loop started")

	runPass(ctx, name, job)
	for {
		select {
		case <-ctx.Done():
			log.Info("loop stopped")
			return nil
		case <-ticker.C:
			runPass(ctx, name, job)
		}
	}
}

func runPass(ctx context.Context, name string, job Job) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"component": "loop",
				"loop":      name,
				"panic":     fmt.Sprint(r),
			}).Error("loop pass panicked")
		}
	}()

	if err := job(ctx); err != nil && ctx.Err() == nil {
		logger.WithFields(map[string]interface{}{
			"component": "loop",
			"loop":      name,
		}).WithError(err).Error("loop pass failed")
		return
	}
	logger.WithFields(map[string]interface{}{
		"component": "loop",
		"loop":      name,
		"took":      time.Since(started).String(),
	}).Debug("loop pass done")
}
