package engine

import (
	"context"
	"errors"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/repository"

	logger "github.com/sirupsen/logrus"
)

// Reconciler resolves executions left pending by a timeout, a cancelled caller
// or a write that failed after the venue confirmed the fill.
type Reconciler struct {
	coord       *Coordinator
	interval    time.Duration
	grace       time.Duration
	cancelAfter time.Duration
	batch       int

	commissionWindow time.Duration
}

func NewReconciler(cfg Config, coord *Coordinator) *Reconciler {
	return &Reconciler{
		coord:       coord,
		interval:    cfg.ReconcileInterval,
		grace:       cfg.ReconcileGrace,
		cancelAfter: cfg.ReconcileCancelAfter,
		batch:       cfg.ReconcileBatch,

		commissionWindow: cfg.CommissionBackfillWindow,
	}
}

func (r *Reconciler) Name() string            { return "reconciler" }
func (r *Reconciler) Interval() time.Duration { return r.interval }

// RunOnce checks every pending execution older than the grace period.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	c := r.coord
	now := c.now()
	pending, err := c.store.PendingExecutions(ctx, now.Add(-r.grace), r.batch)
	if err != nil {
		return err
	}

	resolved := 0
	for i := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.reconcile(ctx, &pending[i], now) {
			resolved++
		}
	}

	backfilled := r.backfill(ctx, now)

	if len(pending) > 0 || backfilled > 0 {
		logger.WithFields(map[string]interface{}{
			"component":  "reconciler",
			"pending":    len(pending),
			"resolved":   resolved,
			"backfilled": backfilled,
		}).Info("reconciliation pass done")
	}
	return nil
}

// backfill looks up commissions that the venue did not report with the fill.
func (r *Reconciler) backfill(ctx context.Context, now time.Time) int {
	if r.commissionWindow <= 0 {
		return 0
	}
	c := r.coord
	execs, err := c.store.ExecutionsMissingCommission(ctx, now.Add(-r.commissionWindow), r.batch)
	if err != nil {
		logger.WithField("component", "reconciler").WithError(err).Warn("list fills without commission")
		return 0
	}

	n := 0
	for i := range execs {
		if ctx.Err() != nil {
			break
		}
		if r.backfillCommission(ctx, &execs[i]) {
			n++
		}
	}
	return n
}

func (r *Reconciler) backfillCommission(ctx context.Context, exec *model.OrderExecution) bool {
	c := r.coord
	log := logger.WithFields(map[string]interface{}{
		"component":       "reconciler",
		"user_id":         exec.UserID,
		"execution_id":    exec.ID,
		"client_order_id": exec.ClientOrderID,
	})

	cred, err := c.store.GetCredential(ctx, exec.CredentialID)
	if err != nil || cred == nil {
		return false
	}
	adapter, err := c.adapters.For(cred)
	if err != nil {
		return false
	}

	qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	res, err := adapter.QueryOrder(qctx, exec.Symbol, exec.ClientOrderID)
	if err != nil {
		log.WithError(err).Debug("commission lookup failed")
		return false
	}
	if res == nil || !res.Commission.IsPositive() {
		return false
	}

	// realized PnL of a position is written under the user lock
	unlock := c.arena.Lock(exec.UserID)
	defer unlock()

	err = c.store.BackfillCommission(ctx, exec, res.Commission)
	switch {
	case errors.Is(err, repository.ErrStaleWrite):
		return false
	case err != nil:
		log.WithError(err).Error("backfill commission")
		return false
	}
	log.WithField("commission", res.Commission.String()).Info("commission backfilled")
	return true
}

func (r *Reconciler) reconcile(ctx context.Context, exec *model.OrderExecution, now time.Time) bool {
	c := r.coord
	log := logger.WithFields(map[string]interface{}{
		"component":       "reconciler",
		"user_id":         exec.UserID,
		"execution_id":    exec.ID,
		"client_order_id": exec.ClientOrderID,
	})

	unlock := c.arena.Lock(exec.UserID)
	defer unlock()

	cred, err := c.store.GetCredential(ctx, exec.CredentialID)
	if err != nil {
		log.WithError(err).Error("load credential")
		return false
	}
	if cred == nil {
		c.fail(ctx, exec, "credential_missing", "credential was removed before the order was resolved")
		return true
	}
	adapter, err := c.adapters.For(cred)
	if err != nil {
		log.WithError(err).Error("build adapter")
		return false
	}

	qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	res, err := adapter.QueryOrder(qctx, exec.Symbol, exec.ClientOrderID)
	switch {
	case errors.Is(err, connectors.ErrOrderNotFound):
		c.fail(qctx, exec, "not_found", "order never reached the venue")
		return true
	case err != nil:
		log.WithError(err).Warn("venue query failed, will retry")
		return false
	}

	err = c.resolve(qctx, exec, res)
	if errors.Is(err, ErrExecutionPending) {
		if r.cancelAfter > 0 && now.Sub(exec.CreatedAt) > r.cancelAfter {
			// a resting order is cancelled; the next pass records the outcome
			if cErr := adapter.CancelOrder(qctx, exec.Symbol, exec.ClientOrderID); cErr != nil {
				log.WithError(cErr).Warn("cancel stale order")
			} else {
				log.Info("stale order cancelled")
			}
		}
		return false
	}
	return true
}
