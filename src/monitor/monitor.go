package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderengine/src/engine"
	"orderengine/src/model"
	"orderengine/src/prices"
	"orderengine/src/signals"
	"orderengine/src/tp_sl"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	AllActivePositions(ctx context.Context) ([]model.Position, error)
	GetCredential(ctx context.Context, id uint) (*model.ExchangeCredential, error)
	UpdatePositionMark(ctx context.Context, id uint, lastPrice, pnl decimal.Decimal) error
}

type Closer interface {
	ClosePosition(ctx context.Context, positionID uint, reason model.CloseReason) (*model.OrderExecution, error)
}

// ManualRequests exposes the queued manual closes.
type ManualRequests interface {
	ManualCloseRequested(userID, positionID uint) bool
}

type Deps struct {
	Store     Store
	Prices    prices.Source
	Closer    Closer
	Manual    ManualRequests
	Reversals signals.ReversalSource
}

// Monitor checks every active position against its close triggers and closes
// the ones that fired. One position failing never stops the others.
type Monitor struct {
	store     Store
	prices    prices.Source
	closer    Closer
	manual    ManualRequests
	reversals signals.ReversalSource

	rules       tp_sl.Rules
	interval    time.Duration
	concurrency int
	now         func() time.Time
}

func New(cfg Config, deps Deps) *Monitor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	reversals := deps.Reversals
	if reversals == nil {
		reversals = signals.Disabled{}
	}
	return &Monitor{
		store:     deps.Store,
		prices:    deps.Prices,
		closer:    deps.Closer,
		manual:    deps.Manual,
		reversals: reversals,
		rules: tp_sl.Rules{
			MaxHold:     cfg.MaxHold,
			DrawdownPct: decimal.NewFromFloat(cfg.DrawdownPct),
		},
		interval:    cfg.Interval,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Monitor) Name() string            { return "position_monitor" }
func (m *Monitor) Interval() time.Duration { return m.interval }

// RunOnce evaluates all active positions. Only failing to list them is an error.
func (m *Monitor) RunOnce(ctx context.Context) error {
	positions, err := m.store.AllActivePositions(ctx)
	if err != nil {
		return fmt.Errorf("list active positions: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i := range positions {
		pos := &positions[i]
		g.Go(func() error {
			m.check(ctx, pos)
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) check(ctx context.Context, pos *model.Position) {
	log := logger.WithFields(map[string]interface{}{
		"component":   "monitor",
		"user_id":     pos.UserID,
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
	})

	if m.manual != nil && m.manual.ManualCloseRequested(pos.UserID, pos.ID) {
		m.close(ctx, log, pos, model.CloseReasonManual)
		return
	}

	price, err := m.markPrice(ctx, pos)
	if err != nil {
		// the time limit does not depend on the price
		if tp_sl.TimeLimitHit(pos.OpenedAt, m.now(), m.rules.MaxHold) {
			log.WithError(err).Info("no price, closing on time limit")
			m.close(ctx, log, pos, model.CloseReasonTimeLimit)
			return
		}
		log.WithError(err).Warn("no price, position skipped")
		return
	}

	pnl := tp_sl.UnrealizedPnL(pos.Side, pos.EntryPrice, price, pos.Size)
	if err := m.store.UpdatePositionMark(ctx, pos.ID, price, pnl); err != nil {
		log.WithError(err).Warn("update mark")
	}

	in := tp_sl.Input{Position: pos, Price: price, Now: m.now()}
	reason, fired := tp_sl.Evaluate(in, m.rules)
	if !fired {
		// reversal is the lowest priority, ask the signal table only when nothing else fired
		in.Reversal, err = m.reversals.Reversed(ctx, pos)
		if err != nil {
			log.WithError(err).Warn("reversal check")
			return
		}
		reason, fired = tp_sl.Evaluate(in, m.rules)
	}
	if !fired {
		return
	}

	log.WithFields(map[string]interface{}{
		"reason": reason,
		"price":  price.String(),
		"pnl":    pnl.String(),
	}).Info("close trigger fired")
	m.close(ctx, log, pos, reason)
}

func (m *Monitor) markPrice(ctx context.Context, pos *model.Position) (decimal.Decimal, error) {
	cred, err := m.store.GetCredential(ctx, pos.CredentialID)
	if err != nil {
		return decimal.Zero, err
	}
	if cred == nil {
		return decimal.Zero, fmt.Errorf("credential %d not found", pos.CredentialID)
	}
	price, err := m.prices.LastPrice(ctx, cred, pos.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, prices.ErrNoPrice
	}
	return price, nil
}

func (m *Monitor) close(ctx context.Context, log *logger.Entry, pos *model.Position, reason model.CloseReason) {
	_, err := m.closer.ClosePosition(ctx, pos.ID, reason)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrPositionClosing), errors.Is(err, engine.ErrPositionNotFound):
		log.WithError(err).Debug("close skipped")
	default:
		log.WithError(err).WithField("reason", reason).Error("close failed, retrying next pass")
	}
}
