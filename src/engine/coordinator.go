package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/notify"
	"orderengine/src/prices"
	"orderengine/src/repository"
	"orderengine/src/resilience"
	"orderengine/src/risk"
	"orderengine/src/selector"
	"orderengine/src/tp_sl"
	"orderengine/src/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type Deps struct {
	Store     Store
	Adapters  AdapterProvider
	Prices    prices.Source
	Validator *risk.Validator
	Selector  *selector.Selector
	Breakers  *resilience.BreakerSet
	Retry     resilience.RetryPolicy
	Notifier  notify.Notifier

	DefaultLeverage int
}

// Coordinator runs an order from validation to a terminal execution and owns
// every state change that follows from a venue answer.
type Coordinator struct {
	store     Store
	adapters  AdapterProvider
	prices    prices.Source
	validator *risk.Validator
	selector  *selector.Selector
	breakers  *resilience.BreakerSet
	retry     resilience.RetryPolicy
	notifier  notify.Notifier
	arena     *Arena

	defaultLeverage int
	maxAttempts     int
	closeTimeout    time.Duration
	queryTimeout    time.Duration

	now              func() time.Time
	newClientOrderID func() string
}

func NewCoordinator(cfg Config, deps Deps, arena *Arena) *Coordinator {
	maxAttempts := cfg.MaxCredentialAttempts
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	breakers := deps.Breakers
	if breakers == nil {
		breakers = resilience.NewBreakerSet(resilience.DefaultBreakerSettings())
	}
	closeTimeout, queryTimeout := cfg.CloseTimeout, cfg.QueryTimeout
	if closeTimeout <= 0 {
		closeTimeout = time.Minute
	}
	if queryTimeout <= 0 {
		queryTimeout = 15 * time.Second
	}
	n := deps.Notifier
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Coordinator{
		store:            deps.Store,
		adapters:         deps.Adapters,
		prices:           deps.Prices,
		validator:        deps.Validator,
		selector:         deps.Selector,
		breakers:         breakers,
		retry:            deps.Retry,
		notifier:         n,
		arena:            arena,
		defaultLeverage:  deps.DefaultLeverage,
		maxAttempts:      maxAttempts,
		closeTimeout:     closeTimeout,
		queryTimeout:     queryTimeout,
		now:              func() time.Time { return time.Now().UTC() },
		newClientOrderID: uuid.NewString,
	}
}

// Submit validates the request, picks the credential and places the order.
// A risk rejection returns a *risk.ValidationError and creates no execution.
// Otherwise the returned execution is the last one attempted, in whatever state
// it reached; ErrExecutionPending means the reconciler will finish it.
func (c *Coordinator) Submit(ctx context.Context, userID uint, req model.OrderRequest) (*model.OrderExecution, error) {
	unlock := c.arena.Lock(userID)
	defer unlock()

	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	creds, err := c.store.UserCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap, err := c.snapshot(ctx, user, creds)
	if err != nil {
		return nil, err
	}

	order, err := c.normalize(ctx, req, snap)
	if err != nil {
		return nil, err
	}

	if err := c.validator.Validate(order, snap); err != nil {
		c.reject(ctx, userID, order, err)
		return nil, err
	}

	ranked := c.selector.Rank(creds, order.Margin)
	if len(ranked) == 0 {
		return nil, selector.ErrNoExchangeAvailable
	}
	return c.execute(ctx, user, ranked, order, snap)
}

// snapshot reads the state the risk layers judge. Pending opens count as
// positions: the venue may still fill them.
func (c *Coordinator) snapshot(ctx context.Context, user *model.User, creds []model.ExchangeCredential) (risk.Snapshot, error) {
	now := c.now()
	active, err := c.store.CountActivePositions(ctx, user.ID)
	if err != nil {
		return risk.Snapshot{}, err
	}
	pending, err := c.store.CountPendingOpens(ctx, user.ID)
	if err != nil {
		return risk.Snapshot{}, err
	}
	today, err := c.store.ExecutedNotionalSince(ctx, user.ID, utils.StartOfDayUTC(now))
	if err != nil {
		return risk.Snapshot{}, err
	}
	return risk.Snapshot{
		User:                  user,
		Account:               c.selector.Reference(creds),
		ActivePositions:       active + pending,
		ExecutedNotionalToday: today,
		Now:                   now,
	}, nil
}

func (c *Coordinator) normalize(ctx context.Context, req model.OrderRequest, snap risk.Snapshot) (risk.Order, error) {
	if !snap.User.IsActive() || snap.Account == nil {
		// the first two layers reject before the order is looked at
		return risk.Order{Symbol: risk.NormalizeSymbol(req.Symbol), Side: req.Side, Leverage: req.Leverage}, nil
	}

	symbol := risk.NormalizeSymbol(req.Symbol)
	price := decimal.Zero
	if req.Kind != model.OrderKindLimit || req.Sizing.Mode == model.SizingBalancePct {
		p, err := c.prices.LastPrice(ctx, snap.Account, symbol)
		if err != nil {
			return risk.Order{}, fmt.Errorf("reference price for %s: %w", symbol, err)
		}
		price = p
	}
	return risk.Normalize(req, snap.Account.AvailableBalance, price, c.defaultLeverage)
}

func (c *Coordinator) reject(ctx context.Context, userID uint, order risk.Order, err error) {
	vErr, ok := risk.AsValidationError(err)
	if !ok {
		return
	}
	if rErr := c.store.RecordViolation(ctx, vErr.Violation(userID)); rErr != nil {
		c.store.Capture(ctx, "coordinator", "reject", rErr, map[string]interface{}{
			"user_id": userID,
			"kind":    vErr.Kind,
		})
	}
	notify.Send(ctx, c.notifier, notify.Event{
		Type:    notify.EventOrderRejected,
		UserID:  userID,
		Symbol:  order.Symbol,
		Side:    order.Side,
		Kind:    string(vErr.Kind),
		Message: vErr.Description,
	})
}

// execute tries the ranked credentials in order. Each candidate must pass the
// account checks on its own snapshot, not only the reference account's.
func (c *Coordinator) execute(ctx context.Context, user *model.User, ranked []selector.Candidate, order risk.Order, snap risk.Snapshot) (*model.OrderExecution, error) {
	var (
		lastExec *model.OrderExecution
		lastErr  error
		attempts int
	)
	for _, cand := range ranked {
		if attempts >= c.maxAttempts {
			break
		}
		cred := cand.Credential
		snap.Account = cred
		if err := c.validator.Validate(order, snap); err != nil {
			logger.WithFields(map[string]interface{}{
				"component":     "coordinator",
				"user_id":       user.ID,
				"credential_id": cred.ID,
			}).WithError(err).Debug("candidate skipped")
			continue
		}
		breaker := c.breakers.Get(string(cred.Venue))
		if err := breaker.Allow(); err != nil {
			lastErr = fmt.Errorf("%s: %w", cred.Venue, err)
			continue
		}
		attempts++

		exec, err := c.open(ctx, cred, order, breaker)
		if err == nil {
			return exec, nil
		}
		if exec != nil {
			lastExec = exec
		}
		lastErr = err
		if !connectors.IsFatal(err) {
			return lastExec, err
		}

		logger.WithFields(map[string]interface{}{
			"component":     "coordinator",
			"user_id":       user.ID,
			"credential_id": cred.ID,
			"venue":         cred.Venue,
		}).WithError(err).Warn("credential rejected, trying the next one")
	}
	if lastErr == nil {
		lastErr = selector.ErrNoExchangeAvailable
	}
	return lastExec, lastErr
}

func (c *Coordinator) open(ctx context.Context, cred *model.ExchangeCredential, order risk.Order, breaker *resilience.Breaker) (*model.OrderExecution, error) {
	adapter, err := c.adapters.For(cred)
	if err != nil {
		breaker.Release()
		return nil, fmt.Errorf("adapter for credential %d: %w", cred.ID, err)
	}

	exec := &model.OrderExecution{
		UserID:        cred.UserID,
		CredentialID:  cred.ID,
		Venue:         cred.Venue,
		Purpose:       model.ExecutionPurposeOpen,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Kind:          order.Kind,
		Quantity:      order.Quantity,
		Price:         order.LimitPrice,
		Leverage:      order.Leverage,
		Notional:      order.Notional,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		ClientOrderID: c.newClientOrderID(),
	}
	if err := c.store.CreateExecution(ctx, exec); err != nil {
		breaker.Release()
		return nil, err
	}

	res, err := c.place(ctx, adapter, connectors.OrderParams{
		Symbol:        exec.Symbol,
		Side:          exec.Side,
		Kind:          exec.Kind,
		Quantity:      exec.Quantity,
		Price:         exec.Price,
		ClientOrderID: exec.ClientOrderID,
	}, exec.Leverage)
	return exec, c.settle(ctx, exec, cred, adapter, breaker, res, err)
}

// place sets leverage when asked and submits with the retry policy. Every retry
// reuses the same client order id, so a retried submission cannot double-fill.
func (c *Coordinator) place(ctx context.Context, adapter connectors.Adapter, params connectors.OrderParams, leverage int) (*connectors.ExecutionResult, error) {
	leverageSet := leverage <= 0
	var res *connectors.ExecutionResult
	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if !leverageSet {
			if err := adapter.SetLeverage(ctx, params.Symbol, leverage); err != nil {
				return err
			}
			leverageSet = true
		}
		r, err := adapter.SubmitOrder(ctx, params)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, connectors.IsRetryable)
	return res, err
}

// settle turns the outcome of place into a terminal execution when it can.
func (c *Coordinator) settle(
	ctx context.Context,
	exec *model.OrderExecution,
	cred *model.ExchangeCredential,
	adapter connectors.Adapter,
	breaker *resilience.Breaker,
	res *connectors.ExecutionResult,
	err error,
) error {
	if err == nil {
		breaker.Success()
		return c.resolve(ctx, exec, res)
	}

	exErr, isExchange := connectors.AsExchangeError(err)
	switch {
	case isExchange && exErr.Fatal():
		// the venue answered; the credential is what failed
		breaker.Success()
		c.failCredential(ctx, cred, exErr)
		c.fail(ctx, exec, string(exErr.Kind), exErr.Diagnosis())
		return err

	case ctx.Err() != nil:
		breaker.Release()
		c.logPending(exec, err)
		return fmt.Errorf("%w: %w", ErrExecutionPending, err)

	case isExchange && !exErr.Retryable() && (exErr.Code != 0 || exErr.HTTPStatus != 0):
		// explicit rejection, e.g. a quantity the venue does not accept
		breaker.Success()
		c.fail(ctx, exec, string(exErr.Kind), exErr.Diagnosis())
		return err
	}

	if connectors.IsRetryable(err) {
		breaker.Failure()
	} else {
		breaker.Release()
	}
	return c.reconcileNow(ctx, exec, adapter, err)
}

// reconcileNow asks the venue what became of an order whose submission could not
// be confirmed. Not found means it never landed.
func (c *Coordinator) reconcileNow(ctx context.Context, exec *model.OrderExecution, adapter connectors.Adapter, submitErr error) error {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.queryTimeout)
	defer cancel()

	res, err := adapter.QueryOrder(qctx, exec.Symbol, exec.ClientOrderID)
	switch {
	case errors.Is(err, connectors.ErrOrderNotFound):
		kind, diagnosis := connectors.Diagnose(submitErr)
		c.fail(qctx, exec, string(kind), diagnosis)
		return submitErr
	case err != nil:
		c.logPending(exec, err)
		return fmt.Errorf("%w: %w", ErrExecutionPending, submitErr)
	}
	return c.resolve(qctx, exec, res)
}

// resolve records a venue result: filled, finished without a fill, or still working.
func (c *Coordinator) resolve(ctx context.Context, exec *model.OrderExecution, res *connectors.ExecutionResult) error {
	switch {
	case res == nil:
		return ErrExecutionPending
	case res.Executed():
		return c.complete(ctx, exec, res)
	case res.Final():
		c.fail(ctx, exec, "not_filled", "order "+string(res.Status)+" without a fill")
		return fmt.Errorf("%w: %s", ErrOrderNotFilled, res.Status)
	default:
		c.logPending(exec, nil)
		return ErrExecutionPending
	}
}

func (c *Coordinator) complete(ctx context.Context, exec *model.OrderExecution, res *connectors.ExecutionResult) error {
	executedAt := res.UpdatedAt.UTC()
	if res.UpdatedAt.IsZero() {
		executedAt = c.now()
	}
	exec.VenueOrderID = res.VenueOrderID
	exec.FilledQuantity = res.FilledQuantity
	exec.AvgFillPrice = res.AvgPrice
	exec.Commission = res.Commission
	exec.Notional = res.FilledQuantity.Mul(res.AvgPrice)
	exec.ExecutedAt = &executedAt

	var err error
	if exec.Purpose == model.ExecutionPurposeClose {
		err = c.completeClose(ctx, exec)
	} else {
		err = c.completeOpen(ctx, exec)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrStaleWrite):
		logger.WithFields(map[string]interface{}{
			"component":    "coordinator",
			"execution_id": exec.ID,
		}).Info("execution already resolved")
		return nil
	}

	// the venue filled but the write did not land; the reconciler repairs it
	exec.Status = model.ExecutionStatusPending
	c.store.Capture(ctx, "coordinator", "complete", err, map[string]interface{}{
		"execution_id":    exec.ID,
		"client_order_id": exec.ClientOrderID,
		"venue_order_id":  exec.VenueOrderID,
	})
	return fmt.Errorf("%w: %w", ErrExecutionPending, err)
}

func (c *Coordinator) completeOpen(ctx context.Context, exec *model.OrderExecution) error {
	pos := &model.Position{
		UserID:       exec.UserID,
		CredentialID: exec.CredentialID,
		Venue:        exec.Venue,
		Symbol:       exec.Symbol,
		Side:         exec.Side,
		Size:         exec.FilledQuantity,
		Leverage:     exec.Leverage,
		EntryPrice:   exec.AvgFillPrice,
		LastPrice:    exec.AvgFillPrice,
		StopLoss:     exec.StopLoss,
		TakeProfit:   exec.TakeProfit,
		OpenedAt:     *exec.ExecutedAt,
	}
	if err := c.store.CompleteOpen(ctx, exec, pos); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"component":    "coordinator",
		"user_id":      exec.UserID,
		"execution_id": exec.ID,
		"position_id":  pos.ID,
		"venue":        exec.Venue,
		"symbol":       exec.Symbol,
		"side":         exec.Side,
		"quantity":     exec.FilledQuantity.String(),
		"price":        exec.AvgFillPrice.String(),
	}).Info("position opened")

	qty, price := exec.FilledQuantity, exec.AvgFillPrice
	notify.Send(ctx, c.notifier, notify.Event{
		Type:         notify.EventOrderExecuted,
		UserID:       exec.UserID,
		CredentialID: exec.CredentialID,
		ExecutionID:  exec.ID,
		PositionID:   pos.ID,
		Venue:        exec.Venue,
		Symbol:       exec.Symbol,
		Side:         exec.Side,
		Quantity:     &qty,
		Price:        &price,
	})
	return nil
}

func (c *Coordinator) completeClose(ctx context.Context, exec *model.OrderExecution) error {
	if exec.PositionID == nil {
		return fmt.Errorf("close execution %d has no position", exec.ID)
	}
	pos, err := c.store.GetPosition(ctx, *exec.PositionID)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("close execution %d: %w", exec.ID, ErrPositionNotFound)
	}

	reason := exec.CloseReason
	if !reason.Valid() {
		reason = model.CloseReasonManual
	}
	pos.LastPrice = exec.AvgFillPrice
	pos.RealizedPnL = pos.RealizedPnL.Add(
		tp_sl.UnrealizedPnL(pos.Side, pos.EntryPrice, exec.AvgFillPrice, exec.FilledQuantity).Sub(exec.Commission))

	if exec.FilledQuantity.LessThan(pos.Size) {
		return c.reduce(ctx, exec, pos, reason)
	}

	pos.CloseReason = reason
	if err := c.store.CompleteClose(ctx, exec, pos); err != nil {
		return err
	}
	c.arena.ClearManualClose(pos.UserID, pos.ID)

	logger.WithFields(map[string]interface{}{
		"component":    "coordinator",
		"user_id":      pos.UserID,
		"position_id":  pos.ID,
		"execution_id": exec.ID,
		"reason":       reason,
		"pnl":          pos.RealizedPnL.String(),
	}).Info("position closed")

	price, pnl := exec.AvgFillPrice, pos.RealizedPnL
	notify.Send(ctx, c.notifier, notify.Event{
		Type:         notify.EventPositionClosed,
		UserID:       pos.UserID,
		CredentialID: pos.CredentialID,
		ExecutionID:  exec.ID,
		PositionID:   pos.ID,
		Venue:        pos.Venue,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Price:        &price,
		PnL:          &pnl,
		Reason:       reason,
	})
	return nil
}

// reduce books a close that filled only part of the position. The remainder
// stays active so the next trigger, or a retried manual close, sends another order.
func (c *Coordinator) reduce(ctx context.Context, exec *model.OrderExecution, pos *model.Position, reason model.CloseReason) error {
	previous := pos.Size
	pos.Size = pos.Size.Sub(exec.FilledQuantity)
	if err := c.store.ReducePosition(ctx, exec, pos, previous); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"component":    "coordinator",
		"user_id":      pos.UserID,
		"position_id":  pos.ID,
		"execution_id": exec.ID,
		"reason":       reason,
		"filled":       exec.FilledQuantity.String(),
		"remaining":    pos.Size.String(),
	}).Warn("close partially filled, position stays open")

	notify.Send(ctx, c.notifier, notify.Event{
		Type:         notify.EventCloseFailed,
		UserID:       pos.UserID,
		CredentialID: pos.CredentialID,
		ExecutionID:  exec.ID,
		PositionID:   pos.ID,
		Venue:        pos.Venue,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Reason:       reason,
		Message:      fmt.Sprintf("close filled %s of %s, %s remains open", exec.FilledQuantity, previous, pos.Size),
	})
	return nil
}

func (c *Coordinator) fail(ctx context.Context, exec *model.OrderExecution, kind, detail string) {
	err := c.store.FailExecution(ctx, exec.ID, kind, detail)
	if err != nil && !errors.Is(err, repository.ErrStaleWrite) {
		c.store.Capture(ctx, "coordinator", "fail", err, map[string]interface{}{"execution_id": exec.ID})
		return
	}
	if err == nil {
		exec.Status = model.ExecutionStatusFailed
		exec.ErrorKind = kind
		exec.ErrorDetail = &detail
	}

	logger.WithFields(map[string]interface{}{
		"component":    "coordinator",
		"user_id":      exec.UserID,
		"execution_id": exec.ID,
		"venue":        exec.Venue,
		"kind":         kind,
	}).Warn("execution failed")

	notify.Send(ctx, c.notifier, notify.Event{
		Type:         notify.EventOrderFailed,
		UserID:       exec.UserID,
		CredentialID: exec.CredentialID,
		ExecutionID:  exec.ID,
		Venue:        exec.Venue,
		Symbol:       exec.Symbol,
		Side:         exec.Side,
		Kind:         kind,
		Message:      detail,
	})
}

func (c *Coordinator) failCredential(ctx context.Context, cred *model.ExchangeCredential, exErr *connectors.ExchangeError) {
	now := c.now()
	err := c.store.SetCredentialStatus(ctx, cred.ID, repository.CredentialStatusUpdate{
		Status:        model.CredentialStatusFailed,
		FailureReason: string(exErr.Kind),
		Diagnosis:     exErr.Diagnosis(),
		ValidatedAt:   &now,
	})
	if err != nil {
		c.store.Capture(ctx, "coordinator", "failCredential", err, map[string]interface{}{"credential_id": cred.ID})
	}
	cred.Status = model.CredentialStatusFailed

	notify.Send(ctx, c.notifier, notify.Event{
		Type:         notify.EventCredentialFailed,
		UserID:       cred.UserID,
		CredentialID: cred.ID,
		Venue:        cred.Venue,
		Kind:         string(exErr.Kind),
		Message:      exErr.Diagnosis(),
	})
}

func (c *Coordinator) logPending(exec *model.OrderExecution, err error) {
	entry := logger.WithFields(map[string]interface{}{
		"component":       "coordinator",
		"user_id":         exec.UserID,
		"execution_id":    exec.ID,
		"client_order_id": exec.ClientOrderID,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("execution left pending for reconciliation")
}
