package engine

import (
	"context"
	"fmt"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/notify"

	logger "github.com/sirupsen/logrus"
)

// ClosePosition sends a reduce-only opposite order for the whole position on the
// credential that opened it. It is detached from the caller's cancellation: once
// issued, a close runs to its own timeout. The position is deactivated only when
// the closing execution is executed.
func (c *Coordinator) ClosePosition(ctx context.Context, positionID uint, reason model.CloseReason) (*model.OrderExecution, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("invalid close reason %q", reason)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout)
	defer cancel()

	pos, err := c.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}

	unlock := c.arena.Lock(pos.UserID)
	defer unlock()

	// re-read under the user lock, another close may have won
	pos, err = c.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos == nil || !pos.Active {
		return nil, ErrPositionNotFound
	}

	pending, err := c.store.PendingClose(ctx, pos.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return pending, ErrPositionClosing
	}

	cred, err := c.store.GetCredential(ctx, pos.CredentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("position %d: %w", pos.ID, ErrCredentialNotFound)
	}
	adapter, err := c.adapters.For(cred)
	if err != nil {
		return nil, fmt.Errorf("adapter for credential %d: %w", cred.ID, err)
	}

	exec := &model.OrderExecution{
		UserID:        pos.UserID,
		CredentialID:  cred.ID,
		Venue:         cred.Venue,
		Purpose:       model.ExecutionPurposeClose,
		PositionID:    &pos.ID,
		Symbol:        pos.Symbol,
		Side:          pos.Side.Opposite(),
		Kind:          model.OrderKindMarket,
		Quantity:      pos.Size,
		Leverage:      pos.Leverage,
		Notional:      pos.Notional(),
		CloseReason:   reason,
		ClientOrderID: c.newClientOrderID(),
	}
	if err := c.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	entry := logger.WithFields(map[string]interface{}{
		"component":       "coordinator",
		"user_id":         pos.UserID,
		"position_id":     pos.ID,
		"execution_id":    exec.ID,
		"client_order_id": exec.ClientOrderID,
		"venue":           pos.Venue,
		"symbol":          pos.Symbol,
		"reason":          reason,
	})
	entry.Info("closing position")

	// closes are not gated by the breaker but still report to it
	breaker := c.breakers.Get(string(cred.Venue))
	res, err := c.place(ctx, adapter, connectors.OrderParams{
		Symbol:        exec.Symbol,
		Side:          exec.Side,
		Kind:          exec.Kind,
		Quantity:      exec.Quantity,
		ClientOrderID: exec.ClientOrderID,
		ReduceOnly:    true,
	}, 0)
	if err := c.settle(ctx, exec, cred, adapter, breaker, res, err); err != nil {
		entry.WithError(err).Warn("close not confirmed")
		notify.Send(ctx, c.notifier, notify.Event{
			Type:         notify.EventCloseFailed,
			UserID:       pos.UserID,
			CredentialID: cred.ID,
			ExecutionID:  exec.ID,
			PositionID:   pos.ID,
			Venue:        pos.Venue,
			Symbol:       pos.Symbol,
			Reason:       reason,
			Message:      err.Error(),
		})
		return exec, err
	}
	return exec, nil
}
