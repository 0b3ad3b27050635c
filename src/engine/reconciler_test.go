package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconcilerConfig() Config {
	return Config{
		ReconcileGrace:       2 * time.Minute,
		ReconcileCancelAfter: 10 * time.Minute,
		ReconcileBatch:       50,
	}
}

func pendingOpen(t *testing.T, h *harness, credentialID uint, age time.Duration) *model.OrderExecution {
	t.Helper()
	exec := &model.OrderExecution{
		UserID:        testUser,
		CredentialID:  credentialID,
		Venue:         model.VenueBinance,
		Purpose:       model.ExecutionPurposeOpen,
		Symbol:        "BTCUSDT",
		Side:          model.SideLong,
		Kind:          model.OrderKindMarket,
		Quantity:      dec("0.01"),
		Leverage:      1,
		StopLoss:      decPtr("48000"),
		ClientOrderID: "stuck-" + age.String(),
		CreatedAt:     time.Now().UTC().Add(-age),
	}
	require.NoError(t, h.store.CreateExecution(context.Background(), exec))
	return exec
}

func TestReconcilerCompletesFilledOrder(t *testing.T) {
	h := newHarness(reconcilerConfig())
	r := NewReconciler(reconcilerConfig(), h.coord)
	exec := pendingOpen(t, h, binanceCred, 5*time.Minute)
	h.binance.queryFn = func(id string) (*connectors.ExecutionResult, error) {
		return filled(connectors.OrderParams{ClientOrderID: id, Quantity: dec("0.01")}, dec("50100")), nil
	}

	require.NoError(t, r.RunOnce(context.Background()))

	stored := h.store.executions[exec.ID]
	assert.Equal(t, model.ExecutionStatusExecuted, stored.Status)
	positions, _ := h.store.ActivePositions(context.Background(), testUser)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].EntryPrice.Equal(dec("50100")))
	require.NotNil(t, positions[0].StopLoss)
}

func TestReconcilerRepairsLostWrite(t *testing.T) {
	h := newHarness(reconcilerConfig())
	h.store.failCompletion = errors.New("connection reset")

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	require.ErrorIs(t, err, ErrExecutionPending)

	h.store.failCompletion = nil
	h.store.executions[exec.ID].CreatedAt = time.Now().UTC().Add(-3 * time.Minute)
	h.binance.queryFn = func(id string) (*connectors.ExecutionResult, error) {
		return filled(connectors.OrderParams{ClientOrderID: id, Quantity: dec("0.01")}, dec("50000")), nil
	}

	require.NoError(t, NewReconciler(reconcilerConfig(), h.coord).RunOnce(context.Background()))
	assert.Equal(t, model.ExecutionStatusExecuted, h.store.executions[exec.ID].Status)
	count, _ := h.store.CountActivePositions(context.Background(), testUser)
	assert.Equal(t, 1, count)
}

func TestReconcilerOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		credential uint
		age        time.Duration
		query      func(string) (*connectors.ExecutionResult, error)
		wantStatus string
		wantKind   string
		cancelled  bool
	}{
		{
			name:       "never reached the venue",
			credential: binanceCred,
			age:        5 * time.Minute,
			query: func(string) (*connectors.ExecutionResult, error) {
				return nil, connectors.ErrOrderNotFound
			},
			wantStatus: model.ExecutionStatusFailed,
			wantKind:   "not_found",
		},
		{
			name:       "credential removed",
			credential: 999,
			age:        5 * time.Minute,
			wantStatus: model.ExecutionStatusFailed,
			wantKind:   "credential_missing",
		},
		{
			name:       "venue down keeps it pending",
			credential: binanceCred,
			age:        5 * time.Minute,
			query: func(string) (*connectors.ExecutionResult, error) {
				return nil, errors.New("503")
			},
			wantStatus: model.ExecutionStatusPending,
		},
		{
			name:       "resting order inside the window",
			credential: binanceCred,
			age:        5 * time.Minute,
			query: func(id string) (*connectors.ExecutionResult, error) {
				return &connectors.ExecutionResult{ClientOrderID: id, Status: connectors.OrderStatusNew}, nil
			},
			wantStatus: model.ExecutionStatusPending,
		},
		{
			name:       "resting order past the window is cancelled",
			credential: binanceCred,
			age:        15 * time.Minute,
			query: func(id string) (*connectors.ExecutionResult, error) {
				return &connectors.ExecutionResult{ClientOrderID: id, Status: connectors.OrderStatusNew}, nil
			},
			wantStatus: model.ExecutionStatusPending,
			cancelled:  true,
		},
		{
			name:       "expired without a fill",
			credential: binanceCred,
			age:        15 * time.Minute,
			query: func(id string) (*connectors.ExecutionResult, error) {
				return &connectors.ExecutionResult{ClientOrderID: id, Status: connectors.OrderStatusExpired}, nil
			},
			wantStatus: model.ExecutionStatusFailed,
			wantKind:   "not_filled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(reconcilerConfig())
			h.binance.queryFn = tt.query
			exec := pendingOpen(t, h, tt.credential, tt.age)

			require.NoError(t, NewReconciler(reconcilerConfig(), h.coord).RunOnce(context.Background()))

			stored := h.store.executions[exec.ID]
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantKind, stored.ErrorKind)
			if tt.cancelled {
				assert.Equal(t, []string{exec.ClientOrderID}, h.binance.cancels)
			} else {
				assert.Empty(t, h.binance.cancels)
			}
		})
	}
}

func TestReconcilerSkipsRecentExecutions(t *testing.T) {
	h := newHarness(reconcilerConfig())
	exec := pendingOpen(t, h, binanceCred, 30*time.Second)
	queried := false
	h.binance.queryFn = func(string) (*connectors.ExecutionResult, error) {
		queried = true
		return nil, connectors.ErrOrderNotFound
	}

	require.NoError(t, NewReconciler(reconcilerConfig(), h.coord).RunOnce(context.Background()))
	assert.False(t, queried)
	assert.Equal(t, model.ExecutionStatusPending, h.store.executions[exec.ID].Status)
}

func TestReconcilerClosesPositionOnLateFill(t *testing.T) {
	h := newHarness(reconcilerConfig())
	pos := openPosition(h, model.SideLong)
	h.binance.submitFn = func(int, connectors.OrderParams) (*connectors.ExecutionResult, error) {
		return nil, timeoutErr(model.VenueBinance)
	}
	h.binance.queryFn = func(string) (*connectors.ExecutionResult, error) {
		return nil, errors.New("venue unreachable")
	}

	closeExec, err := h.coord.ClosePosition(context.Background(), pos.ID, model.CloseReasonStopLoss)
	require.ErrorIs(t, err, ErrExecutionPending)

	h.store.executions[closeExec.ID].CreatedAt = time.Now().UTC().Add(-5 * time.Minute)
	h.binance.queryFn = func(id string) (*connectors.ExecutionResult, error) {
		return filled(connectors.OrderParams{ClientOrderID: id, Quantity: dec("0.01")}, dec("48000")), nil
	}
	require.NoError(t, NewReconciler(reconcilerConfig(), h.coord).RunOnce(context.Background()))

	closed, _ := h.store.GetPosition(context.Background(), pos.ID)
	assert.False(t, closed.Active)
	assert.Equal(t, model.CloseReasonStopLoss, closed.CloseReason)
	assert.True(t, closed.RealizedPnL.Equal(dec("-20")), closed.RealizedPnL.String())
}

func TestReconcilerBackfillsCommission(t *testing.T) {
	tests := []struct {
		name       string
		commission string
		window     time.Duration
		want       string
		pnl        string
	}{
		{"late commission reaches the close and its position", "0.25", time.Hour, "0.25", "9.75"},
		{"venue still reports none", "0", time.Hour, "0", "10"},
		{"disabled", "0.25", 0, "0", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := reconcilerConfig()
			cfg.CommissionBackfillWindow = tt.window
			h := newHarness(cfg)
			h.binance.price = dec("51000")
			pos := openPosition(h, model.SideLong)

			// the fee lookup failed when the close was filled
			exec, err := h.coord.ClosePosition(context.Background(), pos.ID, model.CloseReasonTakeProfit)
			require.NoError(t, err)
			require.True(t, h.store.executions[exec.ID].Commission.IsZero())

			h.binance.queryFn = func(id string) (*connectors.ExecutionResult, error) {
				res := filled(connectors.OrderParams{ClientOrderID: id, Quantity: dec("0.01")}, dec("51000"))
				res.Commission = dec(tt.commission)
				return res, nil
			}

			r := NewReconciler(cfg, h.coord)
			require.NoError(t, r.RunOnce(context.Background()))
			// a second pass finds nothing left to do
			require.NoError(t, r.RunOnce(context.Background()))

			assert.True(t, h.store.executions[exec.ID].Commission.Equal(dec(tt.want)), h.store.executions[exec.ID].Commission.String())
			closed, _ := h.store.GetPosition(context.Background(), pos.ID)
			assert.True(t, closed.RealizedPnL.Equal(dec(tt.pnl)), closed.RealizedPnL.String())
		})
	}
}
