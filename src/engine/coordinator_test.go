package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/notify"
	"orderengine/src/resilience"
	"orderengine/src/risk"
	"orderengine/src/selector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitExecutesAndOpensPosition(t *testing.T) {
	h := newHarness(Config{})
	req := longBTC()
	req.TakeProfit = decPtr("55000")

	exec, err := h.coord.Submit(context.Background(), testUser, req)
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionStatusExecuted, exec.Status)
	assert.Equal(t, binanceCred, exec.CredentialID)
	assert.Equal(t, "BTCUSDT", exec.Symbol)
	assert.Equal(t, "cid-1", exec.ClientOrderID)
	assert.True(t, exec.Notional.Equal(dec("500")), exec.Notional.String())

	positions, err := h.store.ActivePositions(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, exec.ID, pos.OpenExecutionID)
	assert.Equal(t, model.SideLong, pos.Side)
	assert.True(t, pos.Size.Equal(dec("0.01")))
	assert.True(t, pos.EntryPrice.Equal(dec("50000")))
	require.NotNil(t, pos.StopLoss)
	assert.True(t, pos.StopLoss.Equal(dec("48000")))
	require.NotNil(t, pos.TakeProfit)

	assert.Equal(t, []int{1}, h.binance.leverages)
	assert.Empty(t, h.bybit.submitted())
	assert.Contains(t, h.notes.types(), notify.EventOrderExecuted)
}

func TestSubmitRejectionRecordsOneViolation(t *testing.T) {
	tests := []struct {
		name string
		req  func() model.OrderRequest
		kind risk.Kind
	}{
		{
			name: "leverage above cap",
			req: func() model.OrderRequest {
				r := longBTC()
				r.Leverage = 20
				return r
			},
			kind: risk.KindLeverageExceeded,
		},
		{
			name: "missing stop loss",
			req: func() model.OrderRequest {
				r := longBTC()
				r.StopLoss = nil
				return r
			},
			kind: risk.KindMissingStopLoss,
		},
		{
			name: "stop loss on the wrong side",
			req: func() model.OrderRequest {
				r := longBTC()
				r.StopLoss = decPtr("51000")
				return r
			},
			kind: risk.KindMissingStopLoss,
		},
		{
			name: "margin above balance share",
			req: func() model.OrderRequest {
				r := longBTC()
				r.Sizing = model.Quantity(dec("0.2"))
				return r
			},
			kind: risk.KindInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Config{})

			exec, err := h.coord.Submit(context.Background(), testUser, tt.req())
			assert.Nil(t, exec)
			vErr, ok := risk.AsValidationError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.kind, vErr.Kind)

			assert.Equal(t, 1, h.store.violationCount())
			assert.Empty(t, h.store.allExecutions())
			assert.Empty(t, h.binance.submitted())
			assert.Empty(t, h.bybit.submitted())
			assert.Contains(t, h.notes.types(), notify.EventOrderRejected)
		})
	}
}

func TestSubmitInactiveUserRejected(t *testing.T) {
	h := newHarness(Config{})
	h.store.users[testUser].Status = model.UserStatusSuspended

	_, err := h.coord.Submit(context.Background(), testUser, longBTC())
	vErr, ok := risk.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, risk.KindUserInactive, vErr.Kind)
	assert.Equal(t, 1, h.store.violationCount())
}

func TestSubmitUnknownUser(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.coord.Submit(context.Background(), 42, longBTC())
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Zero(t, h.store.violationCount())
}

func TestSubmitConcurrentRespectsPositionCap(t *testing.T) {
	tests := []struct {
		name     string
		existing int
		want     int
	}{
		{"empty book", 0, 2},
		{"one open", 1, 1},
		{"full", 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Config{})
			for i := 0; i < tt.existing; i++ {
				h.store.addPosition(&model.Position{UserID: testUser, CredentialID: binanceCred, Active: true})
			}

			const n = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				rejected  int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.coord.Submit(context.Background(), testUser, longBTC())
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						succeeded++
						return
					}
					if vErr, ok := risk.AsValidationError(err); ok && vErr.Kind == risk.KindPositionLimitExceeded {
						rejected++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, tt.want, succeeded)
			assert.Equal(t, n-tt.want, rejected)
			count, _ := h.store.CountActivePositions(context.Background(), testUser)
			assert.Equal(t, tt.existing+tt.want, count)
		})
	}
}

func TestSubmitPendingOpenCountsTowardCap(t *testing.T) {
	h := newHarness(Config{})
	h.store.addPosition(&model.Position{UserID: testUser, CredentialID: binanceCred, Active: true})
	require.NoError(t, h.store.CreateExecution(context.Background(), &model.OrderExecution{
		UserID:        testUser,
		CredentialID:  binanceCred,
		Purpose:       model.ExecutionPurposeOpen,
		ClientOrderID: "unresolved",
	}))

	_, err := h.coord.Submit(context.Background(), testUser, longBTC())
	vErr, ok := risk.AsValidationError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, risk.KindPositionLimitExceeded, vErr.Kind)
}

func TestSubmitFailsOverOnFatalError(t *testing.T) {
	h := newHarness(Config{})
	h.binance.submitFn = func(int, connectors.OrderParams) (*connectors.ExecutionResult, error) {
		return nil, &connectors.ExchangeError{Venue: model.VenueBinance, Kind: connectors.KindInvalidKey, Code: -2015, Message: "Invalid API-key"}
	}

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	require.NoError(t, err)
	assert.Equal(t, bybitCred, exec.CredentialID)
	assert.Equal(t, model.ExecutionStatusExecuted, exec.Status)

	primary, _ := h.store.GetCredential(context.Background(), binanceCred)
	assert.Equal(t, model.CredentialStatusFailed, primary.Status)
	assert.Equal(t, string(connectors.KindInvalidKey), primary.FailureReason)
	assert.NotEmpty(t, primary.Diagnosis)

	failed := h.store.executionsByStatus(model.ExecutionStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, binanceCred, failed[0].CredentialID)
	assert.Equal(t, string(connectors.KindInvalidKey), failed[0].ErrorKind)
	assert.Len(t, h.store.executionsByStatus(model.ExecutionStatusExecuted), 1)

	// one submit only: fatal errors are not retried
	assert.Len(t, h.binance.submitted(), 1)
	assert.Equal(t, resilience.StateClosed, h.breakers.Get("binance").State())
	assert.Contains(t, h.notes.types(), notify.EventCredentialFailed)
}

func TestSubmitFailoverIsBounded(t *testing.T) {
	h := newHarness(Config{MaxCredentialAttempts: 1})
	h.binance.submitFn = func(int, connectors.OrderParams) (*connectors.ExecutionResult, error) {
		return nil, &connectors.ExchangeError{Venue: model.VenueBinance, Kind: connectors.KindPermissionDenied, Code: -2015}
	}

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	assert.True(t, connectors.IsFatal(err), "got %v", err)
	require.NotNil(t, exec)
	assert.Equal(t, model.ExecutionStatusFailed, exec.Status)
	assert.Empty(t, h.bybit.submitted())
}

func TestSubmitFailoverCandidateMustPassAccountChecks(t *testing.T) {
	stale := time.Now().UTC().Add(-24 * time.Hour)

	tests := []struct {
		name   string
		mutate func(c *model.ExchangeCredential)
	}{
		{"stale snapshot", func(c *model.ExchangeCredential) { c.BalanceAt = &stale }},
		// margin 500 fits the balance but not 50% of it
		{"margin above position share", func(c *model.ExchangeCredential) { c.AvailableBalance = dec("800") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Config{})
			tt.mutate(h.store.creds[bybitCred])
			h.binance.submitFn = func(int, connectors.OrderParams) (*connectors.ExecutionResult, error) {
				return nil, &connectors.ExchangeError{Venue: model.VenueBinance, Kind: connectors.KindInvalidKey, Code: -2015}
			}

			exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
			assert.True(t, connectors.IsFatal(err), "got %v", err)
			require.NotNil(t, exec)
			assert.Equal(t, binanceCred, exec.CredentialID)
			assert.Empty(t, h.bybit.submitted())
			assert.Empty(t, h.store.executionsByStatus(model.ExecutionStatusExecuted))
			assert.Zero(t, h.store.violationCount(), "the order itself passed validation")
		})
	}
}

func TestSubmitRetriesReuseClientOrderID(t *testing.T) {
	h := newHarness(Config{})
	h.binance.submitFn = func(call int, p connectors.OrderParams) (*connectors.ExecutionResult, error) {
		if call < 3 {
			return nil, timeoutErr(model.VenueBinance)
		}
		return filled(p, dec("50000")), nil
	}

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusExecuted, exec.Status)

	submits := h.binance.submitted()
	require.Len(t, submits, 3)
	for _, p := range submits {
		assert.Equal(t, exec.ClientOrderID, p.ClientOrderID)
	}
	assert.Equal(t, []int{1}, h.binance.leverages, "leverage is set once")
	assert.Len(t, h.store.allExecutions(), 1)
}

func TestSubmitTransientExhaustion(t *testing.T) {
	tests := []struct {
		name       string
		query      func(string) (*connectors.ExecutionResult, error)
		wantErr    error
		wantStatus string
		positions  int
	}{
		{
			name: "venue reports the fill",
			query: func(id string) (*connectors.ExecutionResult, error) {
				return filled(connectors.OrderParams{ClientOrderID: id, Quantity: dec("0.01")}, dec("50010")), nil
			},
			wantStatus: model.ExecutionStatusExecuted,
			positions:  1,
		},
		{
			name: "order never landed",
			query: func(string) (*connectors.ExecutionResult, error) {
				return nil, connectors.ErrOrderNotFound
			},
			wantStatus: model.ExecutionStatusFailed,
		},
		{
			name: "venue unreachable",
			query: func(string) (*connectors.ExecutionResult, error) {
				return nil, errors.New("connection refused")
			},
			wantErr:    ErrExecutionPending,
			wantStatus: model.ExecutionStatusPending,
		},
		{
			name: "order cancelled without fill",
			query: func(id string) (*connectors.ExecutionResult, error) {
				return &connectors.ExecutionResult{ClientOrderID: id, Status: connectors.OrderStatusCanceled}, nil
			},
			wantErr:    ErrOrderNotFilled,
			wantStatus: model.ExecutionStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Config{})
			h.binance.submitFn = func(int, connectors.OrderParams) (*connectors.ExecutionResult, error) {
				return nil, timeoutErr(model.VenueBinance)
			}
			h.binance.queryFn = tt.query

			exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantStatus == model.ExecutionStatusFailed:
				assert.True(t, connectors.IsRetryable(err), "got %v", err)
			default:
				assert.NoError(t, err)
			}

			require.NotNil(t, exec)
			stored := h.store.executions[exec.ID]
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Len(t, h.binance.submitted(), 3)
			assert.Empty(t, h.bybit.submitted(), "transient errors never fail over")

			count, _ := h.store.CountActivePositions(context.Background(), testUser)
			assert.Equal(t, tt.positions, count)
		})
	}
}

func TestSubmitVenueRejectionFailsWithoutQuery(t *testing.T) {
	h := newHarness(Config{})
	h.binance.submitFn = func(int, connectors.OrderParams) (*connectors.ExecutionResult, error) {
		return nil, &connectors.ExchangeError{Venue: model.VenueBinance, Kind: connectors.KindUnknown, Code: -4003, Message: "Quantity less than zero."}
	}
	queried := false
	h.binance.queryFn = func(string) (*connectors.ExecutionResult, error) {
		queried = true
		return nil, connectors.ErrOrderNotFound
	}

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	require.Error(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, exec.Status)
	assert.Len(t, h.binance.submitted(), 1)
	assert.False(t, queried)
	assert.Contains(t, h.notes.types(), notify.EventOrderFailed)
}

func TestSubmitSkipsOpenBreaker(t *testing.T) {
	h := newHarness(Config{MaxCredentialAttempts: 1})
	for i := 0; i < 5; i++ {
		h.breakers.Get("binance").Failure()
	}
	require.Equal(t, resilience.StateOpen, h.breakers.Get("binance").State())

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	require.NoError(t, err)
	assert.Equal(t, bybitCred, exec.CredentialID)
	assert.Empty(t, h.binance.submitted())
}

func TestSubmitAllBreakersOpen(t *testing.T) {
	h := newHarness(Config{})
	for _, venue := range []string{"binance", "bybit"} {
		for i := 0; i < 5; i++ {
			h.breakers.Get(venue).Failure()
		}
	}

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	assert.Nil(t, exec)
	assert.ErrorIs(t, err, resilience.ErrBreakerOpen)
	assert.Empty(t, h.store.allExecutions())
}

func TestSubmitWithoutConnectedAccount(t *testing.T) {
	h := newHarness(Config{})
	h.store.creds[binanceCred].Status = model.CredentialStatusFailed
	h.store.creds[bybitCred].Status = model.CredentialStatusUnvalidated

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	assert.Nil(t, exec)
	vErr, ok := risk.AsValidationError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, risk.KindInsufficientBalance, vErr.Kind)
	assert.NotErrorIs(t, err, selector.ErrNoExchangeAvailable)
	assert.Empty(t, h.store.allExecutions())
}

func TestSubmitCancelledCallerLeavesPending(t *testing.T) {
	h := newHarness(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	h.binance.submitFn = func(int, connectors.OrderParams) (*connectors.ExecutionResult, error) {
		cancel()
		return nil, &connectors.ExchangeError{Venue: model.VenueBinance, Kind: connectors.KindTimeout, Message: "request canceled", Err: context.Canceled}
	}
	queried := false
	h.binance.queryFn = func(string) (*connectors.ExecutionResult, error) {
		queried = true
		return nil, connectors.ErrOrderNotFound
	}

	exec, err := h.coord.Submit(ctx, testUser, longBTC())
	assert.ErrorIs(t, err, ErrExecutionPending)
	require.NotNil(t, exec)
	assert.Equal(t, model.ExecutionStatusPending, h.store.executions[exec.ID].Status)
	assert.False(t, queried)
	assert.Len(t, h.binance.submitted(), 1)
}

func TestSubmitLostWriteStaysPending(t *testing.T) {
	h := newHarness(Config{})
	h.store.failCompletion = errors.New("connection reset")

	exec, err := h.coord.Submit(context.Background(), testUser, longBTC())
	assert.ErrorIs(t, err, ErrExecutionPending)
	require.NotNil(t, exec)
	assert.Equal(t, model.ExecutionStatusPending, h.store.executions[exec.ID].Status)
	assert.Len(t, h.store.captured, 1)
}
