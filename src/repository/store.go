package repository

import (
	"context"
	"time"

	"orderengine/src/model"
	"orderengine/src/resilience"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Store is the single persistence entry point of the engine. Writes that the
// venue has already confirmed are retried locally before giving up; what is
// still lost after that is repaired by the reconciler.
type Store struct {
	db    *gorm.DB
	retry resilience.RetryPolicy

	Users       *GormUserRepository
	Credentials *GormCredentialRepository
	Executions  *ExecutionRepository
	Positions   *PositionRepository
	Violations  *RiskViolationRepository
	Exceptions  *ExceptionRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		retry:       resilience.RetryPolicy{MaxRetries: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond},
		Users:       NewUserRepository(db),
		Credentials: NewCredentialRepository(db),
		Executions:  NewExecutionRepository(db),
		Positions:   NewPositionRepository(db),
		Violations:  NewRiskViolationRepository(db),
		Exceptions:  NewExceptionRepository(db),
	}
}

// WithRetryPolicy replaces the local write retry policy.
func (s *Store) WithRetryPolicy(p resilience.RetryPolicy) *Store {
	s.retry = p
	return s
}

func (s *Store) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		return fn(ctx)
	}, retryableWrite)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "store",
			"op":        op,
		}).WithError(err).Error("write failed")
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, userID uint) (*model.User, error) {
	return s.Users.FindByID(ctx, userID)
}

func (s *Store) GetCredential(ctx context.Context, id uint) (*model.ExchangeCredential, error) {
	return s.Credentials.FindByID(ctx, id)
}

func (s *Store) UserCredentials(ctx context.Context, userID uint) ([]model.ExchangeCredential, error) {
	return s.Credentials.ListByUser(ctx, userID)
}

func (s *Store) CredentialsByStatus(ctx context.Context, statuses ...string) ([]model.ExchangeCredential, error) {
	return s.Credentials.ListByStatus(ctx, statuses...)
}

func (s *Store) SetCredentialStatus(ctx context.Context, id uint, u CredentialStatusUpdate) error {
	return s.write(ctx, "credential.status", func(ctx context.Context) error {
		return s.Credentials.UpdateStatus(ctx, id, u)
	})
}

func (s *Store) UpdateBalance(ctx context.Context, id uint, available, total decimal.Decimal, at time.Time) error {
	return s.write(ctx, "credential.balance", func(ctx context.Context) error {
		return s.Credentials.UpdateBalance(ctx, id, available, total, at)
	})
}

func (s *Store) CountActivePositions(ctx context.Context, userID uint) (int, error) {
	n, err := s.Positions.CountActive(ctx, userID)
	return int(n), err
}

// CountPendingOpens counts opening orders the venue may still fill.
func (s *Store) CountPendingOpens(ctx context.Context, userID uint) (int, error) {
	n, err := s.Executions.CountPending(ctx, userID, model.ExecutionPurposeOpen)
	return int(n), err
}

func (s *Store) PendingClose(ctx context.Context, positionID uint) (*model.OrderExecution, error) {
	return s.Executions.FindPendingClose(ctx, positionID)
}

func (s *Store) ExecutedNotionalSince(ctx context.Context, userID uint, since time.Time) (decimal.Decimal, error) {
	return s.Executions.SumExecutedNotional(ctx, userID, since)
}

func (s *Store) RecordViolation(ctx context.Context, v *model.RiskViolation) error {
	return s.write(ctx, "risk_violation.create", func(ctx context.Context) error {
		return s.Violations.Create(ctx, v)
	})
}

func (s *Store) CreateExecution(ctx context.Context, e *model.OrderExecution) error {
	return s.write(ctx, "execution.create", func(ctx context.Context) error {
		return s.Executions.Create(ctx, e)
	})
}

func (s *Store) FailExecution(ctx context.Context, id uint, kind, detail string) error {
	return s.write(ctx, "execution.fail", func(ctx context.Context) error {
		return s.Executions.MarkFailed(ctx, id, kind, detail)
	})
}

func (s *Store) PendingExecutions(ctx context.Context, olderThan time.Time, limit int) ([]model.OrderExecution, error) {
	return s.Executions.ListPending(ctx, olderThan, limit)
}

func (s *Store) ExecutionHistory(ctx context.Context, userID uint, from, to time.Time) ([]model.OrderExecution, error) {
	opts := ExecutionSearchOptions{UserID: userID}
	if !from.IsZero() {
		opts.CreatedAfter = &from
	}
	if !to.IsZero() {
		opts.CreatedBefore = &to
	}
	return s.Executions.Search(ctx, opts)
}

func (s *Store) GetPosition(ctx context.Context, id uint) (*model.Position, error) {
	return s.Positions.FindByID(ctx, id)
}

func (s *Store) ActivePositions(ctx context.Context, userID uint) ([]model.Position, error) {
	return s.Positions.ListActiveByUser(ctx, userID)
}

func (s *Store) AllActivePositions(ctx context.Context) ([]model.Position, error) {
	return s.Positions.ListActive(ctx)
}

func (s *Store) UpdatePositionMark(ctx context.Context, id uint, lastPrice, pnl decimal.Decimal) error {
	return s.Positions.UpdateMark(ctx, id, lastPrice, pnl)
}

// CompleteOpen marks the opening execution executed and creates its position
// in one transaction.
func (s *Store) CompleteOpen(ctx context.Context, exec *model.OrderExecution, pos *model.Position) error {
	return s.write(ctx, "execution.complete_open", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.Executions.WithDB(tx).MarkExecuted(ctx, exec); err != nil {
				return err
			}
			pos.ID = 0
			pos.OpenExecutionID = exec.ID
			return s.Positions.WithDB(tx).Create(ctx, pos)
		})
	})
}

// CompleteClose marks the closing execution executed and deactivates the
// position with the reason and realized PnL already set on pos.
func (s *Store) CompleteClose(ctx context.Context, exec *model.OrderExecution, pos *model.Position) error {
	return s.write(ctx, "execution.complete_close", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.Executions.WithDB(tx).MarkExecuted(ctx, exec); err != nil {
				return err
			}
			return s.Positions.WithDB(tx).Deactivate(ctx, pos, exec.ID, *exec.ExecutedAt)
		})
	})
}

// ReducePosition marks a partially filled closing execution executed and shrinks
// the position to pos.Size. previousSize guards against a concurrent change.
func (s *Store) ReducePosition(ctx context.Context, exec *model.OrderExecution, pos *model.Position, previousSize decimal.Decimal) error {
	return s.write(ctx, "execution.reduce_position", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.Executions.WithDB(tx).MarkExecuted(ctx, exec); err != nil {
				return err
			}
			return s.Positions.WithDB(tx).Reduce(ctx, pos, previousSize)
		})
	})
}

func (s *Store) ExecutionsMissingCommission(ctx context.Context, since time.Time, limit int) ([]model.OrderExecution, error) {
	return s.Executions.ListMissingCommission(ctx, since, limit)
}

// BackfillCommission records a commission learned after the fill. For a closing
// execution it is also taken off the position's realized PnL.
func (s *Store) BackfillCommission(ctx context.Context, exec *model.OrderExecution, commission decimal.Decimal) error {
	return s.write(ctx, "execution.backfill_commission", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.Executions.WithDB(tx).BackfillCommission(ctx, exec.ID, commission); err != nil {
				return err
			}
			if exec.Purpose != model.ExecutionPurposeClose || exec.PositionID == nil {
				return nil
			}
			return s.Positions.WithDB(tx).AddRealizedPnL(ctx, *exec.PositionID, commission.Neg())
		})
	})
}

func (s *Store) Capture(ctx context.Context, module, method string, err error, data map[string]interface{}) {
	s.Exceptions.Capture(ctx, module, method, err, data)
}
