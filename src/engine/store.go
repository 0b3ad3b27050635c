package engine

import (
	"context"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/repository"

	"github.com/shopspring/decimal"
)

// Store is the persistence the engine needs. *repository.Store implements it.
type Store interface {
	GetUser(ctx context.Context, userID uint) (*model.User, error)
	GetCredential(ctx context.Context, id uint) (*model.ExchangeCredential, error)
	UserCredentials(ctx context.Context, userID uint) ([]model.ExchangeCredential, error)
	SetCredentialStatus(ctx context.Context, id uint, u repository.CredentialStatusUpdate) error

	CountActivePositions(ctx context.Context, userID uint) (int, error)
	CountPendingOpens(ctx context.Context, userID uint) (int, error)
	ExecutedNotionalSince(ctx context.Context, userID uint, since time.Time) (decimal.Decimal, error)
	RecordViolation(ctx context.Context, v *model.RiskViolation) error

	CreateExecution(ctx context.Context, e *model.OrderExecution) error
	FailExecution(ctx context.Context, id uint, kind, detail string) error
	PendingExecutions(ctx context.Context, olderThan time.Time, limit int) ([]model.OrderExecution, error)
	PendingClose(ctx context.Context, positionID uint) (*model.OrderExecution, error)
	ExecutionsMissingCommission(ctx context.Context, since time.Time, limit int) ([]model.OrderExecution, error)
	BackfillCommission(ctx context.Context, exec *model.OrderExecution, commission decimal.Decimal) error
	ExecutionHistory(ctx context.Context, userID uint, from, to time.Time) ([]model.OrderExecution, error)

	GetPosition(ctx context.Context, id uint) (*model.Position, error)
	ActivePositions(ctx context.Context, userID uint) ([]model.Position, error)

	CompleteOpen(ctx context.Context, exec *model.OrderExecution, pos *model.Position) error
	CompleteClose(ctx context.Context, exec *model.OrderExecution, pos *model.Position) error
	ReducePosition(ctx context.Context, exec *model.OrderExecution, pos *model.Position, previousSize decimal.Decimal) error

	Capture(ctx context.Context, module, method string, err error, data map[string]interface{})
}

// AdapterProvider hands out the venue adapter of a credential. *connectors.Pool implements it.
type AdapterProvider interface {
	For(cred *model.ExchangeCredential) (connectors.Adapter, error)
}

var _ Store = (*repository.Store)(nil)
var _ AdapterProvider = (*connectors.Pool)(nil)
