package accounts

import (
	"context"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/repository"

	"github.com/shopspring/decimal"
)

type Store interface {
	CredentialsByStatus(ctx context.Context, statuses ...string) ([]model.ExchangeCredential, error)
	GetCredential(ctx context.Context, id uint) (*model.ExchangeCredential, error)
	UserCredentials(ctx context.Context, userID uint) ([]model.ExchangeCredential, error)
	ActivePositions(ctx context.Context, userID uint) ([]model.Position, error)
	UpdateBalance(ctx context.Context, id uint, available, total decimal.Decimal, at time.Time) error
	SetCredentialStatus(ctx context.Context, id uint, u repository.CredentialStatusUpdate) error
	RecordViolation(ctx context.Context, v *model.RiskViolation) error
}

type AdapterProvider interface {
	For(cred *model.ExchangeCredential) (connectors.Adapter, error)
}

// Locker serializes writes to one user's state.
type Locker interface {
	Lock(userID uint) func()
}

// UserState is the per-user writer lock and balance failure counters.
// *engine.Arena implements it.
type UserState interface {
	Locker
	RecordBalanceFailure(userID, credentialID uint) int
	ResetBalanceFailures(userID, credentialID uint)
}

var _ Store = (*repository.Store)(nil)
