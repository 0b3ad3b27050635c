package handler

import (
	"context"
	"time"

	"orderengine/src/engine"
	"orderengine/src/exposure"
	"orderengine/src/model"

	"github.com/go-chi/chi/v5"
)

// OrderEngine is the inbound surface of the engine. *engine.Engine implements it.
type OrderEngine interface {
	SubmitOrder(ctx context.Context, userID uint, req model.OrderRequest) (*model.OrderExecution, error)
	RequestManualClose(ctx context.Context, userID, positionID uint) error
	ActivePositions(ctx context.Context, userID uint) ([]model.Position, error)
	ExecutionHistory(ctx context.Context, userID uint, from, to time.Time) ([]model.OrderExecution, error)
	ValidateCredential(ctx context.Context, userID, credentialID uint) (*model.ExchangeCredential, error)
}

// ExposureFeed is the read side of the exposure feed. *exposure.Feed implements it.
type ExposureFeed interface {
	Latest(userID uint) (exposure.Snapshot, bool)
	Subscribe(userID uint, buffer int) (<-chan exposure.Snapshot, func())
}

var _ OrderEngine = (*engine.Engine)(nil)
var _ ExposureFeed = (*exposure.Feed)(nil)

// Register mounts the v1 API. Callers put authentication in front of r.
func Register(r chi.Router, eng OrderEngine, feed ExposureFeed) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/orders", SubmitOrderHandler(eng))
		r.Get("/executions", ExecutionHistoryHandler(eng))
		r.Get("/positions", ActivePositionsHandler(eng))
		r.Post("/positions/{id}/close", ManualCloseHandler(eng))
		r.Post("/credentials/{id}/validate", ValidateCredentialHandler(eng))
		r.Get("/exposure", ExposureHandler(feed))
		r.Get("/exposure/stream", ExposureStreamHandler(feed))
	})
}
