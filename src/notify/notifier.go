package notify

import (
	"context"
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type EventType string

const (
	EventOrderExecuted    EventType = "order_executed"
	EventOrderFailed      EventType = "order_failed"
	EventOrderRejected    EventType = "order_rejected"
	EventPositionClosed   EventType = "position_closed"
	EventCloseFailed      EventType = "close_failed"
	EventCredentialFailed EventType = "credential_failed"
)

// Event is what the alerting collaborators receive on execution, close and
// account health changes.
type Event struct {
	Type         EventType         `json:"type"`
	UserID       uint              `json:"user_id"`
	CredentialID uint              `json:"credential_id,omitempty"`
	ExecutionID  uint              `json:"execution_id,omitempty"`
	PositionID   uint              `json:"position_id,omitempty"`
	Venue        model.Venue       `json:"venue,omitempty"`
	Symbol       string            `json:"symbol,omitempty"`
	Side         model.Side        `json:"side,omitempty"`
	Quantity     *decimal.Decimal  `json:"quantity,omitempty"`
	Price        *decimal.Decimal  `json:"price,omitempty"`
	PnL          *decimal.Decimal  `json:"pnl,omitempty"`
	Reason       model.CloseReason `json:"reason,omitempty"`
	Kind         string            `json:"kind,omitempty"`
	Message      string            `json:"message,omitempty"`
	At           time.Time         `json:"at"`
}

// Notifier delivers events. Implementations must not block the caller for long;
// delivery failures are returned for logging only.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes events to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e Event) error {
	entry := logger.WithFields(map[string]interface{}{
		"component":    "notify",
		"event":        e.Type,
		"user_id":      e.UserID,
		"execution_id": e.ExecutionID,
		"position_id":  e.PositionID,
		"venue":        e.Venue,
		"symbol":       e.Symbol,
	})
	switch e.Type {
	case EventCredentialFailed, EventCloseFailed:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
	return nil
}

// Multi fans an event out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send stamps the event and delivers it, logging a delivery failure.
func Send(ctx context.Context, n Notifier, e Event) {
	if n == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := n.Notify(ctx, e); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "notify",
			"event":     e.Type,
			"user_id":   e.UserID,
		}).WithError(err).Warn("notification not delivered")
	}
}
