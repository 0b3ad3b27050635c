package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"orderengine/src/connectors"
	"orderengine/src/engine"
	"orderengine/src/model"
	"orderengine/src/resilience"
	"orderengine/src/risk"
	"orderengine/src/selector"

	logger "github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error     string                `json:"error"`
	Kind      string                `json:"kind,omitempty"`
	Execution *model.OrderExecution `json:"execution,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// statusFor maps engine errors onto HTTP statuses. Anything unknown is a 500.
func statusFor(err error) (int, string) {
	if vErr, ok := risk.AsValidationError(err); ok {
		return http.StatusUnprocessableEntity, string(vErr.Kind)
	}
	var exErr *connectors.ExchangeError
	switch {
	case errors.Is(err, risk.ErrInvalidRequest):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, engine.ErrUserNotFound),
		errors.Is(err, engine.ErrPositionNotFound),
		errors.Is(err, engine.ErrCredentialNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, engine.ErrExecutionPending):
		return http.StatusAccepted, "Pending"
	case errors.Is(err, engine.ErrPositionClosing),
		errors.Is(err, engine.ErrOrderNotFilled):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, engine.ErrEngineStopped),
		errors.Is(err, selector.ErrNoExchangeAvailable),
		errors.Is(err, resilience.ErrBreakerOpen):
		return http.StatusServiceUnavailable, "Unavailable"
	case errors.As(err, &exErr):
		return http.StatusBadGateway, string(exErr.Kind)
	}
	return http.StatusInternalServerError, ""
}

// writeEngineError answers a failed engine call. Venue errors are answered with
// their remediation text; internal errors are logged and not echoed to the caller.
func writeEngineError(w http.ResponseWriter, err error, exec *model.OrderExecution) {
	status, kind := statusFor(err)
	resp := errorResponse{Error: err.Error(), Kind: kind, Execution: exec}
	if exErr, ok := connectors.AsExchangeError(err); ok {
		resp.Error = exErr.Diagnosis()
	}
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("engine call failed")
		resp.Error = "Internal Server Error"
	}
	writeJSON(w, status, resp)
}
