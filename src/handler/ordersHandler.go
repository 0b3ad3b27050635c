package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"orderengine/src/auth"
	"orderengine/src/model"

	logger "github.com/sirupsen/logrus"
)

// SubmitOrderHandler runs an order request for the authenticated user and
// answers with the resulting execution.
func SubmitOrderHandler(eng OrderEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req model.OrderRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			logger.WithError(err).Warn("invalid order payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		exec, err := eng.SubmitOrder(r.Context(), user.ID, req)
		if err != nil {
			writeEngineError(w, err, exec)
			return
		}
		writeJSON(w, http.StatusCreated, exec)
	}
}

// ExecutionHistoryHandler lists the user's executions, optionally bounded by
// from and to (RFC3339).
func ExecutionHistoryHandler(eng OrderEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var from, to time.Time
		if fromParam := r.URL.Query().Get("from"); fromParam != "" {
			parsed, err := time.Parse(time.RFC3339, fromParam)
			if err != nil {
				http.Error(w, "invalid from", http.StatusBadRequest)
				return
			}
			from = parsed
		}
		if toParam := r.URL.Query().Get("to"); toParam != "" {
			parsed, err := time.Parse(time.RFC3339, toParam)
			if err != nil {
				http.Error(w, "invalid to", http.StatusBadRequest)
				return
			}
			to = parsed
		}
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			http.Error(w, "to is before from", http.StatusBadRequest)
			return
		}

		history, err := eng.ExecutionHistory(r.Context(), user.ID, from, to)
		if err != nil {
			writeEngineError(w, err, nil)
			return
		}
		if history == nil {
			history = []model.OrderExecution{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}
