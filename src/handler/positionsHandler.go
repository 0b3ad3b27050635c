package handler

import (
	"net/http"
	"strconv"

	"orderengine/src/auth"
	"orderengine/src/model"

	"github.com/go-chi/chi/v5"
)

func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func ActivePositionsHandler(eng OrderEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		positions, err := eng.ActivePositions(r.Context(), user.ID)
		if err != nil {
			writeEngineError(w, err, nil)
			return
		}
		if positions == nil {
			positions = []model.Position{}
		}
		writeJSON(w, http.StatusOK, positions)
	}
}

// ManualCloseHandler queues a manual close. The position monitor executes it
// on its next pass, so the answer is 202.
func ManualCloseHandler(eng OrderEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		positionID, ok := pathID(r)
		if !ok {
			http.Error(w, "invalid position id", http.StatusBadRequest)
			return
		}

		if err := eng.RequestManualClose(r.Context(), user.ID, positionID); err != nil {
			writeEngineError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"position_id": positionID,
			"status":      "close_requested",
		})
	}
}
