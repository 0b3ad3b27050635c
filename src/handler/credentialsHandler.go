package handler

import (
	"net/http"

	"orderengine/src/auth"
)

// ValidateCredentialHandler probes one of the user's credentials now and
// returns it with the refreshed status and diagnosis.
func ValidateCredentialHandler(eng OrderEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		credentialID, ok := pathID(r)
		if !ok {
			http.Error(w, "invalid credential id", http.StatusBadRequest)
			return
		}

		cred, err := eng.ValidateCredential(r.Context(), user.ID, credentialID)
		if err != nil {
			writeEngineError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, cred)
	}
}
