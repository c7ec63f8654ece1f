package httpapi

import (
	"net/http"

	"sinew/internal/sinewerr"
	"sinew/internal/tenant"
)

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.Validate(queryTenantID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	sessionID := r.PathValue("session_id")

	sess, err := s.ChunkStore.GetSession(r.Context(), t, sessionID)
	if err != nil {
		respondError(w, err)
		return
	}
	if sess == nil {
		// A session that exists under a different tenant renders identically
		// to one that does not exist at all (spec §6.1 "404 if not in tenant").
		respondError(w, sinewerr.New(sinewerr.KindNotFound, "session not found", nil))
		return
	}
	respondJSON(w, http.StatusOK, sess)
}
