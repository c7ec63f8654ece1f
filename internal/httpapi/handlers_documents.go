package httpapi

import (
	"net/http"
	"strconv"

	"sinew/internal/tenant"
)

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	t, err := tenant.Validate(queryTenantID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, err := s.ChunkStore.ListDocuments(r.Context(), t, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "limit": limit, "offset": offset})
}
