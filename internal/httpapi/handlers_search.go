package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
)

// searchVectorRequest is POST /search/vector's body (spec §6.1).
type searchVectorRequest struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
	Limit    int    `json:"limit"`
}

type searchHybridRequest struct {
	Query      string   `json:"query"`
	TenantID   string   `json:"tenant_id"`
	Limit      int      `json:"limit"`
	TextWeight *float64 `json:"text_weight,omitempty"`
}

type searchGraphRequest struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
}

type searchResponse struct {
	Results      any    `json:"results,omitempty"`
	GraphResults any    `json:"graph_results,omitempty"`
	TotalResults int    `json:"total_results"`
	SearchType   string `json:"search_type"`
	QueryTimeMs  int64  `json:"query_time_ms"`
}

func (s *Server) handleSearchVector(w http.ResponseWriter, r *http.Request) {
	var req searchVectorRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	t, err := tenant.Validate(req.TenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	start := time.Now()
	raw, err := s.Registry.Dispatch(r.Context(), t, "vector_search", toolArgs(map[string]any{"query": req.Query, "limit": req.Limit}))
	if err != nil {
		respondError(w, err)
		return
	}
	var hits []chunkstore.ChunkHit
	_ = json.Unmarshal(raw, &hits)
	respondJSON(w, http.StatusOK, searchResponse{
		Results:      hits,
		TotalResults: len(hits),
		SearchType:   "vector",
		QueryTimeMs:  time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleSearchHybrid(w http.ResponseWriter, r *http.Request) {
	var req searchHybridRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	t, err := tenant.Validate(req.TenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	args := map[string]any{"query": req.Query, "limit": req.Limit}
	if req.TextWeight != nil {
		args["text_weight"] = *req.TextWeight
	}
	start := time.Now()
	raw, err := s.Registry.Dispatch(r.Context(), t, "hybrid_search", toolArgs(args))
	if err != nil {
		respondError(w, err) // InvalidArgument (out-of-range text_weight) maps to 422
		return
	}
	var hits []chunkstore.ChunkHit
	_ = json.Unmarshal(raw, &hits)
	respondJSON(w, http.StatusOK, searchResponse{
		Results:      hits,
		TotalResults: len(hits),
		SearchType:   "hybrid",
		QueryTimeMs:  time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleSearchGraph(w http.ResponseWriter, r *http.Request) {
	var req searchGraphRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	t, err := tenant.Validate(req.TenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	start := time.Now()
	raw, err := s.Registry.Dispatch(r.Context(), t, "graph_search", toolArgs(map[string]any{"query": req.Query}))
	if err != nil {
		respondError(w, err)
		return
	}
	var facts []graphstore.FactHit
	_ = json.Unmarshal(raw, &facts)
	respondJSON(w, http.StatusOK, searchResponse{
		GraphResults: facts,
		TotalResults: len(facts),
		SearchType:   "graph",
		QueryTimeMs:  time.Since(start).Milliseconds(),
	})
}

// toolArgs marshals a tool-call argument map into the json.RawMessage shape
// Registry.Dispatch expects, mirroring how the agent loop hands it the raw
// LLM tool-call payload.
func toolArgs(m map[string]any) json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
