package httpapi

import (
	"net/http"

	"sinew/internal/observability"
)

// handleHealth is a bare liveness probe: if the process can answer HTTP at
// all, it reports ok.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealthDetailed reports per-backend reachability (spec §6.1).
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}

	if err := s.ChunkStore.Health(ctx); err != nil {
		checks["chunkstore"] = "down: " + err.Error()
	} else {
		checks["chunkstore"] = "ok"
	}
	if err := s.GraphStore.Health(ctx); err != nil {
		checks["graphstore"] = "down: " + err.Error()
	} else {
		checks["graphstore"] = "ok"
	}
	if s.Cache != nil {
		if s.Cache.Health(ctx) {
			checks["cache"] = "ok"
		} else {
			checks["cache"] = "disabled_or_down"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" && v != "disabled_or_down" {
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, map[string]any{"status": statusLabel(status), "checks": checks})
}

// handleStatusDatabase narrows health/detailed to just the two store
// backends, for callers that specifically want database reachability.
func (s *Server) handleStatusDatabase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chunkErr := s.ChunkStore.Health(ctx)
	graphErr := s.GraphStore.Health(ctx)

	status := http.StatusOK
	body := map[string]any{"chunkstore": "ok", "graphstore": "ok"}
	if chunkErr != nil {
		body["chunkstore"] = chunkErr.Error()
		status = http.StatusServiceUnavailable
	}
	if graphErr != nil {
		body["graphstore"] = graphErr.Error()
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, body)
}

// handleMetrics renders the Prometheus-text snapshot (spec §6.1 GET /metrics).
// Only meaningful when Metrics is an *observability.OTelMetrics; a
// NoopMetrics deployment reports an empty body.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if om, ok := s.Metrics.(*observability.OTelMetrics); ok {
		w.Write([]byte(om.RenderPrometheus()))
		return
	}
}

func statusLabel(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
