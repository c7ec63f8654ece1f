package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"sinew/internal/agentrt"
	"sinew/internal/cache"
	"sinew/internal/observability"
	"sinew/internal/retrieval"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
)

// Server exposes the C11 agent, C6 search, and document/session/health
// surfaces of spec §6.1 over net/http, grounded on the teacher's
// httpapi.Server shape.
type Server struct {
	ChunkStore chunkstore.Store
	GraphStore graphstore.Store
	Cache      *cache.Cache
	Registry   *retrieval.Registry
	Runtime    *agentrt.Runtime
	Metrics    observability.Metrics
	Log        *zerolog.Logger

	mux *http.ServeMux
}

// NewServer wires routes over the given backends.
func NewServer(chunkStore chunkstore.Store, graphStore graphstore.Store, c *cache.Cache, registry *retrieval.Registry, runtime *agentrt.Runtime, metrics observability.Metrics, log *zerolog.Logger) *Server {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	s := &Server{
		ChunkStore: chunkStore,
		GraphStore: graphStore,
		Cache:      c,
		Registry:   registry,
		Runtime:    runtime,
		Metrics:    metrics,
		Log:        log,
		mux:        http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /chat/stream", s.handleChatStream)

	s.mux.HandleFunc("POST /search/vector", s.handleSearchVector)
	s.mux.HandleFunc("POST /search/hybrid", s.handleSearchHybrid)
	s.mux.HandleFunc("POST /search/graph", s.handleSearchGraph)

	s.mux.HandleFunc("GET /documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /sessions/{session_id}", s.handleGetSession)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)
	s.mux.HandleFunc("GET /status/database", s.handleStatusDatabase)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}
