package httpapi

import (
	"net/http"
	"time"

	"sinew/internal/agentrt"
)

// keepaliveInterval is how often /chat/stream writes an SSE comment line to
// keep idle proxies/browsers from closing the connection during a long tool
// call (spec §4.11 "Concurrency"; grounded on the teacher's agentd keepalive
// ticker).
const keepaliveInterval = 15 * time.Second

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agentrt.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	resp, err := s.Runtime.Chat(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req agentrt.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	sink, err := agentrt.NewHTTPSink(w)
	if err != nil {
		respondError(w, err)
		return
	}

	stop := make(chan struct{})
	go sink.RunKeepalive(keepaliveInterval, stop)
	defer close(stop)

	// Headers and any error frame are written by the sink/runtime once the
	// stream has started, so a failure here cannot be reported as a JSON
	// error body (spec §4.11 "error" frame, not an HTTP status change).
	if err := s.Runtime.ChatStream(r.Context(), req, sink); err != nil && s.Log != nil {
		s.Log.Warn().Err(err).Str("session_id", req.SessionID).Msg("httpapi: chat stream ended with error")
	}
}
