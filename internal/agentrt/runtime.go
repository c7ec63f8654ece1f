package agentrt

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sinew/internal/config"
	"sinew/internal/llm"
	"sinew/internal/observability"
	"sinew/internal/retrieval"
	"sinew/internal/sinewerr"
	"sinew/internal/store/chunkstore"
	"sinew/internal/tenant"
)

// Runtime is the shared, process-lifetime dependency bundle for C11. No
// per-request state lives here except the session-lock table required to
// serialize concurrent runs on one session (spec §4.11 "Concurrency").
type Runtime struct {
	ChunkStore chunkstore.Store
	Registry   *retrieval.Registry
	Provider   llm.Provider
	Model      string
	Config     config.AgentConfig
	Metrics    observability.Metrics
	Log        *zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Runtime over the given backends.
func New(chunkStore chunkstore.Store, registry *retrieval.Registry, provider llm.Provider, model string, cfg config.AgentConfig, metrics observability.Metrics, log *zerolog.Logger) *Runtime {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Runtime{
		ChunkStore: chunkStore,
		Registry:   registry,
		Provider:   provider,
		Model:      model,
		Config:     cfg,
		Metrics:    metrics,
		Log:        log,
		locks:      make(map[string]*sync.Mutex),
	}
}

// acquireSession returns the per-session mutex, creating it on first use, and
// reports whether it was claimed without blocking. Per spec §4.11
// "Concurrency", a caller that finds the lock held must be rejected with
// SessionBusy rather than queued silently — so acquireSession uses TryLock.
func (rt *Runtime) acquireSession(sessionID string) (*sync.Mutex, bool) {
	rt.locksMu.Lock()
	lock, ok := rt.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		rt.locks[sessionID] = lock
	}
	rt.locksMu.Unlock()
	return lock, lock.TryLock()
}

// resolveSession implements spec §4.11 point 1: if session_id is absent or
// not found under this tenant, a fresh session is created rather than
// leaking whether a session id exists under a different tenant.
func (rt *Runtime) resolveSession(ctx context.Context, t tenant.ID, userID, sessionID string) (chunkstore.Session, error) {
	if sessionID != "" {
		sess, err := rt.ChunkStore.GetSession(ctx, t, sessionID)
		if err != nil {
			return chunkstore.Session{}, err
		}
		if sess != nil {
			return *sess, nil
		}
	}
	newID := sessionID
	if newID == "" {
		newID = uuid.NewString()
	}
	return rt.ChunkStore.CreateSession(ctx, t, newID, userID, nil, nil)
}

// loadHistoryPrefix loads the last K tenant-filtered messages for the
// session (spec §4.11 point 2), oldest first.
func (rt *Runtime) loadHistoryPrefix(ctx context.Context, t tenant.ID, sessionID string) ([]llm.Message, error) {
	window := rt.Config.HistoryWindow
	if window <= 0 {
		window = 10
	}
	msgs, err := rt.ChunkStore.ListMessages(ctx, t, sessionID, window)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (rt *Runtime) persistMessage(ctx context.Context, t tenant.ID, sessionID, role, content string, metadata map[string]any) {
	if rt.Config.DisablePersistence {
		return
	}
	if _, err := rt.ChunkStore.AppendMessage(ctx, t, sessionID, chunkstore.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	}); err != nil && rt.Log != nil {
		rt.Log.Warn().Err(err).Str("tenant_id", t.String()).Str("session_id", sessionID).Msg("agentrt: failed to persist message")
	}
}

// buildDependencies assembles the request-scoped AgentDependencies the tool
// loop reads its tenant/session/user/search-preference context from (spec
// §4.11 point 3). Nothing downstream of this call is allowed to fall back to
// an ambient tenant.
func buildDependencies(t tenant.ID, sessionID, userID, searchType string) AgentDependencies {
	return AgentDependencies{
		SessionID:         sessionID,
		TenantID:          t.String(),
		UserID:            userID,
		SearchPreferences: searchPreferencesFor(searchType),
	}
}

func searchPreferencesFor(searchType string) SearchPreferences {
	prefs := SearchPreferences{UseVector: true, UseGraph: true, DefaultLimit: clampDefaultLimit(0)}
	switch searchType {
	case "vector":
		prefs.UseGraph = false
	case "graph":
		prefs.UseVector = false
	}
	return prefs
}

// graphOnlyTools names the tools that only exercise C4; every other
// registered tool is vector/hybrid (C3) or mixed (perform_comprehensive_search
// is not a registered tool, it is invoked directly by the runtime, not the
// LLM, per spec §4.6).
var graphOnlyTools = map[string]bool{
	"graph_search":             true,
	"get_entity_relationships": true,
	"get_entity_timeline":      true,
}

// filterSchemas narrows the tool schemas offered to the LLM to the branches
// the request's search_type enabled (spec §4.11 point 3 "search_preferences").
func filterSchemas(schemas []llm.ToolSchema, prefs SearchPreferences) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		if graphOnlyTools[s.Name] && !prefs.UseGraph {
			continue
		}
		if s.Name == "vector_search" && !prefs.UseVector {
			continue
		}
		if s.Name == "hybrid_search" && !(prefs.UseVector && prefs.UseGraph) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// sessionBusyErr is returned when a session already has an in-flight run
// (spec §4.11 "at most one active agent run per session_id").
func sessionBusyErr(sessionID string) error {
	return sinewerr.New(sinewerr.KindSessionBusy, "session "+sessionID+" has an in-flight run", nil)
}
