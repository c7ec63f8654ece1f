package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"sinew/internal/cache"
	"sinew/internal/embedding"
	"sinew/internal/llm"
	"sinew/internal/observability"
	"sinew/internal/sinewerr"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
)

// Tool is one named, independently callable retrieval capability
// (spec §4.6 "fn(input, tenant_id) -> result"). Raw is the LLM tool-call's
// JSON arguments; Call deserializes it into the tool's typed input and
// rejects malformed calls rather than propagating a generic decode error
// (SPEC_FULL.md §9 "Dynamically typed tool inputs").
type Tool interface {
	Name() string
	Schema() llm.ToolSchema
	Call(ctx context.Context, t tenant.ID, raw json.RawMessage) (any, error)
}

// Registry is a fixed, config-constructed set of tools, injected into the
// agent runtime at startup (SPEC_FULL.md §9 "Global agent object with
// registered tools" — no module-level singleton; each request's Engine holds
// a reference to the same Registry, but the Registry itself carries no
// per-request state).
type Registry struct {
	ChunkStore chunkstore.Store
	GraphStore graphstore.Store
	Cache      *cache.Cache
	Embedder   *embedding.Client
	Metrics    observability.Metrics
	Log        *zerolog.Logger

	tools map[string]Tool
}

// NewRegistry builds the fixed C6 tool set over the given backends.
func NewRegistry(chunkStore chunkstore.Store, graphStore graphstore.Store, c *cache.Cache, embedder *embedding.Client, metrics observability.Metrics, log *zerolog.Logger) *Registry {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	r := &Registry{ChunkStore: chunkStore, GraphStore: graphStore, Cache: c, Embedder: embedder, Metrics: metrics, Log: log}
	r.tools = map[string]Tool{
		"vector_search":            &vectorSearchTool{r},
		"graph_search":             &graphSearchTool{r},
		"hybrid_search":            &hybridSearchTool{r},
		"get_document":             &getDocumentTool{r},
		"list_documents":           &listDocumentsTool{r},
		"get_entity_relationships": &entityRelationshipsTool{r},
		"get_entity_timeline":      &entityTimelineTool{r},
	}
	return r
}

// Schemas returns the tool schemas the agent runtime hands the LLM provider
// as callable functions.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Schema())
	}
	return out
}

// Dispatch runs the named tool under timing/error-counter instrumentation
// (spec §4.6 point 6), swallowing backend failures into an empty JSON result
// plus a logged error (point 7) — except InvalidTenant/InvalidArgument,
// which propagate so the agent loop (and ultimately the HTTP layer) can
// classify them instead of silently returning nothing.
func (r *Registry) Dispatch(ctx context.Context, t tenant.ID, name string, raw json.RawMessage) (json.RawMessage, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "unknown tool: "+name, nil)
	}

	start := time.Now()
	result, err := tool.Call(ctx, t, raw)
	dur := time.Since(start).Seconds()
	labels := map[string]string{"tool": name}
	r.Metrics.ObserveHistogram("tool_call_duration_seconds", dur, labels)

	if err != nil {
		r.Metrics.IncCounter("tool_call_errors_total", labels)
		if kind, ok := sinewerr.KindOf(err); ok && (kind == sinewerr.KindInvalidTenant || kind == sinewerr.KindInvalidArgument) {
			return nil, err
		}
		if r.Log != nil {
			r.Log.Error().Err(err).Str("tool", name).Str("tenant_id", t.String()).Msg("retrieval: tool call failed, returning empty result")
		}
		return json.Marshal(map[string]any{})
	}
	r.Metrics.IncCounter("tool_calls_total", labels)
	b, err := json.Marshal(result)
	if err != nil {
		return nil, sinewerr.New(sinewerr.KindInternal, "failed to encode tool result", err)
	}
	return b, nil
}

func decodeInput(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return sinewerr.New(sinewerr.KindInvalidArgument, "malformed tool arguments", err)
	}
	return nil
}
