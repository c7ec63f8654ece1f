package retrieval

import (
	"context"
	"encoding/json"

	"sinew/internal/cache"
	"sinew/internal/llm"
	"sinew/internal/sinewerr"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
)

const defaultLimit = 10

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > 50 {
		return 50
	}
	return limit
}

// vectorSearchTool embeds the query and ranks chunks by cosine similarity
// (spec §4.6 vector_search), caching both the query embedding (FamilyEmbedding)
// and the result set (FamilyVectorSearch).
type vectorSearchTool struct{ r *Registry }

func (t *vectorSearchTool) Name() string { return "vector_search" }

func (t *vectorSearchTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "vector_search",
		Description: "Search indexed documents by semantic similarity to a query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *vectorSearchTool) Call(ctx context.Context, tid tenant.ID, raw json.RawMessage) (any, error) {
	var in VectorSearchInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "query is required", nil)
	}
	limit := clampLimit(in.Limit)

	vec, err := embedCached(ctx, t.r, tid, in.Query)
	if err != nil {
		return nil, err
	}

	key := cache.Key(cache.FamilyVectorSearch, tid, in)
	var hits []chunkstore.ChunkHit
	if t.r.Cache.Get(ctx, key, &hits) {
		return hits, nil
	}
	hits, err = t.r.ChunkStore.VectorSearch(ctx, tid, vec, limit)
	if err != nil {
		return nil, err
	}
	t.r.Cache.Set(ctx, key, hits, cache.TTL(cache.FamilyVectorSearch))
	return hits, nil
}

// graphSearchTool searches episode bodies in the knowledge graph
// (spec §4.6 graph_search), caching the result set under FamilyGraphSearch.
type graphSearchTool struct{ r *Registry }

func (t *graphSearchTool) Name() string { return "graph_search" }

func (t *graphSearchTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "graph_search",
		Description: "Search the knowledge graph's episode facts for a query.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	}
}

func (t *graphSearchTool) Call(ctx context.Context, tid tenant.ID, raw json.RawMessage) (any, error) {
	var in GraphSearchInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "query is required", nil)
	}

	key := cache.Key(cache.FamilyGraphSearch, tid, in)
	var hits []graphstore.FactHit
	if t.r.Cache.Get(ctx, key, &hits) {
		return hits, nil
	}
	hits, err := t.r.GraphStore.Search(ctx, tid, in.Query, defaultLimit)
	if err != nil {
		return nil, err
	}
	t.r.Cache.Set(ctx, key, hits, cache.TTL(cache.FamilyGraphSearch))
	return hits, nil
}

// hybridSearchTool blends vector similarity and lexical rank
// (spec §4.6 hybrid_search), caching under FamilyHybridSearch.
type hybridSearchTool struct{ r *Registry }

func (t *hybridSearchTool) Name() string { return "hybrid_search" }

func (t *hybridSearchTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "hybrid_search",
		Description: "Search documents blending semantic similarity with lexical match.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string"},
				"limit":       map[string]any{"type": "integer"},
				"text_weight": map[string]any{"type": "number"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *hybridSearchTool) Call(ctx context.Context, tid tenant.ID, raw json.RawMessage) (any, error) {
	var in HybridSearchInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "query is required", nil)
	}
	limit := clampLimit(in.Limit)
	textWeight := 0.5
	if in.TextWeight != nil {
		if *in.TextWeight < 0 || *in.TextWeight > 1 {
			return nil, sinewerr.New(sinewerr.KindInvalidArgument, "text_weight must be in [0,1]", nil)
		}
		textWeight = *in.TextWeight
	}

	vec, err := embedCached(ctx, t.r, tid, in.Query)
	if err != nil {
		return nil, err
	}

	key := cache.Key(cache.FamilyHybridSearch, tid, in)
	var hits []chunkstore.ChunkHit
	if t.r.Cache.Get(ctx, key, &hits) {
		return hits, nil
	}
	hits, err = t.r.ChunkStore.HybridSearch(ctx, tid, vec, in.Query, limit, textWeight)
	if err != nil {
		return nil, err
	}
	t.r.Cache.Set(ctx, key, hits, cache.TTL(cache.FamilyHybridSearch))
	return hits, nil
}

// getDocumentTool returns a document plus its ordered chunks (spec §4.6
// get_document), caching under FamilyDocument.
type getDocumentTool struct{ r *Registry }

func (t *getDocumentTool) Name() string { return "get_document" }

func (t *getDocumentTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "get_document",
		Description: "Fetch a single document and its chunks by id.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"document_id": map[string]any{"type": "string"}},
			"required":   []string{"document_id"},
		},
	}
}

func (t *getDocumentTool) Call(ctx context.Context, tid tenant.ID, raw json.RawMessage) (any, error) {
	var in GetDocumentInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.DocumentID == "" {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "document_id is required", nil)
	}

	key := cache.Key(cache.FamilyDocument, tid, in)
	var result DocumentResult
	if t.r.Cache.Get(ctx, key, &result) {
		return result, nil
	}

	doc, err := t.r.ChunkStore.GetDocument(ctx, tid, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return DocumentResult{}, nil
	}
	chunks, err := t.r.ChunkStore.GetDocumentChunks(ctx, tid, in.DocumentID)
	if err != nil {
		return nil, err
	}
	result = DocumentResult{Document: doc, Chunks: chunks}
	t.r.Cache.Set(ctx, key, result, cache.TTL(cache.FamilyDocument))
	return result, nil
}

// listDocumentsTool paginates a tenant's documents (spec §4.6 list_documents).
// Not cached: page contents shift as ingestion runs, and the list is cheap.
type listDocumentsTool struct{ r *Registry }

func (t *listDocumentsTool) Name() string { return "list_documents" }

func (t *listDocumentsTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "list_documents",
		Description: "List indexed documents for the tenant, paginated.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit":  map[string]any{"type": "integer"},
				"offset": map[string]any{"type": "integer"},
			},
		},
	}
}

func (t *listDocumentsTool) Call(ctx context.Context, tid tenant.ID, raw json.RawMessage) (any, error) {
	var in ListDocumentsInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	limit := clampLimit(in.Limit)
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}
	return t.r.ChunkStore.ListDocuments(ctx, tid, limit, offset)
}

// entityRelationshipsTool returns an entity's graph neighborhood
// (spec §4.6 get_entity_relationships), caching under FamilyGraphSearch.
type entityRelationshipsTool struct{ r *Registry }

func (t *entityRelationshipsTool) Name() string { return "get_entity_relationships" }

func (t *entityRelationshipsTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "get_entity_relationships",
		Description: "Return entities related to the named entity, up to a traversal depth.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity_name": map[string]any{"type": "string"},
				"depth":       map[string]any{"type": "integer"},
			},
			"required": []string{"entity_name"},
		},
	}
}

func (t *entityRelationshipsTool) Call(ctx context.Context, tid tenant.ID, raw json.RawMessage) (any, error) {
	var in GetEntityRelationshipsInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.EntityName == "" {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "entity_name is required", nil)
	}

	key := cache.Key(cache.FamilyGraphSearch, tid, in)
	var result EntityNeighborhood
	if t.r.Cache.Get(ctx, key, &result) {
		return result, nil
	}
	neighbors, err := t.r.GraphStore.RelatedEntities(ctx, tid, in.EntityName, in.Depth)
	if err != nil {
		return nil, err
	}
	result = EntityNeighborhood{Entity: in.EntityName, Depth: in.Depth, Neighbors: neighbors}
	t.r.Cache.Set(ctx, key, result, cache.TTL(cache.FamilyGraphSearch))
	return result, nil
}

// entityTimelineTool returns the episodes mentioning an entity within an
// optional time window (spec §4.6 get_entity_timeline). Not cached: the
// window makes most calls cache-key-unique, so the hit rate would be near
// zero.
type entityTimelineTool struct{ r *Registry }

func (t *entityTimelineTool) Name() string { return "get_entity_timeline" }

func (t *entityTimelineTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "get_entity_timeline",
		Description: "Return episodes mentioning an entity, ordered by reference time.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity_name": map[string]any{"type": "string"},
				"start":       map[string]any{"type": "string", "format": "date-time"},
				"end":         map[string]any{"type": "string", "format": "date-time"},
			},
			"required": []string{"entity_name"},
		},
	}
}

func (t *entityTimelineTool) Call(ctx context.Context, tid tenant.ID, raw json.RawMessage) (any, error) {
	var in GetEntityTimelineInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.EntityName == "" {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "entity_name is required", nil)
	}
	return t.r.GraphStore.Timeline(ctx, tid, in.EntityName, in.Start, in.End)
}

// embedCached embeds query through the FamilyEmbedding cache tier, shared by
// every tool that needs a query vector.
func embedCached(ctx context.Context, r *Registry, tid tenant.ID, query string) ([]float32, error) {
	key := cache.Key(cache.FamilyEmbedding, tid, query)
	var vec []float32
	if r.Cache.Get(ctx, key, &vec) {
		return vec, nil
	}
	vec, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	r.Cache.Set(ctx, key, vec, cache.TTL(cache.FamilyEmbedding))
	return vec, nil
}
