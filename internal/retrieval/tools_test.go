package retrieval

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"sinew/internal/cache"
	"sinew/internal/config"
	"sinew/internal/embedding"
	"sinew/internal/observability"
	"sinew/internal/sinewerr"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
)

func newTestRegistry(t *testing.T) (*Registry, tenant.ID) {
	t.Helper()
	cs := chunkstore.NewMemoryStore()
	gs := graphstore.NewMemoryStore()
	c, err := cache.New("", nil, nil) // no redisURL: cache is a no-op, per spec §6.3
	require.NoError(t, err)
	emb := embedding.NewClient(config.EmbeddingConfig{Offline: true, Dimension: 8})
	return NewRegistry(cs, gs, c, emb, observability.NoopMetrics{}, nil), tenant.New()
}

func TestRegistry_VectorSearchIsolatesByTenant(t *testing.T) {
	r, tA := newTestRegistry(t)
	tB := tenant.New()
	ctx := context.Background()

	_, err := r.ChunkStore.InsertDocument(ctx, tA, chunkstore.Document{Title: "doc-a"}, []chunkstore.Chunk{
		{Index: 0, Content: "alpha beta gamma", Embedding: mustEmbed(ctx, r, "alpha beta gamma")},
	})
	require.NoError(t, err)
	_, err = r.ChunkStore.InsertDocument(ctx, tB, chunkstore.Document{Title: "doc-b"}, []chunkstore.Chunk{
		{Index: 0, Content: "alpha beta gamma", Embedding: mustEmbed(ctx, r, "alpha beta gamma")},
	})
	require.NoError(t, err)

	rawA, err := r.Dispatch(ctx, tA, "vector_search", rawArgs(t, map[string]any{"query": "alpha beta gamma", "limit": 10}))
	require.NoError(t, err)
	var hitsA []chunkstore.ChunkHit
	require.NoError(t, json.Unmarshal(rawA, &hitsA))
	require.Len(t, hitsA, 1)

	rawB, err := r.Dispatch(ctx, tB, "vector_search", rawArgs(t, map[string]any{"query": "alpha beta gamma", "limit": 10}))
	require.NoError(t, err)
	var hitsB []chunkstore.ChunkHit
	require.NoError(t, json.Unmarshal(rawB, &hitsB))
	require.Len(t, hitsB, 1)
	require.NotEqual(t, hitsA[0].DocumentID, hitsB[0].DocumentID)
}

func TestRegistry_DispatchRejectsUnknownToolAsInvalidArgument(t *testing.T) {
	r, tid := newTestRegistry(t)
	_, err := r.Dispatch(context.Background(), tid, "nonexistent_tool", rawArgs(t, nil))
	require.Error(t, err)
	kind, ok := sinewerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, sinewerr.KindInvalidArgument, kind)
}

func TestRegistry_HybridSearchRejectsOutOfRangeTextWeight(t *testing.T) {
	r, tid := newTestRegistry(t)
	_, err := r.Dispatch(context.Background(), tid, "hybrid_search", rawArgs(t, map[string]any{
		"query": "knee", "limit": 10, "text_weight": 1.5,
	}))
	require.Error(t, err)
	kind, ok := sinewerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, sinewerr.KindInvalidArgument, kind)
}

func TestRegistry_HybridSearchWeighting(t *testing.T) {
	r, tid := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ChunkStore.InsertDocument(ctx, tid, chunkstore.Document{Title: "doc"}, []chunkstore.Chunk{
		{Index: 0, Content: "knee anatomy", Embedding: mustEmbed(ctx, r, "knee")},
		{Index: 1, Content: "knee rehabilitation exercises", Embedding: mustEmbed(ctx, r, "other")},
	})
	require.NoError(t, err)

	raw, err := r.Dispatch(ctx, tid, "hybrid_search", rawArgs(t, map[string]any{
		"query": "rehabilitation", "limit": 10, "text_weight": 1.0,
	}))
	require.NoError(t, err)
	var hits []chunkstore.ChunkHit
	require.NoError(t, json.Unmarshal(raw, &hits))
	require.NotEmpty(t, hits)
	require.Contains(t, hits[0].Content, "rehabilitation")
}

func TestRegistry_GetDocumentNotFoundReturnsEmptyResult(t *testing.T) {
	r, tid := newTestRegistry(t)
	raw, err := r.Dispatch(context.Background(), tid, "get_document", rawArgs(t, map[string]any{"document_id": "missing"}))
	require.NoError(t, err)
	var result DocumentResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Nil(t, result.Document)
}

func TestRegistry_EntityRelationshipsDepthClamped(t *testing.T) {
	r, tid := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.GraphStore.StoreEntities(ctx, tid, []graphstore.Entity{
		{Name: "spleen", Kind: "anatomical_structure"},
		{Name: "splenectomy", Kind: "treatment"},
	}, "doc")
	require.NoError(t, err)
	require.NoError(t, r.GraphStore.CreateCooccurrence(ctx, tid, []string{"spleen", "splenectomy"}))

	// depth 99 should clamp to 3, not error.
	raw, err := r.Dispatch(ctx, tid, "get_entity_relationships", rawArgs(t, map[string]any{
		"entity_name": "spleen", "depth": 99,
	}))
	require.NoError(t, err)
	var result EntityNeighborhood
	require.NoError(t, json.Unmarshal(raw, &result))
	require.NotEmpty(t, result.Neighbors)
}

func TestPerformComprehensiveSearch_DisabledBranchLeavesOtherIntact(t *testing.T) {
	r, tid := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ChunkStore.InsertDocument(ctx, tid, chunkstore.Document{Title: "doc"}, []chunkstore.Chunk{
		{Index: 0, Content: "knee anatomy", Embedding: mustEmbed(ctx, r, "knee")},
	})
	require.NoError(t, err)

	// graph branch disabled entirely: its slice must be empty but the vector
	// branch must still come back populated (spec §4.6 perform_comprehensive_search).
	result := PerformComprehensiveSearch(ctx, r, tid, "knee", true, false, 10)
	require.NotEmpty(t, result.VectorHits)
	require.Empty(t, result.GraphFacts)
	require.Equal(t, len(result.VectorHits), result.TotalResults)
}

func mustEmbed(ctx context.Context, r *Registry, text string) []float32 {
	v, err := r.Embedder.Embed(ctx, text)
	if err != nil {
		panic(err)
	}
	return v
}

func rawArgs(t *testing.T, m map[string]any) json.RawMessage {
	t.Helper()
	if m == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}
