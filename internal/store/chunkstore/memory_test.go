package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sinew/internal/tenant"
)

func TestMemoryStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantA := tenant.New()
	tenantB := tenant.New()

	doc, err := store.InsertDocument(ctx, tenantA, Document{Title: "doc-a"}, []Chunk{
		{Index: 0, Content: "hello world", Embedding: []float32{1, 0, 0}},
	})
	require.NoError(t, err)

	_, err = store.GetDocument(ctx, tenantB, doc.ID)
	require.Error(t, err)

	got, err := store.GetDocument(ctx, tenantA, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "doc-a", got.Title)

	hitsB, err := store.VectorSearch(ctx, tenantB, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Empty(t, hitsB)

	hitsA, err := store.VectorSearch(ctx, tenantA, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hitsA, 1)
}

func TestMemoryStore_AppendMessageRejectsCrossTenantSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantA := tenant.New()
	tenantB := tenant.New()

	session, err := store.CreateSession(ctx, tenantA, "", "user-1", nil, nil)
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, tenantB, session.ID, Message{Role: "user", Content: "hi"})
	require.Error(t, err)

	_, err = store.AppendMessage(ctx, tenantA, session.ID, Message{Role: "user", Content: "hi"})
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, tenantA, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 0, msgs[0].Ordinal)
}

func TestMemoryStore_HybridSearchBlendsTextScore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tid := tenant.New()
	_, err := store.InsertDocument(ctx, tid, Document{Title: "doc"}, []Chunk{
		{Index: 0, Content: "the quick brown fox", Embedding: []float32{1, 0}},
		{Index: 1, Content: "lorem ipsum", Embedding: []float32{1, 0}},
	})
	require.NoError(t, err)

	hits, err := store.HybridSearch(ctx, tid, []float32{1, 0}, "quick brown", 10, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Contains(t, hits[0].Content, "quick brown")
}
