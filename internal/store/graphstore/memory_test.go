package graphstore

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sinew/internal/tenant"
)

func TestMemoryStore_AddEpisodeTruncatesLongBody(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tid := tenant.New()

	sentence := strings.Repeat("a", 80) + ". "
	body := strings.Repeat(sentence, 100) // well over 6000 chars

	ep, err := store.AddEpisode(ctx, tid, "ep-1", body, "doc.txt", time.Now(), nil)
	require.NoError(t, err)
	require.LessOrEqual(t, len(ep.Body), maxBodyChars+len(truncatedMarker)+2)
	require.Contains(t, ep.Body, truncatedMarker)
	require.Equal(t, true, ep.Metadata["truncated"])
}

func TestMemoryStore_StoreEntitiesDedupsAndMergesConfidence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tid := tenant.New()

	res, err := store.StoreEntities(ctx, tid, []Entity{
		{Name: "spleen", Kind: "anatomical_structure", Confidence: 0.5},
	}, "doc")
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	res2, err := store.StoreEntities(ctx, tid, []Entity{
		{Name: "spleen", Kind: "anatomical_structure", Confidence: 0.9},
	}, "doc")
	require.NoError(t, err)
	require.Equal(t, 1, res2.Merged)
	require.Equal(t, 0.9, store.entities[entityKey{tid.String(), "spleen", "anatomical_structure"}].Confidence)
}

func TestMemoryStore_CooccurrenceAndRelatedEntities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tid := tenant.New()

	_, err := store.StoreEntities(ctx, tid, []Entity{
		{Name: "spleen", Kind: "anatomical_structure"},
		{Name: "splenectomy", Kind: "treatment"},
		{Name: "trauma", Kind: "condition"},
	}, "doc")
	require.NoError(t, err)

	require.NoError(t, store.CreateCooccurrence(ctx, tid, []string{"spleen", "splenectomy"}))
	require.NoError(t, store.CreateCooccurrence(ctx, tid, []string{"splenectomy", "trauma"}))

	related, err := store.RelatedEntities(ctx, tid, "spleen", 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	require.Equal(t, "splenectomy", related[0].Name)

	related2, err := store.RelatedEntities(ctx, tid, "spleen", 2)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, r := range related2 {
		names[r.Name] = true
	}
	require.True(t, names["trauma"])
}

func TestMemoryStore_TimelineCapsAndOrdersDescending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tid := tenant.New()

	base := time.Now()
	for i := 0; i < 25; i++ {
		epID := "ep-" + strconv.Itoa(i)
		_, err := store.AddEpisode(ctx, tid, epID, "body mentioning spleen", "doc", base.Add(time.Duration(i)*time.Hour), nil)
		require.NoError(t, err)
		require.NoError(t, store.CreateMentionedIn(ctx, tid, []string{"spleen"}, epID))
	}

	timeline, err := store.Timeline(ctx, tid, "spleen", nil, nil)
	require.NoError(t, err)
	require.Len(t, timeline, timelineCap)
	for i := 1; i < len(timeline); i++ {
		require.True(t, !timeline[i-1].ReferenceTime.Before(timeline[i].ReferenceTime))
	}
}

func TestMemoryStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantA := tenant.New()
	tenantB := tenant.New()

	_, err := store.AddEpisode(ctx, tenantA, "ep-1", "confidential body", "doc", time.Now(), nil)
	require.NoError(t, err)

	hitsB, err := store.Search(ctx, tenantB, "confidential", 10)
	require.NoError(t, err)
	require.Empty(t, hitsB)

	hitsA, err := store.Search(ctx, tenantA, "confidential", 10)
	require.NoError(t, err)
	require.Len(t, hitsA, 1)
}
