package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sinew/internal/tenant"
)

// TestNew_EmptyURLDegradesToNoop covers spec §6.3 "absence disables cache":
// every operation must degrade rather than error when REDIS_URL is unset.
func TestNew_EmptyURLDegradesToNoop(t *testing.T) {
	c, err := New("", nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.False(t, c.Set(ctx, "k", "v", time.Minute))
	var dest string
	require.False(t, c.Get(ctx, "k", &dest))
	require.False(t, c.Delete(ctx, "k"))
	require.False(t, c.ClearTenant(ctx, tenant.New()))
	require.False(t, c.Health(ctx))
}

func TestKey_ShapeIncludesFamilyAndTenant(t *testing.T) {
	tid := tenant.New()
	k := Key(FamilyVectorSearch, tid, map[string]any{"query": "knee", "limit": 10})
	require.Contains(t, k, "vs:")
	require.Contains(t, k, tid.String())

	// Same payload, same key (stable hashing); different payload differs.
	k2 := Key(FamilyVectorSearch, tid, map[string]any{"query": "knee", "limit": 10})
	require.Equal(t, k, k2)

	k3 := Key(FamilyVectorSearch, tid, map[string]any{"query": "hip", "limit": 10})
	require.NotEqual(t, k, k3)
}

func TestTTL_MatchesSpecTable(t *testing.T) {
	require.Equal(t, 30*time.Minute, TTL(FamilyVectorSearch))
	require.Equal(t, 2*time.Hour, TTL(FamilyGraphSearch))
	require.Equal(t, 45*time.Minute, TTL(FamilyHybridSearch))
	require.Equal(t, 24*time.Hour, TTL(FamilyEmbedding))
	require.Equal(t, 6*time.Hour, TTL(FamilyDocument))
}
