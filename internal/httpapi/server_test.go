package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"sinew/internal/agentrt"
	"sinew/internal/cache"
	"sinew/internal/config"
	"sinew/internal/embedding"
	"sinew/internal/llm"
	"sinew/internal/observability"
	"sinew/internal/retrieval"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
)

type stubProvider struct{}

func (stubProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: "stub answer"}, nil
}

func (stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	h.OnDelta("stub answer")
	return nil
}

func newTestServer(t *testing.T) (*Server, chunkstore.Store) {
	t.Helper()
	cs := chunkstore.NewMemoryStore()
	gs := graphstore.NewMemoryStore()
	c, err := cache.New("", nil, nil)
	require.NoError(t, err)
	emb := embedding.NewClient(config.EmbeddingConfig{Offline: true, Dimension: 8})
	reg := retrieval.NewRegistry(cs, gs, c, emb, observability.NoopMetrics{}, nil)
	rt := agentrt.New(cs, reg, stubProvider{}, "test-model", config.AgentConfig{HistoryWindow: 10}, observability.NoopMetrics{}, nil)
	return NewServer(cs, gs, c, reg, rt, observability.NoopMetrics{}, nil), cs
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandleSearchHybrid_InvalidTextWeightIs422(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/search/hybrid", map[string]any{
		"query": "knee", "tenant_id": tenant.New().String(), "limit": 10, "text_weight": 2.0,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleSearchVector_EmptyResultIsNotAnError(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/search/vector", map[string]any{
		"query": "nothing indexed yet", "tenant_id": tenant.New().String(), "limit": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.TotalResults)
}

func TestHandleGetSession_CrossTenantIs404(t *testing.T) {
	s, cs := newTestServer(t)
	tA := tenant.New()
	tB := tenant.New()
	ctx := context.Background()

	sess, err := cs.CreateSession(ctx, tA, "", "user-1", nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"?tenant_id="+tB.String(), nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"?tenant_id="+tA.String(), nil)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestHandleChat_InvalidTenantIs422(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/chat", map[string]any{
		"message": "hello", "tenant_id": "not-a-uuid",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleChat_HappyPath(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/chat", map[string]any{
		"message": "hello", "tenant_id": tenant.New().String(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp agentrt.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "stub answer", resp.Message)
}
