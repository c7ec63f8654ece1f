package agentrt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"sinew/internal/cache"
	"sinew/internal/config"
	"sinew/internal/embedding"
	"sinew/internal/llm"
	"sinew/internal/observability"
	"sinew/internal/retrieval"
	"sinew/internal/sinewerr"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
)

// fakeProvider is a scripted llm.Provider: it calls hybrid_search once, then
// answers with fixed text. Used to exercise the tool-call loop and the SSE
// frame sequence without a real model.
type fakeProvider struct {
	calls int
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.calls++
	if f.calls == 1 {
		args, _ := json.Marshal(map[string]any{"query": "knee", "limit": 5})
		return llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{{Name: "hybrid_search", Args: args, ID: "call-1"}},
		}, nil
	}
	return llm.Message{Role: "assistant", Content: "here is your answer"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	f.calls++
	if f.calls == 1 {
		args, _ := json.Marshal(map[string]any{"query": "knee", "limit": 5})
		h.OnDelta("thinking...")
		h.OnToolCall(llm.ToolCall{Name: "hybrid_search", Args: args, ID: "call-1"})
		return nil
	}
	h.OnDelta("here is your answer")
	return nil
}

// sliceSink collects emitted events in order for assertion.
type sliceSink struct {
	events []Event
}

func (s *sliceSink) Emit(event any) error {
	s.events = append(s.events, event.(Event))
	return nil
}

func newTestRuntime(t *testing.T, provider llm.Provider) *Runtime {
	t.Helper()
	cs := chunkstore.NewMemoryStore()
	gs := graphstore.NewMemoryStore()
	c, err := cache.New("", nil, nil)
	require.NoError(t, err)
	emb := embedding.NewClient(config.EmbeddingConfig{Offline: true, Dimension: 8})
	reg := retrieval.NewRegistry(cs, gs, c, emb, observability.NoopMetrics{}, nil)
	return New(cs, reg, provider, "test-model", config.AgentConfig{HistoryWindow: 10}, observability.NoopMetrics{}, nil)
}

func TestChat_DispatchesToolAndReturnsAnswer(t *testing.T) {
	rt := newTestRuntime(t, &fakeProvider{})
	tid := "11111111-1111-1111-1111-111111111111"

	resp, err := rt.Chat(context.Background(), ChatRequest{Message: "tell me about knees", TenantID: tid})
	require.NoError(t, err)
	require.Equal(t, "here is your answer", resp.Message)
	require.Len(t, resp.ToolsUsed, 1)
	require.Equal(t, "hybrid_search", resp.ToolsUsed[0].ToolName)
}

func TestChat_InvalidTenantRejected(t *testing.T) {
	rt := newTestRuntime(t, &fakeProvider{})
	_, err := rt.Chat(context.Background(), ChatRequest{Message: "hi", TenantID: "not-a-uuid"})
	require.Error(t, err)
	kind, ok := sinewerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, sinewerr.KindInvalidTenant, kind)
}

func TestChatStream_EventOrderMatchesSpec(t *testing.T) {
	rt := newTestRuntime(t, &fakeProvider{})
	tid := "22222222-2222-2222-2222-222222222222"
	sink := &sliceSink{}

	err := rt.ChatStream(context.Background(), ChatRequest{Message: "tell me about knees", TenantID: tid}, sink)
	require.NoError(t, err)
	require.NotEmpty(t, sink.events)

	require.Equal(t, "session", sink.events[0].Type)
	require.Equal(t, "end", sink.events[len(sink.events)-1].Type)

	sawTools := false
	for i, ev := range sink.events[1 : len(sink.events)-1] {
		require.NotEqual(t, "session", ev.Type, "session frame must appear exactly once, at index 0")
		require.NotEqual(t, "end", ev.Type, "end frame must appear exactly once, last")
		if ev.Type == "tools" {
			sawTools = true
			require.Equal(t, "hybrid_search", ev.Tools[0].ToolName)
		}
		_ = i
	}
	require.True(t, sawTools, "expected exactly one tools frame once the tool call was known")

	// no text frame after the tools frame or after end
	toolsIdx := -1
	for i, ev := range sink.events {
		if ev.Type == "tools" {
			toolsIdx = i
		}
	}
	require.GreaterOrEqual(t, toolsIdx, 0)
	for _, ev := range sink.events[toolsIdx+1:] {
		require.NotEqual(t, "text", ev.Type)
	}
}

func TestChatStream_ConcurrentRunsOnSameSessionOneRejected(t *testing.T) {
	rt := newTestRuntime(t, &blockingProvider{unblock: make(chan struct{})})
	tid := "33333333-3333-3333-3333-333333333333"
	sessionID := "44444444-4444-4444-4444-444444444444"

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		sink := &sliceSink{}
		done <- rt.ChatStream(context.Background(), ChatRequest{Message: "hi", TenantID: tid, SessionID: sessionID}, &blockingSink{started: started, sink: sink})
	}()
	<-started

	sink2 := &sliceSink{}
	err := rt.ChatStream(context.Background(), ChatRequest{Message: "hi again", TenantID: tid, SessionID: sessionID}, sink2)
	require.Error(t, err)
	kind, ok := sinewerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, sinewerr.KindSessionBusy, kind)

	bp := rt.Provider.(*blockingProvider)
	close(bp.unblock)
	<-done
}

// blockingProvider blocks ChatStream until unblock is closed, simulating an
// in-flight run for the session-lock test.
type blockingProvider struct {
	unblock chan struct{}
}

func (b *blockingProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Content: "ok"}, nil
}

func (b *blockingProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	h.OnDelta("partial")
	<-b.unblock
	return nil
}

// blockingSink signals started once the session frame is emitted, so the
// test's second request only fires once the first run genuinely holds the
// session lock.
type blockingSink struct {
	started  chan struct{}
	signaled bool
	sink     *sliceSink
}

func (b *blockingSink) Emit(event any) error {
	err := b.sink.Emit(event)
	if !b.signaled {
		b.signaled = true
		close(b.started)
	}
	return err
}
