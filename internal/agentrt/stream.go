package agentrt

import (
	"context"
	"strings"

	"sinew/internal/llm"
	"sinew/internal/tenant"
)

// EventSink receives one SSE frame at a time, in the strict order of spec
// §4.11: session → text* → tools? → end/error. The HTTP transport
// implements this over an http.Flusher; tests can implement it over a slice.
type EventSink interface {
	Emit(event any) error
}

// streamCollector is an llm.StreamHandler that forwards text deltas to the
// sink immediately and buffers the rest of the turn (tool calls, full
// content) for the loop driving ChatStream.
type streamCollector struct {
	sink      EventSink
	content   strings.Builder
	toolCalls []llm.ToolCall
	emitErr   error
}

func (s *streamCollector) OnDelta(content string) {
	s.content.WriteString(content)
	if s.emitErr == nil {
		s.emitErr = s.sink.Emit(textEvent(content))
	}
}
func (s *streamCollector) OnToolCall(tc llm.ToolCall)    { s.toolCalls = append(s.toolCalls, tc) }
func (s *streamCollector) OnImage(llm.GeneratedImage)    {}
func (s *streamCollector) OnThoughtSummary(string)       {}
func (s *streamCollector) OnThoughtSignature(string)     {}

// ChatStream runs the streaming path (spec §4.11 point 6): emit `session`,
// then `text` deltas as the model produces them, at most one aggregated
// `tools` frame once every tool call of the turn is known, then `end` — or
// `error` at any point, which terminates the stream.
func (rt *Runtime) ChatStream(ctx context.Context, req ChatRequest, sink EventSink) error {
	t, err := tenant.Validate(req.TenantID)
	if err != nil {
		return err
	}

	sess, err := rt.resolveSession(ctx, t, req.UserID, req.SessionID)
	if err != nil {
		return err
	}

	lock, acquired := rt.acquireSession(sess.ID)
	if !acquired {
		return sessionBusyErr(sess.ID)
	}
	defer lock.Unlock()

	if err := sink.Emit(sessionEvent(sess.ID)); err != nil {
		return err
	}

	history, err := rt.loadHistoryPrefix(ctx, t, sess.ID)
	if err != nil {
		sink.Emit(errorEvent(err.Error()))
		return err
	}

	rt.persistMessage(ctx, t, sess.ID, "user", req.Message, nil)

	deps := buildDependencies(t, sess.ID, req.UserID, req.SearchType)
	msgs := buildMessages(history, req.Message)
	schemas := filterSchemas(rt.Registry.Schemas(), deps.SearchPreferences)

	var fullText strings.Builder
	var toolsUsed []ToolUse
	aborted := false

	for i := 0; i < maxToolIterations; i++ {
		select {
		case <-ctx.Done():
			aborted = true
		default:
		}
		if aborted {
			break
		}

		collector := &streamCollector{sink: sink}
		if err := rt.Provider.ChatStream(ctx, msgs, schemas, rt.Model, collector); err != nil {
			fullText.WriteString(collector.content.String())
			if ctx.Err() != nil {
				// Connection canceled mid-stream: clean termination, no error
				// frame (spec §7 "Aborted ... no 5xx").
				rt.persistAssistantTurn(ctx, t, sess.ID, fullText.String(), toolsUsed, true, true)
				return nil
			}
			rt.persistAssistantTurn(ctx, t, sess.ID, fullText.String(), toolsUsed, false, false)
			sink.Emit(errorEvent(err.Error()))
			return err
		}
		if collector.emitErr != nil {
			// Sink write failed (client disconnected); treat as cooperative
			// abort rather than a stream-ending LLM error.
			aborted = true
		}
		fullText.WriteString(collector.content.String())

		if len(collector.toolCalls) == 0 {
			break
		}
		assistantMsg := llm.Message{Role: "assistant", Content: collector.content.String()}
		for _, tc := range collector.toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, tc)
		}
		msgs = append(msgs, assistantMsg)

		for _, tc := range collector.toolCalls {
			result, err := rt.Registry.Dispatch(ctx, t, tc.Name, tc.Args)
			if err != nil {
				rt.persistAssistantTurn(ctx, t, sess.ID, fullText.String(), toolsUsed, false, false)
				sink.Emit(errorEvent(err.Error()))
				return err
			}
			toolsUsed = append(toolsUsed, ToolUse{ToolName: tc.Name, Args: tc.Args, ToolCallID: tc.ID})
			msgs = append(msgs, llm.Message{Role: "tool", ToolID: tc.ID, Content: string(result)})
		}
	}

	if len(toolsUsed) > 0 {
		sink.Emit(toolsEvent(toolsUsed))
	}

	rt.persistAssistantTurn(ctx, t, sess.ID, fullText.String(), toolsUsed, true, aborted)

	if aborted {
		return nil
	}
	return sink.Emit(endEvent())
}

func (rt *Runtime) persistAssistantTurn(ctx context.Context, t tenant.ID, sessionID, content string, toolsUsed []ToolUse, streamed, aborted bool) {
	rt.persistMessage(ctx, t, sessionID, "assistant", content, map[string]any{
		"streamed":   streamed,
		"aborted":    aborted,
		"tool_calls": len(toolsUsed),
	})
}
