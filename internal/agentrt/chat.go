package agentrt

import (
	"context"

	"sinew/internal/tenant"
)

// Chat runs the non-streaming path (spec §4.11 point 5): run the tool loop
// to completion, persist both turns, and return the final answer.
func (rt *Runtime) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	t, err := tenant.Validate(req.TenantID)
	if err != nil {
		return ChatResponse{}, err
	}

	sess, err := rt.resolveSession(ctx, t, req.UserID, req.SessionID)
	if err != nil {
		return ChatResponse{}, err
	}

	lock, acquired := rt.acquireSession(sess.ID)
	if !acquired {
		return ChatResponse{}, sessionBusyErr(sess.ID)
	}
	defer lock.Unlock()

	history, err := rt.loadHistoryPrefix(ctx, t, sess.ID)
	if err != nil {
		return ChatResponse{}, err
	}

	rt.persistMessage(ctx, t, sess.ID, "user", req.Message, nil)

	deps := buildDependencies(t, sess.ID, req.UserID, req.SearchType)
	msgs := buildMessages(history, req.Message)
	answer, toolsUsed, err := rt.runToolLoop(ctx, t, msgs, filterSchemas(rt.Registry.Schemas(), deps.SearchPreferences))
	if err != nil {
		return ChatResponse{}, err
	}

	rt.persistMessage(ctx, t, sess.ID, "assistant", answer, map[string]any{
		"streamed":   false,
		"tool_calls": len(toolsUsed),
	})

	if toolsUsed == nil {
		toolsUsed = []ToolUse{}
	}
	return ChatResponse{
		Message:   answer,
		SessionID: sess.ID,
		ToolsUsed: toolsUsed,
		Metadata:  req.Metadata,
	}, nil
}
