package agentrt

import (
	"context"

	"sinew/internal/llm"
	"sinew/internal/tenant"
)

// runToolLoop drives the non-streaming LLM-tool-call loop until the model
// stops requesting tools or maxToolIterations is hit (spec §4.11 point 4).
// It returns the final assistant text and every tool use dispatched along
// the way, in call order.
func (rt *Runtime) runToolLoop(ctx context.Context, t tenant.ID, msgs []llm.Message, schemas []llm.ToolSchema) (string, []ToolUse, error) {
	var toolsUsed []ToolUse

	for i := 0; i < maxToolIterations; i++ {
		reply, err := rt.Provider.Chat(ctx, msgs, schemas, rt.Model)
		if err != nil {
			return "", toolsUsed, err
		}
		if len(reply.ToolCalls) == 0 {
			return reply.Content, toolsUsed, nil
		}

		msgs = append(msgs, reply)
		for _, tc := range reply.ToolCalls {
			result, err := rt.Registry.Dispatch(ctx, t, tc.Name, tc.Args)
			if err != nil {
				return "", toolsUsed, err
			}
			toolsUsed = append(toolsUsed, ToolUse{ToolName: tc.Name, Args: tc.Args, ToolCallID: tc.ID})
			msgs = append(msgs, llm.Message{Role: "tool", ToolID: tc.ID, Content: string(result)})
		}
	}

	// Tool budget exhausted: ask once more for a final answer with no tools
	// offered, so the turn still produces text (spec §7 "best-effort answer").
	reply, err := rt.Provider.Chat(ctx, msgs, nil, rt.Model)
	if err != nil {
		return "", toolsUsed, err
	}
	return reply.Content, toolsUsed, nil
}

// buildMessages assembles the prompt: loaded history prefix followed by the
// new user turn (spec §4.11 point 2).
func buildMessages(history []llm.Message, userMessage string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: userMessage})
	return msgs
}
