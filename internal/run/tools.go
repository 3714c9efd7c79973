package run

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ToolExecutor answers a tool call requested by a run.
type ToolExecutor interface {
	Execute(ctx context.Context, call openai.ToolCall) (string, error)
}

// PlaceholderExecutor answers every call with a fixed result. It keeps runs moving
// when no real tools are registered.
type PlaceholderExecutor struct{}

func (PlaceholderExecutor) Execute(ctx context.Context, call openai.ToolCall) (string, error) {
	out, err := json.Marshal(map[string]string{
		"result": fmt.Sprintf("Tool %s is not available.", call.Function.Name),
	})
	return string(out), err
}

// ExecutorFunc adapts a function to ToolExecutor.
type ExecutorFunc func(ctx context.Context, call openai.ToolCall) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, call openai.ToolCall) (string, error) {
	return f(ctx, call)
}

func toolOutputs(ctx context.Context, exec ToolExecutor, calls []openai.ToolCall) ([]openai.ToolOutput, error) {
	outputs := make([]openai.ToolOutput, 0, len(calls))
	for _, call := range calls {
		out, err := exec.Execute(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("execute tool %s: %w", call.Function.Name, err)
		}
		outputs = append(outputs, openai.ToolOutput{ToolCallID: call.ID, Output: out})
	}
	return outputs, nil
}

func requiredToolCalls(r openai.Run) []openai.ToolCall {
	if r.RequiredAction == nil || r.RequiredAction.SubmitToolOutputs == nil {
		return nil
	}
	return r.RequiredAction.SubmitToolOutputs.ToolCalls
}
