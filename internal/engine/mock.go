package engine

import (
	"context"
	"fmt"
	"strings"
)

// MockRunner produces deterministic replies without any model weights. It is
// the dev/demo fallback when neither an HTTP model server nor a local
// inference binary is configured.
type MockRunner struct{}

func NewMockRunner() *MockRunner { return &MockRunner{} }

func (r *MockRunner) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	select {
	case <-ctx.Done():
		return CompletionResult{}, ctx.Err()
	default:
	}

	question := instructionOf(req.Prompt)
	text := fmt.Sprintf(
		"I understand you're asking about: %q\n\n"+
			"This is a demonstration response produced without the fine-tuned weights. "+
			"Point ENGINE_HTTP_URL at a model server or ENGINE_CLI_PATH at a local "+
			"inference binary to get real tutoring explanations.",
		question,
	)

	// One word approximates one token well enough for the demo backend; the
	// ceiling still has to hold.
	words := strings.Fields(text)
	finish := "stop"
	if req.MaxNewTokens > 0 && len(words) > req.MaxNewTokens {
		words = words[:req.MaxNewTokens]
		finish = FinishLength
	}
	return CompletionResult{
		Text:             strings.Join(words, " "),
		CompletionTokens: len(words),
		FinishReason:     finish,
	}, nil
}

func (r *MockRunner) Info() Info {
	return Info{Backend: "mock", Device: "cpu", Model: "demo"}
}

func instructionOf(prompt string) string {
	const (
		head = "### Instruction:\n"
		tail = "### Response:"
	)
	s := prompt
	if idx := strings.Index(s, head); idx >= 0 {
		s = s[idx+len(head):]
	}
	if idx := strings.Index(s, tail); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
