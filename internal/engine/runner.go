package engine

import "context"

// FinishLength is reported by runners that stopped generating because the
// token ceiling was reached before a natural stop token.
const FinishLength = "length"

// CompletionRequest is the normalized request sent to a runner backend.
type CompletionRequest struct {
	Prompt       string
	MaxNewTokens int
	Temperature  float64
	TopP         float64
}

// CompletionResult is a runner's raw generation outcome. CompletionTokens is
// -1 when the backend cannot count tokens.
type CompletionResult struct {
	Text             string
	CompletionTokens int
	FinishReason     string
}

// Info describes the backend serving the model, surfaced on /health.
type Info struct {
	Backend string
	Device  string
	Model   string
}

// Runner executes one forward-generation pass against the loaded model. A
// Runner is not required to be safe for concurrent calls: the Engine's gate
// guarantees at most one Complete call is in flight process-wide.
type Runner interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	Info() Info
}
