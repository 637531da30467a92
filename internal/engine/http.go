package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// HTTPRunner talks to an OpenAI-compatible completion server hosting the
// fine-tuned model (llama.cpp server, vLLM, TGI in compat mode).
type HTTPRunner struct {
	client *openai.Client
	model  string
	device string
}

// NewHTTPRunner probes the server before accepting it; an unreachable model
// server at startup is a fatal load error, not a per-request one.
func NewHTTPRunner(ctx context.Context, baseURL, model, device string) (*HTTPRunner, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("engine http url is required")
	}

	cfg := openai.DefaultConfig("")
	cfg.BaseURL = baseURL
	client := openai.NewClientWithConfig(cfg)

	if _, err := client.ListModels(ctx); err != nil {
		return nil, fmt.Errorf("model server unreachable at %s: %w", baseURL, err)
	}

	return &HTTPRunner{client: client, model: model, device: device}, nil
}

func (r *HTTPRunner) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	resp, err := r.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       r.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxNewTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
	})
	if err != nil {
		return CompletionResult{}, classifyCompletionError(err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResult{}, errors.New("model server returned no choices")
	}

	choice := resp.Choices[0]
	tokens := -1
	if resp.Usage.CompletionTokens > 0 {
		tokens = resp.Usage.CompletionTokens
	}
	return CompletionResult{
		Text:             choice.Text,
		CompletionTokens: tokens,
		FinishReason:     choice.FinishReason,
	}, nil
}

func (r *HTTPRunner) Info() Info {
	return Info{Backend: "http", Device: r.device, Model: r.model}
}

// classifyCompletionError separates "the model server is down or shedding
// load" from genuine generation faults so the HTTP layer can answer 503
// versus 500.
func classifyCompletionError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isUnavailableStatus(apiErr.HTTPStatusCode) {
		return fmt.Errorf("model server unavailable (status %d): %w", apiErr.HTTPStatusCode, ErrNotLoaded)
	}
	return err
}

func isUnavailableStatus(code int) bool {
	switch code {
	case 429, 502, 503, 504:
		return true
	default:
		return false
	}
}
