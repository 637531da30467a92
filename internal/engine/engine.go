package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrNotLoaded means the model never loaded or the backend is down.
	ErrNotLoaded = errors.New("model not loaded")
	// ErrGenerationTimeout means the wall-clock ceiling elapsed before the
	// model produced a complete answer. No partial output is returned.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrGenerationFailed covers every other runner fault. Detail is logged,
	// never surfaced to clients.
	ErrGenerationFailed = errors.New("generation failed")
)

// Params are the sampling settings for one generation call.
type Params struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
}

// Result is one generation outcome, handed to the caller by value.
type Result struct {
	RawOutput string
	Answer    string
	Truncated bool
	QueueWait time.Duration
	Compute   time.Duration
}

// Snapshot reports engine state for health checks. Reading it never touches
// the inference gate.
type Snapshot struct {
	Loaded  bool
	Backend string
	Device  string
	Model   string
}

// Engine owns the sole entry point for generation against the shared model.
// The model is expensive and not safe for concurrent use, so a single-slot
// semaphore serializes Generate calls; under load this queue is the dominant
// latency factor and QueueWait makes it visible.
type Engine struct {
	runner     Runner
	gate       *semaphore.Weighted
	genTimeout time.Duration
}

func New(runner Runner, genTimeout time.Duration) *Engine {
	if genTimeout <= 0 {
		genTimeout = 60 * time.Second
	}
	return &Engine{
		runner:     runner,
		gate:       semaphore.NewWeighted(1),
		genTimeout: genTimeout,
	}
}

func (e *Engine) Ready() bool {
	return e != nil && e.runner != nil
}

func (e *Engine) Snapshot() Snapshot {
	if !e.Ready() {
		return Snapshot{}
	}
	info := e.runner.Info()
	return Snapshot{Loaded: true, Backend: info.Backend, Device: info.Device, Model: info.Model}
}

// Generate runs one forward pass. Callers queue on the gate under their own
// request context; a deadline that fires while queued surfaces as a timeout
// without ever reaching the model. Once the slot is acquired the computation
// is bounded only by the generation timeout: a client disconnect must not
// abort the shared model mid-computation, so the runner context is detached
// from the caller's.
func (e *Engine) Generate(ctx context.Context, prompt string, p Params) (Result, error) {
	if !e.Ready() {
		return Result{}, ErrNotLoaded
	}

	queueStart := time.Now()
	if err := e.gate.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("queued %s: %w", time.Since(queueStart).Round(time.Millisecond), ErrGenerationTimeout)
		}
		return Result{}, err
	}
	defer e.gate.Release(1)
	queueWait := time.Since(queueStart)

	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.genTimeout)
	defer cancel()

	computeStart := time.Now()
	out, err := e.runner.Complete(genCtx, CompletionRequest{
		Prompt:       prompt,
		MaxNewTokens: p.MaxNewTokens,
		Temperature:  p.Temperature,
		TopP:         p.TopP,
	})
	compute := time.Since(computeStart)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("compute", compute).Dur("limit", e.genTimeout).Msg("generation hit wall-clock ceiling")
			return Result{}, fmt.Errorf("compute exceeded %s: %w", e.genTimeout, ErrGenerationTimeout)
		}
		if errors.Is(err, ErrNotLoaded) {
			return Result{}, err
		}
		log.Error().Err(err).Msg("runner fault during generation")
		return Result{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	truncated := out.FinishReason == FinishLength ||
		(p.MaxNewTokens > 0 && out.CompletionTokens >= p.MaxNewTokens)

	return Result{
		RawOutput: out.Text,
		Answer:    Cleanup(out.Text),
		Truncated: truncated,
		QueueWait: queueWait,
		Compute:   compute,
	}, nil
}

// Cleanup strips echoed template scaffolding from raw model output and keeps
// only the response-section content. Backends that echo the prompt (the local
// model decodes the full sequence) contain the marker; backends that return
// the completion alone do not. Malformed output degrades to the trimmed text,
// never an error.
func Cleanup(raw string) string {
	const marker = "### Response:"
	if idx := strings.LastIndex(raw, marker); idx >= 0 {
		return strings.TrimSpace(raw[idx+len(marker):])
	}
	return strings.TrimSpace(raw)
}
