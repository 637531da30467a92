package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubRunner lets tests script the backend's behavior.
type stubRunner struct {
	result  CompletionResult
	err     error
	delay   time.Duration
	inUse   atomic.Int32
	overlap atomic.Bool
	calls   atomic.Int32
}

func (s *stubRunner) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	s.calls.Add(1)
	if s.inUse.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inUse.Add(-1)

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return CompletionResult{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return CompletionResult{}, s.err
	}
	return s.result, nil
}

func (s *stubRunner) Info() Info {
	return Info{Backend: "stub", Device: "cpu", Model: "test"}
}

func TestGenerateReturnsCleanedAnswer(t *testing.T) {
	stub := &stubRunner{result: CompletionResult{
		Text:             "### Instruction:\nq\n\n### Response:\nThe answer is F = ma.",
		CompletionTokens: 8,
		FinishReason:     "stop",
	}}
	e := New(stub, time.Second)

	res, err := e.Generate(context.Background(), "prompt", Params{MaxNewTokens: 100})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Answer != "The answer is F = ma." {
		t.Fatalf("Answer = %q", res.Answer)
	}
	if res.Truncated {
		t.Fatalf("Truncated should be false for a natural stop")
	}
}

func TestGenerateFlagsTruncationAtTokenCeiling(t *testing.T) {
	e := New(&stubRunner{result: CompletionResult{
		Text:             "partial",
		CompletionTokens: 50,
		FinishReason:     FinishLength,
	}}, time.Second)

	res, err := e.Generate(context.Background(), "p", Params{MaxNewTokens: 50})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !res.Truncated {
		t.Fatalf("Truncated should be true when the ceiling stopped generation")
	}
}

func TestGenerateTimeoutReturnsNoPartialOutput(t *testing.T) {
	e := New(&stubRunner{delay: time.Second}, 20*time.Millisecond)

	res, err := e.Generate(context.Background(), "p", Params{MaxNewTokens: 10})
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("err = %v, want ErrGenerationTimeout", err)
	}
	if res.Answer != "" || res.RawOutput != "" {
		t.Fatalf("timeout must not leak partial output: %+v", res)
	}
}

func TestGenerateQueueDeadlineSurfacesAsTimeout(t *testing.T) {
	stub := &stubRunner{delay: 300 * time.Millisecond}
	e := New(stub, time.Second)

	// Occupy the single inference slot.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.Generate(context.Background(), "p", Params{MaxNewTokens: 10})
	}()
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Generate(ctx, "p", Params{MaxNewTokens: 10})
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("queued request err = %v, want ErrGenerationTimeout", err)
	}
	wg.Wait()
}

func TestGenerateSerializesRunnerAccess(t *testing.T) {
	stub := &stubRunner{delay: 10 * time.Millisecond, result: CompletionResult{Text: "ok", CompletionTokens: 1}}
	e := New(stub, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Generate(context.Background(), "p", Params{MaxNewTokens: 10}); err != nil {
				t.Errorf("Generate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if stub.overlap.Load() {
		t.Fatalf("runner saw overlapping Complete calls; the gate must serialize them")
	}
	if stub.calls.Load() != 8 {
		t.Fatalf("calls = %d, want 8", stub.calls.Load())
	}
}

func TestGenerateClassifiesRunnerFault(t *testing.T) {
	e := New(&stubRunner{err: errors.New("cuda out of memory")}, time.Second)

	_, err := e.Generate(context.Background(), "p", Params{MaxNewTokens: 10})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("runner fault must be distinct from timeout")
	}
}

func TestGenerateOnNilEngineReportsNotLoaded(t *testing.T) {
	var e *Engine
	if _, err := e.Generate(context.Background(), "p", Params{}); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestSnapshotDoesNotTouchTheGate(t *testing.T) {
	stub := &stubRunner{delay: 200 * time.Millisecond, result: CompletionResult{Text: "ok"}}
	e := New(stub, time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.Generate(context.Background(), "p", Params{MaxNewTokens: 10})
	}()
	time.Sleep(20 * time.Millisecond)

	done := make(chan Snapshot, 1)
	go func() { done <- e.Snapshot() }()
	select {
	case snap := <-done:
		if !snap.Loaded || snap.Backend != "stub" {
			t.Fatalf("Snapshot = %+v", snap)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("Snapshot blocked while a generation was in flight")
	}
	wg.Wait()
}

func TestCleanupExtractsResponseSection(t *testing.T) {
	raw := "### Instruction:\nexplain pH\n\n### Response:\n  pH measures acidity.  "
	if got := Cleanup(raw); got != "pH measures acidity." {
		t.Fatalf("Cleanup = %q", got)
	}
}

func TestCleanupFallsBackWithoutMarker(t *testing.T) {
	if got := Cleanup("  plain completion text \n"); got != "plain completion text" {
		t.Fatalf("Cleanup = %q", got)
	}
	if got := Cleanup(""); got != "" {
		t.Fatalf("Cleanup(\"\") = %q", got)
	}
}

func TestMockRunnerHonorsTokenCeiling(t *testing.T) {
	r := NewMockRunner()
	for _, k := range []int{1, 5, 1000} {
		res, err := r.Complete(context.Background(), CompletionRequest{
			Prompt:       "### Instruction:\nWhat is velocity?\n\n### Response:\n",
			MaxNewTokens: k,
		})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if got := len(strings.Fields(res.Text)); got > k {
			t.Fatalf("mock produced %d tokens, ceiling %d", got, k)
		}
		if res.CompletionTokens > k {
			t.Fatalf("CompletionTokens = %d, ceiling %d", res.CompletionTokens, k)
		}
		if got := len(strings.Fields(res.Text)); got == k && res.FinishReason != FinishLength {
			// Hitting the ceiling without a natural stop must be flagged.
			if k < 1000 {
				t.Fatalf("FinishReason = %q at ceiling %d, want %q", res.FinishReason, k, FinishLength)
			}
		}
	}
}

func TestParseCLIResultScansPastLogNoise(t *testing.T) {
	raw := "loading model...\nwarming up\n{\"text\":\"F = ma\",\"tokens_generated\":4,\"stop_reason\":\"eos\"}"
	res, ok := parseCLIResult(raw)
	if !ok {
		t.Fatalf("parseCLIResult failed on noisy output")
	}
	if res.Text != "F = ma" || res.TokensGenerated != 4 || res.StopReason != "eos" {
		t.Fatalf("parseCLIResult = %+v", res)
	}
}

func TestParseCLIResultRejectsNonJSON(t *testing.T) {
	if _, ok := parseCLIResult("just some text"); ok {
		t.Fatalf("plain text should not parse as a result object")
	}
}
