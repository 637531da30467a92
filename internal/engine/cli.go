package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CLIRunner shells out to a local inference binary for each generation. The
// binary reads the prompt on stdin and prints a JSON result object; many
// runners emit log noise first, so the parser scans for the last JSON block.
type CLIRunner struct {
	binaryPath string
	modelPath  string
	device     string
}

func NewCLIRunner(binaryPath, modelPath, device string) (*CLIRunner, error) {
	binaryPath = strings.TrimSpace(binaryPath)
	if binaryPath == "" {
		return nil, errors.New("engine cli path is required")
	}
	if _, err := exec.LookPath(binaryPath); err != nil {
		return nil, fmt.Errorf("inference binary not found: %w", err)
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is required for cli mode")
	}
	return &CLIRunner{binaryPath: binaryPath, modelPath: modelPath, device: device}, nil
}

// cliResult is the runner binary's output contract.
type cliResult struct {
	Text            string `json:"text"`
	TokensGenerated int    `json:"tokens_generated"`
	StopReason      string `json:"stop_reason"`
}

func (r *CLIRunner) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	args := []string{
		"--model", r.modelPath,
		"--n-predict", strconv.Itoa(req.MaxNewTokens),
		"--temp", strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		"--top-p", strconv.FormatFloat(req.TopP, 'f', -1, 64),
	}

	cmd := exec.CommandContext(ctx, r.binaryPath, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext surfaces "signal: killed" instead of the
			// context error.
			return CompletionResult{}, ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = strings.TrimSpace(stdout.String())
		}
		if errText != "" {
			return CompletionResult{}, fmt.Errorf("inference binary failed: %w: %s", err, errText)
		}
		return CompletionResult{}, fmt.Errorf("inference binary failed: %w", err)
	}

	if res, ok := parseCLIResult(stdout.String()); ok {
		return CompletionResult{
			Text:             res.Text,
			CompletionTokens: res.TokensGenerated,
			FinishReason:     res.StopReason,
		}, nil
	}

	// No JSON contract in the output: treat the whole stdout as the raw
	// completion with an unknown token count.
	return CompletionResult{
		Text:             strings.TrimSpace(stdout.String()),
		CompletionTokens: -1,
	}, nil
}

func (r *CLIRunner) Info() Info {
	return Info{Backend: "cli", Device: r.device, Model: r.modelPath}
}

func parseCLIResult(raw string) (cliResult, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return cliResult{}, false
	}

	var res cliResult
	if err := json.Unmarshal([]byte(raw), &res); err == nil && res.Text != "" {
		return res, true
	}

	// Scan from the last JSON-looking block; runners tend to log before
	// printing the result object.
	if start := strings.LastIndex(raw, "\n{"); start >= 0 {
		if err := json.Unmarshal([]byte(raw[start+1:]), &res); err == nil && res.Text != "" {
			return res, true
		}
	}
	if brace := strings.LastIndex(raw, "{"); brace >= 0 {
		if err := json.Unmarshal([]byte(raw[brace:]), &res); err == nil && res.Text != "" {
			return res, true
		}
	}
	return cliResult{}, false
}
