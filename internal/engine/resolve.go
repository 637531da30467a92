package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Config controls runner construction.
type Config struct {
	Mode      string
	HTTPURL   string
	CLIPath   string
	ModelPath string
	Device    string
}

// NewRunner resolves the configured backend. Explicit modes fail hard when
// their artifacts are missing; auto mode degrades through http, cli, and
// finally the mock so a dev machine without weights still serves.
func NewRunner(ctx context.Context, cfg Config) (Runner, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoRunner(ctx, cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("ENGINE_HTTP_URL is required for http mode")
		}
		return NewHTTPRunner(ctx, cfg.HTTPURL, cfg.ModelPath, cfg.Device)
	case "cli":
		return NewCLIRunner(cfg.CLIPath, cfg.ModelPath, cfg.Device)
	case "mock":
		return NewMockRunner(), nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}

func newAutoRunner(ctx context.Context, cfg Config) Runner {
	if url := strings.TrimSpace(cfg.HTTPURL); url != "" {
		r, err := NewHTTPRunner(ctx, url, cfg.ModelPath, cfg.Device)
		if err == nil {
			log.Info().Str("url", url).Msg("engine backend: http model server")
			return r
		}
		log.Warn().Err(err).Msg("http model server unavailable, trying next backend")
	}

	if cliPath := strings.TrimSpace(cfg.CLIPath); cliPath != "" {
		if _, err := exec.LookPath(cliPath); err == nil {
			r, err := NewCLIRunner(cliPath, cfg.ModelPath, cfg.Device)
			if err == nil {
				log.Info().Str("binary", cliPath).Msg("engine backend: local inference binary")
				return r
			}
			log.Warn().Err(err).Msg("cli backend rejected configuration")
		}
	}

	log.Warn().Msg("engine backend: mock (no model server url and no inference binary)")
	return NewMockRunner()
}
