package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tutor chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	RequestTimeout   time.Duration
	MetricsNamespace string

	EngineMode    string
	EngineHTTPURL string
	EngineCLIPath string
	EngineDevice  string
	ModelPath     string

	MaxSeqLength      int
	MaxNewTokens      int
	Temperature       float64
	TopP              float64
	GenerationTimeout time.Duration

	MaxMessageChars     int
	ContextBudgetChars  int
	ContextMaxExchanges int

	SessionTTL            time.Duration
	SessionRetentionTurns int
	SessionMaxCount       int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		// Default port matches the Hugging Face Spaces convention the web
		// frontend expects.
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":7860"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "tutor"),

		EngineMode:    envOrDefault("ENGINE_MODE", "auto"),
		EngineHTTPURL: envTrimmed("ENGINE_HTTP_URL"),
		EngineCLIPath: envTrimmed("ENGINE_CLI_PATH"),
		EngineDevice:  envOrDefault("ENGINE_DEVICE", "cuda"),
		ModelPath:     envOrDefault("MODEL_PATH", "tutor_model_lora"),

		MaxSeqLength: 2048,
		MaxNewTokens: 500,
		Temperature:  0.7,
		TopP:         0.9,

		MaxMessageChars:     2000,
		ContextBudgetChars:  1600,
		ContextMaxExchanges: 2,

		SessionRetentionTurns: 10,
		SessionMaxCount:       1024,

		ShutdownTimeout:   15 * time.Second,
		RequestTimeout:    90 * time.Second,
		GenerationTimeout: 60 * time.Second,
		SessionTTL:        30 * time.Minute,

		DatabaseURL: envTrimmed("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout, err = durationFromEnv("APP_REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationTimeout, err = durationFromEnv("GEN_TIMEOUT", cfg.GenerationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}

	cfg.MaxSeqLength, err = intFromEnv("MAX_SEQ_LENGTH", cfg.MaxSeqLength)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxNewTokens, err = intFromEnv("GEN_MAX_NEW_TOKENS", cfg.MaxNewTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageChars, err = intFromEnv("CHAT_MAX_MESSAGE_CHARS", cfg.MaxMessageChars)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextBudgetChars, err = intFromEnv("CONTEXT_BUDGET_CHARS", cfg.ContextBudgetChars)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextMaxExchanges, err = intFromEnv("CONTEXT_MAX_EXCHANGES", cfg.ContextMaxExchanges)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetentionTurns, err = intFromEnv("SESSION_RETENTION_TURNS", cfg.SessionRetentionTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxCount, err = intFromEnv("SESSION_MAX_COUNT", cfg.SessionMaxCount)
	if err != nil {
		return Config{}, err
	}

	cfg.Temperature, err = floatFromEnv("GEN_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.TopP, err = floatFromEnv("GEN_TOP_P", cfg.TopP)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxSeqLength <= 0 {
		return Config{}, fmt.Errorf("MAX_SEQ_LENGTH must be positive")
	}
	if cfg.MaxNewTokens <= 0 || cfg.MaxNewTokens >= cfg.MaxSeqLength {
		return Config{}, fmt.Errorf("GEN_MAX_NEW_TOKENS must be positive and below MAX_SEQ_LENGTH")
	}
	if cfg.Temperature <= 0 {
		return Config{}, fmt.Errorf("GEN_TEMPERATURE must be positive")
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		return Config{}, fmt.Errorf("GEN_TOP_P must be in (0, 1]")
	}
	if cfg.MaxMessageChars <= 0 {
		return Config{}, fmt.Errorf("CHAT_MAX_MESSAGE_CHARS must be positive")
	}
	if cfg.ContextBudgetChars <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_BUDGET_CHARS must be positive")
	}
	if cfg.ContextMaxExchanges <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_MAX_EXCHANGES must be positive")
	}
	if cfg.SessionTTL < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_TTL must be at least 5s")
	}
	if cfg.SessionRetentionTurns < 2 {
		return Config{}, fmt.Errorf("SESSION_RETENTION_TURNS must be at least 2")
	}
	if cfg.SessionMaxCount <= 0 {
		return Config{}, fmt.Errorf("SESSION_MAX_COUNT must be positive")
	}
	if cfg.GenerationTimeout <= 0 {
		return Config{}, fmt.Errorf("GEN_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout < cfg.GenerationTimeout {
		return Config{}, fmt.Errorf("APP_REQUEST_TIMEOUT must not be below GEN_TIMEOUT")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
