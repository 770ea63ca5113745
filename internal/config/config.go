package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr    = ":7861"
	defaultEnginePath    = "/data/StabilityMatrix/Packages/Wan2GP"
	defaultPython        = "python3"
	defaultMaxConcurrent = 3

	envListenAddr    = "KILN_LISTEN_ADDR"
	envEnginePath    = "KILN_WAN2GP_PATH"
	envOutputDir     = "KILN_OUTPUT_DIR"
	envPython        = "KILN_PYTHON"
	envMaxConcurrent = "KILN_MAX_CONCURRENT"
	envLogLevel      = "KILN_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	// EnginePath is the Wan2GP installation directory.
	EnginePath string
	// OutputDir overrides where generated files are searched for. Empty means
	// discover from the engine's own configuration.
	OutputDir string
	// Python is the interpreter used to launch the engine bridge.
	Python string
	// MaxConcurrent bounds how many generations run at once.
	MaxConcurrent int
	LogLevel      slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		EnginePath:    defaultEnginePath,
		Python:        defaultPython,
		MaxConcurrent: defaultMaxConcurrent,
		LogLevel:      slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envEnginePath); v != "" {
		cfg.EnginePath = v
	}
	if v := os.Getenv(envOutputDir); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv(envPython); v != "" {
		cfg.Python = v
	}
	if v := os.Getenv(envMaxConcurrent); v != "" {
		cfg.MaxConcurrent = parsePositiveInt(v, defaultMaxConcurrent)
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

func parsePositiveInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
