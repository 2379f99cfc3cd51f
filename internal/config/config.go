package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/seantiz/tagpool/internal/backend"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "tagpool.db"
	defaultStrategy     = StrategyInProcess
	defaultBackend      = "treetagger"
	defaultTaggerBin    = "tree-tagger"
	defaultTaggerLang   = "english"
	defaultJobRetention = 10 * time.Minute

	envListenAddr   = "TAGPOOL_LISTEN_ADDR"
	envDBPath       = "TAGPOOL_DB_PATH"
	envLogLevel     = "TAGPOOL_LOG_LEVEL"
	envWorkers      = "TAGPOOL_WORKERS"
	envStrategy     = "TAGPOOL_STRATEGY"
	envWorkerBin    = "TAGPOOL_WORKER_BIN"
	envBackend      = "TAGPOOL_BACKEND"
	envTaggerBin    = "TAGPOOL_TAGGER_BIN"
	envTaggerArgs   = "TAGPOOL_TAGGER_ARGS"
	envTaggerLang   = "TAGPOOL_TAGGER_LANG"
	envJobRetention = "TAGPOOL_JOB_RETENTION"
)

// Pool strategies selectable through TAGPOOL_STRATEGY.
const (
	StrategyInProcess  = "inprocess"
	StrategySubprocess = "subprocess"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Workers is the pool size. Zero means one per CPU.
	Workers  int
	Strategy string
	// WorkerBin is the child worker executable for the subprocess strategy.
	// Empty means tagpool-worker next to the running binary.
	WorkerBin string

	Backend    string
	TaggerBin  string
	TaggerArgs []string
	TaggerLang string

	// JobRetention is how long finished results stay fetchable over the API.
	JobRetention time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		Strategy:     defaultStrategy,
		Backend:      defaultBackend,
		TaggerBin:    defaultTaggerBin,
		TaggerLang:   defaultTaggerLang,
		JobRetention: defaultJobRetention,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s=%q: want a non-negative integer", envWorkers, v)
		}
		cfg.Workers = n
	}
	if v := os.Getenv(envStrategy); v != "" {
		switch s := strings.ToLower(v); s {
		case StrategyInProcess, StrategySubprocess:
			cfg.Strategy = s
		default:
			return Config{}, fmt.Errorf("%s=%q: want %s or %s", envStrategy, v, StrategyInProcess, StrategySubprocess)
		}
	}
	if v := os.Getenv(envWorkerBin); v != "" {
		cfg.WorkerBin = v
	}
	if v := os.Getenv(envBackend); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv(envTaggerBin); v != "" {
		cfg.TaggerBin = v
	}
	if v := os.Getenv(envTaggerArgs); v != "" {
		cfg.TaggerArgs = strings.Fields(v)
	}
	if v := os.Getenv(envTaggerLang); v != "" {
		cfg.TaggerLang = v
	}
	if v := os.Getenv(envJobRetention); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%s=%q: want a positive duration", envJobRetention, v)
		}
		cfg.JobRetention = d
	}

	return cfg, nil
}

// BackendConfig returns the engine configuration every worker is built with.
func (c Config) BackendConfig() backend.Config {
	return backend.Config{
		Name: c.Backend,
		Bin:  c.TaggerBin,
		Args: c.TaggerArgs,
		Lang: c.TaggerLang,
	}
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
