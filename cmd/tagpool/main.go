package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/seantiz/tagpool/internal/api"
	"github.com/seantiz/tagpool/internal/backend/builtin"
	"github.com/seantiz/tagpool/internal/config"
	"github.com/seantiz/tagpool/internal/pool"
	"github.com/seantiz/tagpool/internal/store"
)

const poolShutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("tagpool: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"strategy", cfg.Strategy,
		"backend", cfg.Backend,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := builtin.NewRegistry()
	broker := pool.NewBroker()

	var strategy pool.Strategy = pool.InProcess{Registry: reg, Backend: cfg.BackendConfig()}
	if cfg.Strategy == config.StrategySubprocess {
		bin, err := workerBinary(cfg.WorkerBin)
		if err != nil {
			log.Fatalf("locate worker binary: %v", err)
		}
		strategy = pool.Subprocess{Path: bin, Backend: cfg.BackendConfig(), Stderr: os.Stderr}
	}

	journal := store.NewJournal(db, logger)
	opts := []pool.Option{
		pool.WithLogger(logger),
		pool.WithObserver(journal),
		pool.WithObserver(broker),
		pool.WithObserver(pool.MetricsObserver()),
		pool.WithProtocolErrorHandler(func(err error) {
			logger.Error("worker protocol error", "error", err)
		}),
	}
	if cfg.Workers > 0 {
		opts = append(opts, pool.WithWorkers(cfg.Workers))
	}

	p, err := pool.New(strategy, opts...)
	if err != nil {
		log.Fatalf("failed to start pool: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, db, reg, p, broker, cfg.JobRetention, logger)
	runErr := srv.Run()

	ctx, cancel := context.WithTimeout(context.Background(), poolShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Error("pool shutdown", "error", err)
	}
	journal.Close()

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}

// workerBinary resolves the child worker executable, defaulting to
// tagpool-worker next to the running binary.
func workerBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "tagpool-worker"), nil
}
