// testserver starts a tagpool API server over the echo engine for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/tagpool/internal/api"
	"github.com/seantiz/tagpool/internal/backend"
	"github.com/seantiz/tagpool/internal/backend/builtin"
	"github.com/seantiz/tagpool/internal/backend/echo"
	"github.com/seantiz/tagpool/internal/model"
	"github.com/seantiz/tagpool/internal/pool"
	"github.com/seantiz/tagpool/internal/store"
)

const stubName = "stub"

// stubBackend delays every call and then tags with the echo engine, so that
// tests can observe jobs while they are running.
type stubBackend struct {
	inner backend.Backend
	delay time.Duration
}

func (s *stubBackend) Tag(ctx context.Context, text string, opts model.Options) ([]string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.inner.Tag(ctx, text, opts)
}

func (s *stubBackend) Capabilities() backend.Capabilities {
	caps := s.inner.Capabilities()
	caps.Name = stubName
	return caps
}

func (s *stubBackend) Close() error { return s.inner.Close() }

func main() {
	addr := ":8080"
	if v := os.Getenv("TAGPOOL_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := builtin.NewRegistry()
	reg.Register(stubName, func(cfg backend.Config) (backend.Backend, error) {
		inner, err := echo.New(cfg)
		if err != nil {
			return nil, err
		}
		return &stubBackend{inner: inner, delay: 300 * time.Millisecond}, nil
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	broker := pool.NewBroker()
	journal := store.NewJournal(db, logger)
	defer journal.Close()
	p, err := pool.New(
		pool.InProcess{Registry: reg, Backend: backend.Config{Name: stubName}},
		pool.WithWorkers(2),
		pool.WithLogger(logger),
		pool.WithObserver(journal),
		pool.WithObserver(broker),
		pool.WithObserver(pool.MetricsObserver()),
	)
	if err != nil {
		log.Fatalf("failed to start pool: %v", err)
	}
	defer p.Stop()

	srv := api.NewServer(addr, db, reg, p, broker, time.Minute, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
