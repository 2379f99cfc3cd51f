// Command tagpool-worker is the child process of the subprocess strategy. It
// speaks the framed protocol on stdin/stdout and logs to stderr. It is started
// by the pool, not by hand.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/tagpool/internal/backend/builtin"
	"github.com/seantiz/tagpool/internal/config"
	"github.com/seantiz/tagpool/internal/workerproc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel).With("pid", os.Getpid())

	// The parent owns the lifecycle; SIGINT sent to a terminal's process group
	// must not kill the child ahead of the pool's shutdown. SIGTERM keeps its
	// default action.
	signal.Ignore(syscall.SIGINT)

	srv := workerproc.New(builtin.NewRegistry(), logger)
	if err := srv.Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}
