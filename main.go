// Command crosscollab is the puzzle server core of spec.md §1: a
// long-lived process that accepts TCP connections, speaks HTTP/1.1 and
// the WebSocket framing protocol by hand, and runs one puzzle channel
// per puzzle id.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.sr.ht/~kvothe/crosscollab/internal/auth"
	"git.sr.ht/~kvothe/crosscollab/internal/config"
	"git.sr.ht/~kvothe/crosscollab/internal/observability"
	"git.sr.ht/~kvothe/crosscollab/internal/puzzle"
	"git.sr.ht/~kvothe/crosscollab/internal/server"
	"git.sr.ht/~kvothe/crosscollab/internal/store"
	"git.sr.ht/~kvothe/crosscollab/internal/workerpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CROSSCOLLAB_SCFG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting crosscollab", "port", cfg.Port, "threads", cfg.Threads, "puzzle_path", cfg.PuzzlePath)

	st, err := store.Open(ctx, cfg.DatabaseDSN, cfg.PuzzlePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	gate, err := auth.NewGate(ctx, cfg.JWKSURL)
	if err != nil {
		return fmt.Errorf("setting up auth gate: %w", err)
	}

	wp := workerpool.New(cfg.Threads, cfg.Threads*4, observability.Component(log, "workerpool"))
	defer func() {
		if err := wp.Close(serverCloseTimeout); err != nil {
			log.Warn("worker pool close", "error", err)
		}
	}()

	pool := puzzle.NewPool(st, wp, observability.Component(log, "puzzle"))
	puzzle.HeartbeatInterval = cfg.HeartbeatInterval

	srv := server.New(wp, pool, st, gate, cfg.AcceptRatePerSec, cfg.AcceptBurst, observability.Component(log, "server"))

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("binding listener on port %d: %w", cfg.Port, err)
	}
	log.Info("listening", "addr", ln.Addr())

	if err := srv.Serve(ctx, ln); err != nil {
		log.Error("accept loop stopped", "error", err)
	}
	log.Info("shutting down")
	return nil
}

// serverCloseTimeout bounds how long Close waits for in-flight worker
// pool jobs (broker loops, connection tasks) to exit on shutdown.
const serverCloseTimeout = 5 * time.Second
