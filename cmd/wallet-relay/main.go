package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wilsonzlin/wallet-relay/internal/config"
	"github.com/wilsonzlin/wallet-relay/internal/httpserver"
	"github.com/wilsonzlin/wallet-relay/internal/metrics"
	"github.com/wilsonzlin/wallet-relay/internal/protocol"
	"github.com/wilsonzlin/wallet-relay/internal/ratelimit"
	"github.com/wilsonzlin/wallet-relay/internal/session"
	"github.com/wilsonzlin/wallet-relay/internal/wsrelay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger := config.NewLogger(cfg)
	logger.Info("starting wallet relay",
		"addr", cfg.ListenAddr(),
		"max_sessions", cfg.MaxSessions,
		"mode", cfg.Mode,
	)

	m := metrics.New()

	store := session.NewStore(cfg.MaxSessions, nil, logger)
	store.SetOnExpired(func(n int) { m.SessionsExpired.Add(float64(n)) })

	limiter := ratelimit.NewLimiter(cfg.RateLimitWindow, cfg.RateLimitMax, nil)

	wsSrv := wsrelay.NewServer(store, m, logger)
	httpSrv := httpserver.New(cfg, logger, store, limiter, m, wsSrv, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go store.Run(ctx)
	go limiter.Run(ctx)

	l, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(l); err != nil && err != httpserver.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting and drain plain HTTP requests first; long-lived sockets
	// are then closed explicitly, since Shutdown does not cover hijacked
	// connections.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete, closing", "err", err)
		_ = httpSrv.Close()
	}
	store.CloseAll(protocol.CloseGoingAway, "Server shutting down")

	logger.Info("stopped")
	return nil
}
