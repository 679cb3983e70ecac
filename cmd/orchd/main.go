// orchd exposes the flow orchestrator over HTTP. Pipeline definitions
// are posted as YAML; job commands run in a shell on the daemon host.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	flow "github.com/Andrej220/go-utils/flow"
	lg "github.com/Andrej220/go-utils/zlog"
)

type config struct {
	addr      string
	workers   int
	retention time.Duration
}

func configFromEnv() config {
	cfg := config{addr: ":8080"}
	if v := strings.TrimSpace(os.Getenv("ORCHD_ADDR")); v != "" {
		cfg.addr = v
	}
	if v := os.Getenv("ORCHD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.workers = n
		}
	}
	if v := os.Getenv("ORCHD_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.retention = d
		}
	}
	return cfg
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := configFromEnv()
	logger := lg.FromContext(ctx)

	orch := flow.New(flow.Options{
		Workers:   cfg.workers,
		Retention: cfg.retention,
	})

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           newServer(orch).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("orchd listening", lg.String("addr", cfg.addr))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", lg.Any("error", err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", lg.Any("error", err))
	}
	if err := orch.Shutdown(shCtx); err != nil {
		logger.Warn("orchestrator shutdown", lg.Any("error", err))
	}
}
