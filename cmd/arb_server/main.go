package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hetulpatel/crossmatch/internal/app"
	"github.com/hetulpatel/crossmatch/internal/config"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("ARB_CONFIG"), "path to a TOML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("[arb-server] load config: %v", err)
	}
	deps, cleanup, err := app.Wire(ctx, cfg)
	if err != nil {
		logging.Fatalf("[arb-server] %v", err)
	}
	defer cleanup()

	var history server.History
	if deps.Store != nil {
		history = deps.Store
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(deps.Engine, history, server.Config{AllowedOrigins: cfg.Server.AllowedOrigins}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logging.Infof("[arb-server] listening on %s", cfg.Server.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("[arb-server] server error: %v", err)
		}
	case <-ctx.Done():
		logging.Infof("[arb-server] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Errorf("[arb-server] shutdown: %v", err)
		}
	}
}
