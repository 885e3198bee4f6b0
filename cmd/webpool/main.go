// Package main implements webpool, the pool-side dashboard. It polls
// the statspool receiver and serves the cached snapshot to browsers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashpool/hashpool/internal/config"
	"github.com/hashpool/hashpool/internal/web"
	"github.com/hashpool/hashpool/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.LoadWeb(*configPath, "webpool")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Shared.ServiceName, cfg.Shared.Version, cfg.Shared.LogLevel, cfg.Shared.LogFormat)
	logger.Info("starting webpool",
		"version", cfg.Shared.Version,
		"listen_addr", cfg.ListenAddr,
		"stats_url", cfg.StatsURL,
	)

	svc := web.New(cfg.StatsURL, cfg.PollInterval.Duration, cfg.HTTPTimeout.Duration, logger)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: svc.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go svc.Run(ctx)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown failed")
	}

	logger.Info("webpool stopped")
}
