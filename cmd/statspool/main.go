// Package main implements statspool, the stats receiver for the pool
// role. It ingests snapshots over TCP and serves the latest one at
// /api/stats.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashpool/hashpool/internal/config"
	"github.com/hashpool/hashpool/internal/stats"
	"github.com/hashpool/hashpool/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.LoadStats(*configPath, "statspool")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Shared.ServiceName, cfg.Shared.Version, cfg.Shared.LogLevel, cfg.Shared.LogFormat)
	logger.Info("starting statspool",
		"version", cfg.Shared.Version,
		"listen_addr", cfg.ListenAddr,
		"http_addr", cfg.HTTPAddr,
	)

	receiver := stats.NewReceiver(cfg.StalenessThreshold.Duration, logger)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.WithError(err).Error("failed to listen", "listen_addr", cfg.ListenAddr)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: receiver.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := receiver.ServeTCP(ctx, listener); err != nil {
			logger.WithError(err).Error("snapshot listener failed")
			cancel()
		}
	}()
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

	logger.Info("statspool stopped")
}
