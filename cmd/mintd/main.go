// Package main implements mintd, the Hashpool mint role. It answers
// the pool's SV2 mint-quote requests and serves the Cashu HTTP API
// that wallets redeem quotes against.
//
// The pool link is plaintext TCP without a Noise handshake; run both
// roles on a trusted network segment.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashpool/hashpool/internal/cashu"
	"github.com/hashpool/hashpool/internal/config"
	"github.com/hashpool/hashpool/internal/mint"
	"github.com/hashpool/hashpool/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.LoadMint(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Shared.ServiceName, cfg.Shared.Version, cfg.Shared.LogLevel, cfg.Shared.LogFormat)
	logger.Info("starting mintd",
		"version", cfg.Shared.Version,
		"listen_addr", cfg.ListenAddr,
		"http_addr", cfg.HTTPAddr,
	)

	if cfg.KeysetSeed == "" {
		logger.Error("keyset_seed must be set; signing keys must survive restarts")
		os.Exit(1)
	}
	keyset := cashu.DeriveKeyset([]byte(cfg.KeysetSeed))
	logger.Info("keyset derived", "keyset_id", hex.EncodeToString(keyset.ID[:]))

	var store mint.Store
	if cfg.RedisURL == "" {
		logger.Warn("no redis_url configured, quotes will not survive restarts")
		store = mint.NewMemoryStore()
	} else {
		redisStore, err := mint.NewRedisStore(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		store = redisStore
	}
	defer store.Close()

	svc := mint.NewService(keyset, store, cfg.Shared.MinimumDifficulty, cfg.QuoteExpiry.Duration, logger)
	quoteServer := mint.NewServer(svc, cfg.WriteTimeout.Duration, logger)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.WithError(err).Error("failed to listen", "listen_addr", cfg.ListenAddr)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mint.NewHTTPServer(svc, logger).Router(),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := quoteServer.Serve(ctx, listener); err != nil {
			logger.WithError(err).Error("quote server failed")
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

	logger.Info("mintd stopped")
}
