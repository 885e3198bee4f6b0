// Package main implements poold, the Hashpool pool role. It listens
// for SV2 translator connections, validates shares, and drives the
// asynchronous mint-quote flow through the hub.
//
// The mint link is plaintext TCP without a Noise handshake; run both
// roles on a trusted network segment.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashpool/hashpool/internal/config"
	"github.com/hashpool/hashpool/internal/hub"
	"github.com/hashpool/hashpool/internal/pool"
	"github.com/hashpool/hashpool/internal/stats"
	"github.com/hashpool/hashpool/pkg/log"
	"github.com/hashpool/hashpool/pkg/retry"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.LoadPool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Shared.ServiceName, cfg.Shared.Version, cfg.Shared.LogLevel, cfg.Shared.LogFormat)
	logger.Info("starting poold",
		"version", cfg.Shared.Version,
		"listen_addr", cfg.ListenAddr,
		"mint_addr", cfg.MintAddr,
	)

	mintHub := hub.New(hub.Config{
		MintAddr:       cfg.MintAddr,
		RequestBuffer:  cfg.RequestBuffer,
		ResponseBuffer: cfg.ResponseBuffer,
		ReadTimeout:    cfg.ReadTimeout.Duration,
		WriteTimeout:   cfg.WriteTimeout.Duration,
		Retry:          retry.HubConfig(),
	}, logger)

	bridge := pool.New(pool.Config{
		ListenAddr:        cfg.ListenAddr,
		MinimumDifficulty: cfg.Shared.MinimumDifficulty,
		NetworkDifficulty: cfg.NetworkDifficulty,
		ShareTimeout:      cfg.ShareTimeout.Duration,
		SweepInterval:     cfg.SweepInterval.Duration,
		ReadTimeout:       cfg.ReadTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
	}, mintHub, logger)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.WithError(err).Error("failed to listen", "listen_addr", cfg.ListenAddr)
		os.Exit(1)
	}

	statsClient := stats.NewClient(cfg.StatsAddr, cfg.WriteTimeout.Duration, cfg.WriteTimeout.Duration, logger)
	defer statsClient.Close()
	poller := stats.NewPoller(bridge, statsClient, cfg.Shared.SnapshotInterval.Duration, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		mintHub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		bridge.RouteResponses(ctx)
	}()
	go func() {
		defer wg.Done()
		bridge.SweepStale(ctx)
	}()
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	go func() {
		if err := bridge.Serve(ctx, listener); err != nil {
			logger.WithError(err).Error("listener failed")
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()
	logger.Info("poold stopped")
}
