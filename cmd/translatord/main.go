// Package main implements translatord, the Hashpool proxy role. It
// holds the upstream SV2 connection to the pool, receives mint-quote
// notifications for its shares, and redeems them into ecash proofs in
// the local wallet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashpool/hashpool/internal/config"
	"github.com/hashpool/hashpool/internal/stats"
	"github.com/hashpool/hashpool/internal/translator"
	"github.com/hashpool/hashpool/internal/wallet"
	"github.com/hashpool/hashpool/pkg/log"
	"github.com/hashpool/hashpool/pkg/retry"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.LoadTranslator(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Shared.ServiceName, cfg.Shared.Version, cfg.Shared.LogLevel, cfg.Shared.LogFormat)
	logger.Info("starting translatord",
		"version", cfg.Shared.Version,
		"upstream_addr", cfg.UpstreamAddr,
		"mint_url", cfg.MintURL,
	)

	lockingKey, err := translator.LoadOrGenerateLockingKey(cfg.LockingKeyPath)
	if err != nil {
		logger.WithError(err).Error("failed to load locking key", "path", cfg.LockingKeyPath)
		os.Exit(1)
	}

	w, err := wallet.Open(cfg.WalletDBPath, lockingKey, cfg.MintURL, cfg.HTTPTimeout.Duration, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open wallet", "path", cfg.WalletDBPath)
		os.Exit(1)
	}
	defer w.Close()

	bridge := translator.New(translator.Config{
		UpstreamAddr:    cfg.UpstreamAddr,
		UserIdentity:    cfg.UserIdentity,
		QuoteRecordCap:  cfg.QuoteRecordCap,
		RedemptionQueue: cfg.RedemptionQueue,
		ReadTimeout:     cfg.ReadTimeout.Duration,
		WriteTimeout:    cfg.WriteTimeout.Duration,
		Retry:           retry.HubConfig(),
	}, lockingKey, w, logger)

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
		fetchKeyset(ctx, w, logger)
	}()
	go func() {
		defer wg.Done()
		bridge.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		bridge.RunRedemptions(ctx)
	}()
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	wg.Wait()
	logger.Info("translatord stopped")
}

// fetchKeyset retries until the mint answers; shares are refused until
// the wallet knows which keyset its proofs will belong to.
func fetchKeyset(ctx context.Context, w *wallet.Wallet, logger *log.Logger) {
	backoff := retry.HubConfig()
	for attempt := 0; ; attempt++ {
		err := w.FetchKeyset(ctx)
		if err == nil {
			logger.Info("keyset fetched", "keyset_id", w.KeysetID())
			return
		}
		logger.WithError(err).Warn("keyset fetch failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Delay(attempt)):
		}
	}
}
