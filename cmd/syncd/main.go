package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runstreak/streakd/internal/config"
	"github.com/runstreak/streakd/internal/outbox"
	"github.com/runstreak/streakd/internal/persistence/postgres"
	"github.com/runstreak/streakd/internal/provider/smashrun"
	syncpkg "github.com/runstreak/streakd/internal/sync"
	"github.com/runstreak/streakd/internal/vault"
)

// syncd runs a sync pass over all active connections on an interval and
// drains the resulting outbox events to Kafka.
func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	secrets := postgres.NewSecretStore(pool)

	oauthClient := smashrun.NewOAuthClient(cfg.SmashrunClientID, cfg.SmashrunClientSecret, cfg.SmashrunRedirectURL)
	tokenVault := vault.New(secrets, oauthClient, cfg.TokenRefreshBuffer)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	orchestrator := syncpkg.NewOrchestrator(store, store, tokenVault,
		func(token string) syncpkg.Fetcher { return smashrun.NewClient(token) },
		syncpkg.Config{
			Lookback:   cfg.SyncLookback,
			Workers:    cfg.SyncWorkers,
			MaxRetries: cfg.FetchMaxRetries,
		})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("syncd metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	interval := cfg.SyncDeadline
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runPass := func() {
		passCtx, passCancel := context.WithTimeout(ctx, cfg.SyncDeadline)
		defer passCancel()
		if _, err := orchestrator.Run(passCtx, syncpkg.Options{}); err != nil {
			log.Printf("sync pass failed: %v", err)
		}
	}

	runPass()
	for {
		select {
		case <-stop:
			log.Println("syncd shutdown requested")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics server shutdown error: %v", err)
			}

			dispatcher.Wait()
			return
		case <-ticker.C:
			runPass()
		}
	}
}
