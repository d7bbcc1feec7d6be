package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runstreak/streakd/internal/api"
	"github.com/runstreak/streakd/internal/auth"
	"github.com/runstreak/streakd/internal/config"
	"github.com/runstreak/streakd/internal/outbox"
	"github.com/runstreak/streakd/internal/persistence/postgres"
	"github.com/runstreak/streakd/internal/provider/smashrun"
	"github.com/runstreak/streakd/internal/stats"
	syncpkg "github.com/runstreak/streakd/internal/sync"
	httptransport "github.com/runstreak/streakd/internal/transport/http"
	"github.com/runstreak/streakd/internal/vault"
)

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

	engine := stats.NewEngine(store)

	orchestrator := syncpkg.NewOrchestrator(store, store, tokenVault, newFetcher, syncpkg.Config{
		Lookback:   cfg.SyncLookback,
		Workers:    cfg.SyncWorkers,
		MaxRetries: cfg.FetchMaxRetries,
	})

	handler := api.NewHandler(store, store, engine, tokenVault, oauthClient, fetchProfile, orchestrator, nil)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipAuth)

	requestLogger := log.New(log.Writer(), "[http] ", log.LstdFlags)
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(httptransport.WithRequestLog(requestLogger, mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("streakd api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}

func skipAuth(r *http.Request) bool {
	if r.URL.Path == "/metrics" {
		return true
	}
	return api.SkipAuth(r)
}

func newFetcher(accessToken string) syncpkg.Fetcher {
	return smashrun.NewClient(accessToken)
}

func fetchProfile(ctx context.Context, accessToken string) (string, string, string, error) {
	profile, err := smashrun.NewClient(accessToken).Profile(ctx)
	if err != nil {
		return "", "", "", err
	}
	displayName := strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	if displayName == "" {
		displayName = profile.UserName
	}
	return strconv.FormatInt(profile.ID, 10), profile.UserName, displayName, nil
}
