package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vaultd/syncd/internal/app"
	"vaultd/syncd/internal/blob"
	"vaultd/syncd/internal/config"
	"vaultd/syncd/internal/embed"
	"vaultd/syncd/internal/engine"
	"vaultd/syncd/internal/notify"
	"vaultd/syncd/internal/reportcache"
	"vaultd/syncd/internal/store"
	"vaultd/syncd/internal/vecindex"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	metaStore := store.NewPostgres(db)

	contentStore, err := blob.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("content store connection failed: %v", err)
	}
	if err := contentStore.EnsureBucket(ctx); err != nil {
		log.Printf("WARNING: content bucket check failed (will surface as unavailability): %v", err)
	}

	vectorIndex := vecindex.New(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.EmbedDimension)
	defer vectorIndex.Close()

	cache, err := reportcache.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer cache.Close()

	var notifier engine.Notifier = notify.Log{}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		log.Printf("Posting status-changed events to %s", cfg.WebhookURL)
		notifier = notify.NewWebhook(cfg.WebhookURL)
	}

	embedder := embed.NewOpenAI(cfg.EmbedAPIKey, cfg.EmbedBaseURL, cfg.EmbedModel, cfg.EmbedDimension)
	extractor := embed.NewPlainText()

	collector := engine.NewCollector(metaStore, contentStore, vectorIndex, cfg.BackendTimeout)
	repairer := engine.NewRepairer(metaStore, contentStore, vectorIndex, embedder, extractor, cfg.EmbedChunkRunes)
	coordinator := engine.NewCoordinator(collector, repairer, cache, notifier, cfg.SyncInterval, cfg.ReportTTL)
	coordinator.Start()
	defer coordinator.Stop()

	service := app.New(cfg, coordinator, metaStore)
	httpServer := app.NewHTTPServer(service, cfg.APIToken, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Vaultd sync engine listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	coordinator.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
