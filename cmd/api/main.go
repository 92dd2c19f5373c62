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

	"caseflow/api/internal/app"
	"caseflow/api/internal/billing"
	"caseflow/api/internal/blob"
	"caseflow/api/internal/chat"
	"caseflow/api/internal/config"
	"caseflow/api/internal/docrepo"
	"caseflow/api/internal/email"
	"caseflow/api/internal/search"
	"caseflow/api/internal/session"
	"caseflow/api/internal/store"
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

	if err := os.MkdirAll(cfg.WikiReposDir, 0o755); err != nil {
		log.Fatalf("failed to create wiki repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	docService := docrepo.New(cfg.WikiReposDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	deps := app.Deps{
		Docs:   docService,
		Search: searchService,
	}

	// Refresh tokens and chat fanout share one Redis; without it sessions
	// fall back to Postgres and chat stays single-node.
	var hub *chat.Hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		hub = chat.NewHub(redisStore.Client())
		log.Printf("Using Redis for refresh tokens and chat fanout")
	} else {
		hub = chat.NewHub(nil)
		log.Printf("Using PostgreSQL for refresh token storage")
	}
	deps.Hub = hub
	go hub.Run(ctx)

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		blobService, err := blob.NewService(ctx, blob.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		deps.Blob = blobService
	} else {
		log.Printf("Object storage not configured; attachments disabled")
	}

	if strings.TrimSpace(cfg.PaymentAPIKey) != "" {
		processor, err := billing.New(billing.Config{
			URL:    cfg.PaymentAPIURL,
			APIKey: cfg.PaymentAPIKey,
		})
		if err != nil {
			log.Fatalf("payment processor setup failed: %v", err)
		}
		deps.Billing = processor
	} else {
		log.Printf("Payment processor not configured; invoicing disabled")
	}

	deps.Email = email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		EnableTLS: true,
	})

	service := app.New(cfg, dataStore, deps)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Caseflow API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
