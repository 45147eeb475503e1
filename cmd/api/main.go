package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"curio/api/internal/app"
	"curio/api/internal/artifacts"
	"curio/api/internal/config"
	"curio/api/internal/email"
	"curio/api/internal/export"
	"curio/api/internal/gitrepo"
	"curio/api/internal/logging"
	"curio/api/internal/metrics"
	"curio/api/internal/search"
	"curio/api/internal/session"
	"curio/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrationsLogged(ctx, db, cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:   dataStore,
		Git:     gitrepo.New(cfg.ReposDir),
		Metrics: metrics.New("curio"),
		PDF:     export.ChromePDF(cfg.ChromePath),
		Logger:  logger,
	}

	// Meilisearch is optional, Postgres FTS answers when it is absent or down.
	var primary search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), logger)
	deps.Search = searchService

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, refresh tokens fall back to postgres and drag leases are off", zap.Error(err))
		} else {
			defer redisStore.Close()
			deps.Refresh = redisStore
			deps.Leases = redisStore
			logger.Info("using redis for refresh tokens and drag leases")
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		BaseURL:  cfg.PublicURL,
	})
	deps.Mailer = mailer
	if !mailer.IsConfigured() {
		logger.Warn("smtp not configured, verification and reset tokens are returned in responses")
	}

	files, err := artifacts.New(artifacts.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
		URLTTL:    cfg.ArtifactURLTTL,
	}, logger)
	switch {
	case errors.Is(err, artifacts.ErrNotConfigured):
		logger.Info("artifact storage not configured, exports are streamed only")
	case err != nil:
		return fmt.Errorf("artifact storage: %w", err)
	default:
		if err := files.EnsureBucket(ctx); err != nil {
			logger.Warn("ensure artifact bucket failed", zap.Error(err))
		}
		deps.Artifacts = files
	}

	service, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	defer service.Close()

	go searchService.ReindexAll(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("curio api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
