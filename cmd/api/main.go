package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kerrokantasi/api/internal/app"
	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/config"
	"kerrokantasi/api/internal/logging"
	"kerrokantasi/api/internal/media"
	"kerrokantasi/api/internal/search"
	"kerrokantasi/api/internal/session"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/translation"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db)

	var payloads media.Storage = dataStore.Objects()
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minio, err := media.NewMinioStorage(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Error("object storage setup failed", "error", err)
			os.Exit(1)
		}
		payloads = minio
		logger.Info("using minio for media payloads", "bucket", cfg.MinioBucket)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	languages, err := translation.NewLanguages(cfg.Languages)
	if err != nil {
		logger.Error("invalid LANGUAGES", "error", err)
		os.Exit(1)
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db, languages), logger)

	var denylist session.Denylist = session.NewMemoryStore()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		denylist = redisStore
		logger.Info("using redis for token revocation")
	} else {
		logger.Warn("REDIS_URL not set; revoked tokens are kept in process memory")
	}

	service, err := app.NewService(cfg, dataStore, app.Dependencies{
		Media:    payloads,
		Denylist: denylist,
		Search:   searchService,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("service setup failed", "error", err)
		os.Exit(1)
	}

	auditMiddleware, err := audit.NewMiddleware(audit.Options{
		Enabled:       cfg.AuditLogEnabled,
		EndpointRegex: cfg.AuditLogEndpointRegex,
		Origin:        cfg.AuditLogOrigin,
	}, dataStore, logger)
	if err != nil {
		logger.Error("audit log setup failed", "error", err)
		os.Exit(1)
	}

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigin:     cfg.CORSOrigin,
		AnonWriteRate:  cfg.AnonWriteRate,
		AnonWriteBurst: cfg.AnonWriteBurst,
		Audit:          auditMiddleware,
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("kerrokantasi api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
