package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kerrokantasi/api/internal/app"
	"kerrokantasi/api/internal/config"
	"kerrokantasi/api/internal/logging"
	"kerrokantasi/api/internal/media"
	"kerrokantasi/api/internal/search"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/translation"
)

var rootCmd = &cobra.Command{
	Use:   "kerrokantasi-admin",
	Short: "Operator commands for the kerrokantasi API",
	Long: `Operator commands that work directly against the kerrokantasi database:
importing hearing documents, removing old personal data, generating mock
content, rebuilding the search index and restoring deleted rows.`,
	SilenceUsage: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed).Sprint("error:"), err)
		stop()
		os.Exit(1)
	}
}

// env holds the wiring shared by every command.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *sql.DB
	store   *store.PostgresStore
	search  *search.Service
	meili   *search.Meili
	service *app.Service
}

func openEnv(ctx context.Context) (*env, error) {
	cfg := config.Load()
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger := logging.New(os.Stderr, level, "text")

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	var payloads media.Storage = dataStore.Objects()
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minio, err := media.NewMinioStorage(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect object storage: %w", err)
		}
		payloads = minio
	}

	e := &env{cfg: cfg, logger: logger, db: db, store: dataStore}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		e.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	languages, err := translation.NewLanguages(cfg.Languages)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("configure languages: %w", err)
	}
	e.search = search.NewService(e.meili, search.NewPgFTS(db, languages), logger)

	e.service, err = app.NewService(cfg, dataStore, app.Dependencies{
		Media:  payloads,
		Search: e.search,
		Logger: logger,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) Close() {
	if e.meili != nil {
		e.meili.Close()
	}
	e.db.Close()
}

func success(format string, args ...any) {
	fmt.Printf("%s %s\n", color.New(color.FgGreen).Sprint("✓"), fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", color.New(color.FgYellow).Sprint("!"), fmt.Sprintf(format, args...))
}
