package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"documerge/internal"
	"documerge/internal/config"
	"documerge/internal/handlers"
	"documerge/internal/logger"
	"documerge/internal/observability"
	"documerge/internal/repository"
	"documerge/internal/secrets"
	"documerge/internal/services"
	"documerge/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "documerge",
		Short: "DocuMerge Pro API server",
		Long: `DocuMerge Pro maps Google Docs placeholders to Airtable fields and
renders one PDF per record.

Running without a subcommand starts the HTTP server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to a YAML config file (defaults to $CONFIG_PATH)")
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(templatesCmd())
	root.AddCommand(generationsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(_ context.Context, _ *config.Config, _ *gorm.DB, _ *zap.Logger) error {
				return nil
			})
		},
	}
}

// loadConfig reads the config named by --config and builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, log, nil
}

// withDB opens and migrates the database for the duration of fn.
func withDB(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) error) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := internal.OpenDB(cfg.Database, log)
	if err != nil {
		return err
	}
	defer internal.CloseDB(db)

	if err := internal.Migrate(db, log); err != nil {
		return err
	}
	return fn(cmd.Context(), cfg, db, log)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, cfg.Server.Environment, version, log)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := internal.OpenDB(cfg.Database, log)
	if err != nil {
		return err
	}
	defer internal.CloseDB(db)
	if err := internal.Migrate(db, log); err != nil {
		return err
	}

	sealer, err := secrets.NewSealer(cfg.Security.CredentialsKey)
	if err != nil {
		return err
	}
	templateRepo := repository.NewTemplateRepository(db, sealer)
	generationRepo := repository.NewGenerationRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	airtableOpts := []services.AirtableOption{
		services.WithMaxPages(cfg.Airtable.MaxPages),
		services.WithHTTPTimeout(cfg.Airtable.Timeout),
	}
	if cfg.Redis.Addr != "" {
		cache, err := services.NewRedisFieldCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Airtable.FieldCacheTTL, log)
		if err != nil {
			log.Warn("redis unavailable, field cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer cache.Close()
			airtableOpts = append(airtableOpts, services.WithFieldCache(cache))
		}
	}
	airtable := services.NewAirtableClient(cfg.Airtable.BaseURL, log, airtableOpts...)

	docs, err := services.NewGoogleDocsClient(ctx, cfg.Google.ExportBaseURL, cfg.Google.CredentialsPath, cfg.Google.Timeout, log)
	if err != nil {
		return err
	}
	pdf, err := services.NewPDFService(cfg.Gotenberg.URL, cfg.Gotenberg.Timeout, cfg.Gotenberg.Retries, log)
	if err != nil {
		return err
	}

	store, cleanup, err := openArtifactStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	if cleanup != nil {
		cleanup.Start(ctx)
		defer cleanup.Stop()
	}

	renderer := services.NewRenderer(docs, pdf, store, log)
	mappingService := services.NewMappingService(airtable, docs, services.NewRequestGuard(), cfg.Mapping.NormalizeNames, log)
	templateService := services.NewTemplateService(templateRepo, airtable, mappingService, log)
	generationService := services.NewGenerationService(generationRepo, templateRepo, airtable, renderer, log)
	activityLog := services.NewActivityLogService(activityRepo, log)
	defer activityLog.Flush()

	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "documerge"
	}
	router := handlers.NewRouter(handlers.RouterConfig{
		Templates:      handlers.NewTemplateHandler(templateService),
		Mappings:       handlers.NewMappingHandler(mappingService, templateService),
		DataSource:     handlers.NewDataSourceHandler(airtable, templateService),
		Documents:      handlers.NewDocumentHandler(docs),
		Generations:    handlers.NewGenerationHandler(generationService),
		Artifacts:      handlers.NewArtifactHandler(store),
		Logs:           handlers.NewLogsHandler(activityLog),
		Health:         handlers.NewHealthHandler(db, version),
		ActivityLog:    activityLog,
		AllowOrigins:   cfg.Server.AllowOrigins,
		TracingEnabled: cfg.Tracing.Enabled,
		ServiceName:    serviceName,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Server.Environment),
			zap.String("storage", cfg.Storage.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exited")
	return nil
}

// openArtifactStore picks the PDF store. The local backend also gets a
// cleanup worker for expired files.
func openArtifactStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.ArtifactStore, *storage.CleanupWorker, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "gcs":
		store, err := storage.NewGCSStore(ctx, cfg.GCS.BucketName, cfg.GCS.CredentialsPath, cfg.GCS.SignedURLExpiry, log)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		baseURL := strings.TrimRight(cfg.Server.BaseURL, "/") + "/api/v1/artifacts"
		store, err := storage.NewLocalStore(cfg.Storage.LocalDir, baseURL)
		if err != nil {
			return nil, nil, err
		}
		worker := storage.NewCleanupWorker(store.Dir(), cfg.Storage.MaxAge, cfg.Storage.CleanupInterval, log)
		return store, worker, nil
	}
}
