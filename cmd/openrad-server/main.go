package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openrad/openrad/internal/config"
	"github.com/openrad/openrad/internal/domain/profile"
	"github.com/openrad/openrad/internal/domain/report"
	"github.com/openrad/openrad/internal/domain/settings"
	"github.com/openrad/openrad/internal/platform/db"
	"github.com/openrad/openrad/internal/platform/localstore"
	"github.com/openrad/openrad/internal/platform/middleware"
	"github.com/openrad/openrad/internal/platform/reportgen"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "openrad-server",
		Short: "Radiology report workflow server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the report API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations against the remote store",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.RemoteConfigured() {
				return fmt.Errorf("DATABASE_URL is not configured; nothing to migrate")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.RemoteConfigured() {
				return fmt.Errorf("DATABASE_URL is not configured")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Device-local store: the report collection, profile, and settings all
	// live here. The server runs fine with nothing else configured.
	store, err := localstore.New(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to open local store")
	}

	profileStore := profile.NewStore(store, logger)
	settingsStore := settings.NewStore(store, logger)
	resolver := settings.NewResolver(settingsStore, cfg.WebhookURL, cfg.DatabaseURL, cfg.DatabaseKey)

	// Remote store is optional. The URL comes from saved settings first, then
	// DATABASE_URL; a missing, malformed, or unreachable value degrades to
	// local-only mode instead of aborting startup.
	ctx := context.Background()
	remoteURL, _ := resolver.Remote()
	var remote report.RemoteStore
	var pool = connectRemote(ctx, remoteURL, cfg, logger)
	if pool != nil {
		defer pool.Close()
		remote = report.NewRemoteRepoPG(pool)
	}

	localRepo := report.NewLocalRepo(store, logger)
	reportSvc := report.NewService(localRepo, remote, profileStore, logger)
	genClient := reportgen.NewClient(resolver, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// Domain handlers
	report.NewHandler(reportSvc, genClient).RegisterRoutes(apiV1)
	profile.NewHandler(profileStore).RegisterRoutes(apiV1)
	settings.NewHandler(settingsStore).RegisterRoutes(apiV1)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("remote", reportSvc.RemoteAvailable()).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// connectRemote attempts to open the remote pool, returning nil (local-only
// mode) on any failure.
func connectRemote(ctx context.Context, remoteURL string, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	if !isPostgresURL(remoteURL) {
		logger.Warn().Msg("remote store not configured, running local-only")
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.NewPool(connectCtx, remoteURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Warn().Err(err).Msg("remote store unreachable, running local-only")
		return nil
	}
	logger.Info().Msg("connected to remote store")
	return pool
}

func isPostgresURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return true
	}
	return false
}
