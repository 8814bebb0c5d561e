package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/haclabs/haccare/internal/config"
	"github.com/haclabs/haccare/internal/domain/patient"
	"github.com/haclabs/haccare/internal/domain/simulation"
	"github.com/haclabs/haccare/internal/platform/auth"
	"github.com/haclabs/haccare/internal/platform/db"
	"github.com/haclabs/haccare/internal/platform/middleware"
	"github.com/haclabs/haccare/internal/platform/schema"
	"github.com/haclabs/haccare/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "haccare-server",
		Short: "hacCare simulation snapshot and restore server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(snapshotCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the simulation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaName, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = migrationsDirFor(cfg, schemaName)
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			if err := migrator.EnsureSchema(ctx, schemaName); err != nil {
				return err
			}
			fmt.Printf("Running migrations on schema: %s\n", schemaName)

			count, err := migrator.Up(ctx, schemaName)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "shared", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults from config)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaName, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = migrationsDirFor(cfg, schemaName)
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schemaName)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schemaName)
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
	statusCmd.Flags().String("schema", "shared", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults from config)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// migrationsDirFor picks the configured migrations directory matching the
// target schema: control tables live in shared, clinical tables everywhere
// else.
func migrationsDirFor(cfg *config.Config, schemaName string) string {
	if schemaName == "shared" {
		return cfg.SharedMigrationsDir
	}
	return cfg.MigrationsDir
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and run its migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			mgr := db.NewTenantManager(pool, cfg.MigrationsDir)
			if err := mgr.Create(ctx, name); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)

	dropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop a tenant schema and all its data",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			mgr := db.NewTenantManager(pool, "")
			if err := mgr.Drop(ctx, name); err != nil {
				return err
			}
			fmt.Printf("Dropped tenant schema: %s\n", db.SchemaName(name))
			return nil
		},
	}
	dropCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(dropCmd)

	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with snapshot documents",
	}

	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a tenant's clinical data as a snapshot document on stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			builder := simulation.NewBuilder(pool, schema.NewPG(pool), logger)

			doc, warnings, err := builder.Build(ctx, tenantID, "cli")
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	captureCmd.Flags().String("tenant", "", "Tenant identifier to capture")
	cmd.AddCommand(captureCmd)

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

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	metrics := telemetry.NewProvider("haccare-server")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(metrics.Middleware())
	e.Use(middleware.BodyLimit("1M", "64M"))
	e.Use(middleware.RequestTimeout(30*time.Second, "/api/sim/templates", "/api/sim/active"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Engine wiring. The descriptor is injected uncached; capture and restore
	// each wrap it per call so a fresh launch never sees columns introspected
	// before the tenant's migrations ran.
	desc := schema.NewPG(pool)
	simRepo := simulation.NewRepoPG(pool)
	patientRepo := patient.NewRepoPG(pool)
	tenants := db.NewTenantManager(pool, cfg.MigrationsDir)

	builder := simulation.NewBuilder(pool, desc, logger)
	restorer := simulation.NewRestorer(pool, desc, logger)
	resets := simulation.NewOrchestrator(simRepo, restorer, pool, desc, logger)
	generator := simulation.NewSessionGenerator(patientRepo)

	svc := simulation.NewService(simRepo, builder, restorer, resets, generator,
		tenants, patientRepo, logger).
		WithMetrics(metrics).
		WithDefaultDuration(cfg.SimDurationMinutes)

	// Simulation API
	simGroup := e.Group("/api/sim")
	simGroup.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	simGroup.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	simulation.NewHandler(svc).RegisterRoutes(simGroup)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
