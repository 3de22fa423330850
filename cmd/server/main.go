package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/internal/config"
	"github.com/diewo77/go-pos/internal/db"
	"github.com/diewo77/go-pos/internal/metrics"
	"github.com/diewo77/go-pos/internal/policy"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pos-server",
		Short:         "Point-of-sale API: tabs, sales and cash closings",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP API (default)", RunE: runServe},
		newMigrateCmd(),
		&cobra.Command{Use: "seed", Short: "Seed permissions and role profiles", RunE: runSeed},
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	var sqlOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if sqlOnly {
				if cfg.Database.Driver != config.DriverPostgres {
					return errors.New("--sql needs DB_DRIVER=postgres")
				}
				if err := db.RunSQLMigrations(cfg.Database.URL()); err != nil {
					return fmt.Errorf("sql migrations: %w", err)
				}
				log.Info("sql migrations applied")
				return nil
			}
			conn, err := db.Open(cfg.Database, log)
			if err != nil {
				return err
			}
			if err := db.Migrate(conn); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&sqlOnly, "sql", false, "apply the embedded versioned SQL migrations (postgres)")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	conn, err := db.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	if err := db.Seed(conn); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	log.Info("seeding completed")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	conn, err := prepareDatabase(cfg, log)
	if err != nil {
		return err
	}

	authn, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.TokenTTL, policy.UserVerifier(conn))
	if err != nil {
		return err
	}
	var m *metrics.Metrics
	if cfg.App.Metrics {
		m = metrics.New()
	}
	routerCfg := policy.NewRouterConfig(conn, authn, policy.Options{
		ProfileCacheTTL: cfg.App.ProfileCacheTTL,
		Logger:          log,
		Metrics:         m,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      NewApp(conn, routerCfg, log.Named("http"), cfg.App.CORSOrigins),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.Bool("dev", cfg.App.Dev),
			zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// prepareDatabase connects, applies the schema and seeds reference data.
// MIGRATIONS=1 on PostgreSQL uses the versioned SQL migrations instead of
// AutoMigrate.
func prepareDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.App.Migrations && cfg.Database.Driver == config.DriverPostgres {
		if err := db.RunSQLMigrations(cfg.Database.URL()); err != nil {
			return nil, fmt.Errorf("sql migrations: %w", err)
		}
		log.Info("sql migrations applied")
	}
	conn, err := db.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if !cfg.App.Migrations || cfg.Database.Driver != config.DriverPostgres {
		if err := db.Migrate(conn); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	if err := db.Seed(conn); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return conn, nil
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg.Log.Level, cfg.App.Dev)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// newLogger builds a console logger in dev mode and a JSON one otherwise.
func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if dev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl
	return zcfg.Build()
}
