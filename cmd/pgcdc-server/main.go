// Package main provides the pgcdc server executable: the CDC engine plus an
// HTTP API for health, queue monitoring and the expansion demo.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coregx/pgcdc"
	relicaadapter "github.com/coregx/pgcdc/adapters/relica"
	"github.com/coregx/pgcdc/adapters/zaplog"
	"github.com/coregx/pgcdc/cmd/pgcdc-server/internal/api"
	"github.com/coregx/pgcdc/cmd/pgcdc-server/internal/config"
	"github.com/coregx/pgcdc/expand"
	"github.com/coregx/pgcdc/model"
	"github.com/coregx/pgcdc/retry"
)

func main() {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:   "pgcdc-server",
		Short: "Change-data-capture server on PostgreSQL",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath, debug)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	zapLogger, err := buildLogger(debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zaplog.New(zapLogger)

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	zapLogger.Info("database connection established")

	repo := relicaadapter.NewQueueRepository(db, relicaadapter.QueueRepositoryConfig{
		Schema:     cfg.CDC.QueueSchema,
		Table:      cfg.CDC.QueueTable,
		MaxRetries: cfg.CDC.MaxRetries,
		TTL:        cfg.CDC.MessageTTL,
		Backoff:    retry.Strategy{MaxRetries: cfg.CDC.MaxRetries, BaseDelay: time.Minute},
	})

	engine, err := pgcdc.NewEngine(
		pgcdc.WithDSN(cfg.Database.DSN),
		pgcdc.WithDB(db),
		pgcdc.WithQueueRepository(repo),
		pgcdc.WithLogger(logger),
		pgcdc.WithTriggerSchema(cfg.CDC.TriggerSchema),
		pgcdc.WithTriggerPrefix(cfg.CDC.TriggerPrefix),
		pgcdc.WithQueueTable(cfg.CDC.QueueSchema, cfg.CDC.QueueTable),
		pgcdc.WithMaxRetries(cfg.CDC.MaxRetries),
		pgcdc.WithMessageTTL(cfg.CDC.MessageTTL),
		pgcdc.WithCleanupInterval(cfg.CDC.CleanupInterval),
		pgcdc.WithReconcileStrategy(pgcdc.ReconcileStrategy(cfg.CDC.ReconcileStrategy)),
		pgcdc.WithNotifications(pgcdc.NewLoggingNotificationService(logger)),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// Watch config-listed tables with the logging handler so a deployment
	// can be smoke-tested before real handlers exist.
	for _, table := range cfg.CDC.Tables {
		engine.Register(pgcdc.HandlerRegistration{
			Table:   table,
			Handler: loggingHandler(zapLogger, table),
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Stop()

	registry, err := api.DemoRegistry()
	if err != nil {
		return fmt.Errorf("failed to build expansion registry: %w", err)
	}

	server := api.NewServer(engine, registry, expand.ErrorPolicy(cfg.Expansion.ErrorPolicy), zapLogger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Error("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loggingHandler acknowledges every change after logging it.
func loggingHandler(logger *zap.Logger, table string) pgcdc.Handler {
	return pgcdc.HandlerFunc(func(_ context.Context, changes *model.Changes, _ func(ids []int64)) {
		for _, change := range changes.All {
			logger.Info("change captured",
				zap.String("table", table),
				zap.String("event", string(change.Event)),
				zap.Int64("id", change.ID))
		}
	})
}
