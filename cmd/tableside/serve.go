// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tableside/tableside/internal/broadcast"
	"github.com/tableside/tableside/internal/character"
	characterpg "github.com/tableside/tableside/internal/character/postgres"
	"github.com/tableside/tableside/internal/config"
	"github.com/tableside/tableside/internal/gamelog"
	"github.com/tableside/tableside/internal/gateway"
	"github.com/tableside/tableside/internal/logging"
	"github.com/tableside/tableside/internal/observability"
	sessionpg "github.com/tableside/tableside/internal/session/postgres"
	"github.com/tableside/tableside/internal/statesync"
	"github.com/tableside/tableside/internal/store"
	"github.com/tableside/tableside/internal/xdg"
	"github.com/tableside/tableside/pkg/errutil"
)

// Default values for serve command flags.
const (
	defaultListenAddr  = "127.0.0.1:8080"
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultLogFormat   = "json"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the companion server",
		Long: `Start the companion server: the websocket gateway, the room and
broadcast API, the character change feed, and the observability endpoints.`,
		RunE: runServe,
	}

	cmd.Flags().String("database-url", "", "PostgreSQL connection URL (default: DATABASE_URL env)")
	cmd.Flags().String("listen-addr", defaultListenAddr, "HTTP listen address")
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().String("room-code-prefix", "", "room code prefix (default: TABLE)")
	cmd.Flags().Duration("debounce-window", statesync.DefaultDebounceWindow, "sync debounce window")
	cmd.Flags().String("local-db-path", "", "device-local sqlite path (unused by serve)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := configFile
	if path == "" {
		path = xdg.DefaultConfigPath()
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.SetDefault("tableside", version, cfg.LogFormat)

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return fmt.Errorf("database URL is required (--database-url or DATABASE_URL)")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pool, err := store.NewPool(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	// Built ahead of the gateway so its counters can be handed to the
	// hub and the API; Start happens after the gateway is listening.
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		broadcast.RegisterMetrics(obsServer.Registry())
	}

	records := characterpg.NewRecordRepository(pool)
	rooms := sessionpg.NewRoomRepository(pool)
	logs := gamelog.NewPostgresRepository(pool)
	service := character.NewService(records)

	bus := broadcast.NewBus()
	dispatcher := broadcast.NewDispatcher(broadcast.DispatcherConfig{
		Bus:     bus,
		Records: service,
		Room:    records,
		Log:     logs,
	})

	feed := store.NewChangeFeed(databaseURL)
	go func() {
		if runErr := feed.Run(ctx); runErr != nil {
			errutil.LogError(slog.Default(), "change feed stopped, triggering shutdown", runErr)
			cancel()
		}
	}()

	hub := gateway.NewHub(bus)
	hub.SetRoomHook(func(hookCtx context.Context, roomID string) {
		broadcast.RunTrackingFeed(hookCtx, bus, feed, roomID)
	})

	apiCfg := gateway.APIConfig{
		Rooms:      rooms,
		Records:    records,
		Log:        logs,
		Dispatcher: dispatcher,
		CodePrefix: cfg.RoomCodePrefix,
	}
	if obsServer != nil {
		hub.SetMetrics(obsServer.Metrics())
		apiCfg.Metrics = obsServer.Metrics()
	}
	api := gateway.NewAPI(apiCfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewHandler(hub))
	api.Register(mux)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	defer func() {
		if closeErr := listener.Close(); closeErr != nil {
			slog.Debug("error closing listener", "error", closeErr)
		}
	}()

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- serveErr
		}
	}()

	slog.Info("gateway listening", "addr", listener.Addr().String())

	// Start observability server if configured
	if obsServer != nil {
		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			return fmt.Errorf("failed to start observability server: %w", obsErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Tableside server started")

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping HTTP server", "error", err)
	}

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors monitors a server's error channel and cancels the
// context on error so a failed server takes the process down gracefully.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			errutil.LogError(slog.Default().With("server", serverName),
				"server error, triggering shutdown", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
