package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/playhtml/playroom/pkg/admin"
	"github.com/playhtml/playroom/pkg/bridge"
	"github.com/playhtml/playroom/pkg/events"
	"github.com/playhtml/playroom/pkg/lease"
	"github.com/playhtml/playroom/pkg/log"
	"github.com/playhtml/playroom/pkg/metrics"
	"github.com/playhtml/playroom/pkg/room"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/playhtml/playroom/pkg/syncserver"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room coordinator HTTP/WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging(cmd)
		logger := log.WithComponent("serve")

		addr, _ := cmd.Flags().GetString("addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		adminToken, _ := cmd.Flags().GetString("admin-token")
		remoteBase, _ := cmd.Flags().GetString("remote-bridge-url")

		if v := os.Getenv("PERSIST_URL"); v != "" {
			dataDir = v
		}
		if v := os.Getenv("PERSIST_KEY"); v != "" {
			dataDir = dataDir + "-" + v
		}
		if v := os.Getenv("ADMIN_TOKEN"); v != "" {
			adminToken = v
		}
		if adminToken == "" {
			logger.Warn().Msg("ADMIN_TOKEN not set: admin control plane is unauthenticated")
		}

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		var remote bridge.Party
		if remoteBase != "" {
			remote = bridge.NewHTTPParty(remoteBase)
		}

		broker := events.NewBroker()
		leaseManager := lease.NewManager(store, 0, 0, broker)
		registry := room.NewRegistry(store, leaseManager, remote, broker)

		router := chi.NewRouter()
		router.Use(middleware.RequestID)
		router.Use(middleware.Recoverer)

		syncserver.NewServer(registry).Routes(router)
		room.NewBridgeServer(registry).Routes(router)
		admin.NewServer(registry, adminToken).Routes(router)
		router.Handle("/metrics", metrics.Handler())

		srv := &http.Server{
			Addr:    addr,
			Handler: router,
		}

		go func() {
			logger.Info().Str("addr", addr).Str("data_dir", dataDir).Msg("playroomd listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("server failed")
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error during HTTP shutdown")
		}
		registry.Shutdown(shutdownCtx)
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("data-dir", "./data", "Directory for the bbolt persistence file")
	serveCmd.Flags().String("admin-token", "", "Bearer token required by the admin control plane (env ADMIN_TOKEN)")
	serveCmd.Flags().String("remote-bridge-url", "", "Base URL of a peer coordinator for rooms not hosted locally (multi-instance deployments)")
}
