// Package main runs the coordinator, which owns the partition map of the
// cluster.
//
// Nodes register with the coordinator on startup. Every membership or health
// change rebalances the 4096 partitions over the live nodes and pushes the
// new table to each of them; clients fetch the same table from
// GET /partitions to route their requests.
//
// Configuration comes from an optional file (--config) and TORUA_COORDINATOR_*
// environment variables:
//
//	TORUA_COORDINATOR_LISTEN=:8080 \
//	TORUA_COORDINATOR_REPLICAS=2 \
//	TORUA_COORDINATOR_HEALTH_INTERVAL=5s \
//	./coordinator
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/config"
	"github.com/dreamware/torua-kv/internal/coordinator"
	"github.com/dreamware/torua-kv/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func newCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "coordinator",
		Short:        "Serve the partition map of a torua-kv cluster",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCoordinator(configFile)
			if err != nil {
				return err
			}
			logger := logging.Configure(os.Stderr, cfg.Log.Format, cfg.Log.Level)
			defer func() { _ = logger.Sync() }()

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, ln, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file (json, yaml or toml)")
	return cmd
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// run serves the coordinator API on ln until ctx is done
func run(ctx context.Context, ln net.Listener, cfg *config.Coordinator, logger *zap.Logger) error {
	srv := coordinator.NewServer(cfg.Replicas, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.HealthInterval > 0 {
		go srv.Monitor(ctx, cfg.HealthInterval, coordinator.HTTPCheck)
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening",
			zap.String("addr", ln.Addr().String()),
			zap.Int("replicas", cfg.Replicas))
		errc <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("coordinator stopped")
	return nil
}
