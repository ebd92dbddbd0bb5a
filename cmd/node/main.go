// Package main runs a storage node.
//
// A node holds the partitions the coordinator assigns to it, serves record
// and batch requests for them and forwards writes to the replica nodes of
// each partition. On startup it registers with the coordinator, which then
// pushes the partition table to POST /control. In standalone mode the node
// skips registration and masters every partition itself.
//
// Configuration comes from an optional file (--config) and TORUA_NODE_*
// environment variables:
//
//	TORUA_NODE_ID=node-1 \
//	TORUA_NODE_LISTEN=:8081 \
//	TORUA_NODE_ADDR=http://localhost:8081 \
//	TORUA_NODE_COORDINATOR=http://localhost:8080 \
//	TORUA_NODE_DATA_DIR=/var/lib/torua \
//	./node
//
// Records live in memory unless data_dir is set, in which case every
// partition is a bucket of one bbolt file.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/config"
	"github.com/dreamware/torua-kv/internal/engine"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/node"
	"github.com/dreamware/torua-kv/internal/storage"
)

const (
	shutdownTimeout = 5 * time.Second
	registerTimeout = 30 * time.Second
)

func newCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "node",
		Short:        "Run a torua-kv storage node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadNode(configFile)
			if err != nil {
				return err
			}
			if cfg.ID == "" {
				cfg.ID = "node-" + uuid.NewString()[:8]
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

// run serves the node on ln until ctx is done
func run(ctx context.Context, ln net.Listener, cfg *config.Node, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []node.Option{
		node.WithLogger(logger),
		node.WithTransport(cluster.HTTPTransport{}),
		node.WithEngine(engine.New(engine.WithDefaultTTL(cfg.DefaultTTL))),
		node.WithMetrics(node.NewMetrics(reg)),
	}
	if cfg.Standalone {
		opts = append(opts, node.Standalone())
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
		db, err := storage.OpenBolt(filepath.Join(cfg.DataDir, cfg.ID+".db"))
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, node.WithStores(node.BoltStores(db)))
		logger.Info("persistent storage", zap.String("path", db.Path()))
	}
	n := node.New(cfg.ID, opts...)
	reg.MustRegister(node.NewCollector(n))

	mux := http.NewServeMux()
	mux.Handle("/", n.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("node listening",
			zap.String("node", cfg.ID),
			zap.String("listen", ln.Addr().String()),
			zap.String("addr", cfg.Addr))
		errc <- httpSrv.Serve(ln)
	}()

	if !cfg.Standalone {
		if err := register(ctx, cfg.Coordinator, cluster.NodeInfo{ID: cfg.ID, Addr: cfg.Addr}, logger); err != nil {
			_ = httpSrv.Close()
			return err
		}
	}

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
	logger.Info("node stopped")
	return nil
}

// register announces self to the coordinator, retrying with exponential
// backoff until the coordinator answers or registerTimeout passes
func register(ctx context.Context, coord string, self cluster.NodeInfo, logger *zap.Logger) error {
	body := cluster.RegisterRequest{Node: self}
	url := cluster.BaseURL(coord) + "/register"

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := cluster.PostJSON(ctx, url, body, nil)
		var httpErr *cluster.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(registerTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("register failed, retrying", zap.Error(err), zap.Duration("in", next))
		}))
	if err != nil {
		return err
	}
	logger.Info("registered with coordinator", zap.String("coordinator", coord))
	return nil
}
