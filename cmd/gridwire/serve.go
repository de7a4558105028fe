package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gridwire/gridwire/pkg/server"
	"github.com/gridwire/gridwire/pkg/store"
)

func serveCmd() *cobra.Command {
	var (
		addr         string
		worldWidth   uint32
		worldHeight  uint32
		maxSessions  int
		resumeWindow time.Duration
		idleTimeout  time.Duration
		allowOrigins bool
		s3Bucket     string
		s3Key        string
		logJSON      bool
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gridwire server",
		Long: `Run the gridwire server.

The server exposes three endpoints:

  /ws       WebSocket endpoint for game sessions
  /healthz  Liveness probe
  /metrics  Prometheus metrics

Examples:
  gridwire serve
  gridwire serve --addr=:9000 --world-width=40 --world-height=30
  gridwire serve --s3-bucket=my-worlds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logJSON, logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			cfg := server.DefaultServerConfig().
				WithAddress(addr).
				WithWorldSize(worldWidth, worldHeight).
				WithMaxSessions(maxSessions).
				WithResumeWindow(resumeWindow)
			cfg.SessionConfig.IdleTimeout = idleTimeout
			if allowOrigins {
				cfg.CheckOrigin = func(r *http.Request) bool { return true }
			}

			if s3Bucket != "" {
				awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
				if err != nil {
					return fmt.Errorf("load AWS config: %w", err)
				}
				cfg = cfg.WithSnapshotStore(
					store.NewS3Store(s3.NewFromConfig(awsCfg), s3Bucket, s3Key))
				logger.Info("world persistence enabled",
					"bucket", s3Bucket, "key", s3Key)
			}

			return runServe(cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().Uint32Var(&worldWidth, "world-width", 20, "Grid width in cells")
	cmd.Flags().Uint32Var(&worldHeight, "world-height", 20, "Grid height in cells")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "Maximum concurrent sessions (0 = unlimited)")
	cmd.Flags().DurationVar(&resumeWindow, "resume-window", 2*time.Minute, "How long a dropped session stays resumable")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 5*time.Minute, "Close sessions idle longer than this")
	cmd.Flags().BoolVar(&allowOrigins, "allow-any-origin", false, "Disable the same-origin check (development only)")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket for world snapshots (empty = no persistence)")
	cmd.Flags().StringVar(&s3Key, "s3-key", store.DefaultS3Key, "S3 object key for the world snapshot")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runServe(cfg *server.ServerConfig, logger *slog.Logger) error {
	srv := server.New(cfg)

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/ws", srv.HandleWebSocket)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv.SetHandler(mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-errCh
}

func newLogger(jsonFormat bool, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}
