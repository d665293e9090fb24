package main

import (
	"context"
	"errors"
	"lite-rpc/internal/hello"
	"lite-rpc/middleware"
	"lite-rpc/server"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func serveCmd(a *app) *cobra.Command {
	var listen, debug string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the hello service",
		Long: `Serve HelloService in its default and v2 versions.

The wire name "hello" carries three overloads: hello(string),
hello(hello.Person) and hello([]byte). The last one always fails
with an I/O error.

With etcd endpoints configured, the server publishes its address
and removes it again on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			if debug != "" {
				a.cfg.Server.Debug = debug
			}
			return runServe(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides the configuration)")
	cmd.Flags().StringVar(&debug, "debug", "", "Debug HTTP address for /debug/rpc and /metrics")

	return cmd
}

func runServe(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	defer logger.Sync()

	opts := []server.Option{
		server.WithCodecType(cfg.CodecType()),
		server.WithLogger(logger),
		server.WithWorkers(cfg.Server.Workers),
		server.WithQueueSize(cfg.Server.QueueSize),
		server.WithMaxFrameSize(cfg.Server.MaxFrameSize),
		server.WithWeight(cfg.Server.Weight),
	}
	reg, err := a.registry()
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, cfg.Server.Advertise, cfg.Etcd.TTL))
	}

	svr := server.NewServer(opts...)
	svr.Use(middleware.TracingMiddleware(nil, trace.SpanKindServer))
	svr.Use(middleware.LoggingMiddleware(logger))
	svr.Use(middleware.NewMetrics(nil, "literpc").Middleware())
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if d := cfg.Server.RequestTimeout.Std(); d > 0 {
		svr.Use(middleware.TimeOutMiddleware(d))
	}
	if err := hello.Register(svr); err != nil {
		return err
	}

	var debugSrv *http.Server
	if cfg.Server.Debug != "" {
		debugSrv = &http.Server{Addr: cfg.Server.Debug, Handler: svr.DebugHandler()}
		go func() {
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("debug server", zap.Error(err))
			}
		}()
		logger.Info("debug endpoint", zap.String("addr", cfg.Server.Debug))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", cfg.Server.Listen) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	err = svr.Shutdown(cfg.Server.ShutdownTimeout.Std())
	if debugSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		debugSrv.Shutdown(shutdownCtx)
	}
	if serveErr := <-served; serveErr != nil && err == nil {
		err = serveErr
	}
	return err
}
