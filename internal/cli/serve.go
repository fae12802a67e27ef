package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/scheduler"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled sync",
		Long: `Start the HTTP adapter over the local store. When a remote is
configured and sync is enabled, the sync scheduler runs a full cycle
once the store is open and then every sync.interval.

The server answers /health with 503 until the database is open.
SIGINT or SIGTERM shuts down gracefully: in-flight requests and the
in-flight sync cycle are allowed to finish.

Examples:
  stockline serve
  stockline serve --addr 127.0.0.1:9090 --config stockline.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 15*time.Second, "grace period for in-flight requests")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "initialise", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverOpts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithLogger(a.logger.Named("http")),
	}

	var sched *scheduler.Scheduler
	if cfg.Remote.Kind != config.RemoteNone {
		if err := a.connectRemote(ctx); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeRemote, "connect remote", err)
		}
		sy := a.syncer()
		serverOpts = append(serverOpts, api.WithSyncer(sy))
		if cfg.Sync.Enabled {
			sched = scheduler.New(a.store, sy,
				scheduler.WithInterval(cfg.Sync.Interval),
				scheduler.WithTables(cfg.Sync.Tables...),
				scheduler.WithLogger(a.logger.Named("scheduler")))
			serverOpts = append(serverOpts, api.WithScheduler(sched))
		}
	}

	srv := api.New(a.store, serverOpts...)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(cfg.HTTP.Addr)
	}()

	// Start arms the scheduler; its first cycle waits for the store.
	if sched != nil {
		sched.Start(ctx)
		defer sched.Stop()
	}

	if err := a.openStore(ctx); err != nil {
		shutdown(srv, opts.ShutdownTimeout, a.logger)
		return formatter.Fail(ExitCommandError, ErrCodeStore, "open database", err)
	}
	a.logger.Info("stockline ready",
		zap.String("database", cfg.Database),
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("remote", cfg.Remote.Kind),
		zap.Bool("scheduled_sync", sched != nil))

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "http server", err)
		}
		return nil
	}

	shutdown(srv, opts.ShutdownTimeout, a.logger)
	return nil
}

func shutdown(srv *api.Server, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
