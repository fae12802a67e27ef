package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/cascade"
	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/logging"
	"github.com/roach88/stockline/internal/metrics"
	"github.com/roach88/stockline/internal/remote"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/syncer"
)

var errNoRemote = errors.New("no remote configured (set remote.kind or STOCKLINE_REMOTE_KIND)")

// app wires the components a command needs from the configuration.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	store   *store.Store
	remote  remote.Endpoint
	closers []func()
}

// newApp builds the logger, metrics and an unopened store. withRuntime adds
// Go runtime collectors to the metrics registry.
func newApp(cfg *config.Config, withRuntime bool) (*app, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	m := metrics.New(withRuntime)
	engine := cascade.NewDefault(
		cascade.WithObserver(m),
		cascade.WithLogger(logger.Named("cascade")))

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   store.New(store.WithEngine(engine), store.WithLogger(logger.Named("store"))),
	}
	a.closers = append(a.closers, func() { _ = logger.Sync() })
	return a, nil
}

// openStore opens the configured database.
func (a *app) openStore(ctx context.Context) error {
	if err := a.store.Open(ctx, a.cfg.Database); err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = a.store.Close() })
	return nil
}

// connectRemote connects the configured endpoint. It returns errNoRemote
// when the remote kind is none.
func (a *app) connectRemote(ctx context.Context) error {
	ep, closeFn, err := newEndpoint(ctx, a.cfg.Remote, a.logger.Named("remote"))
	if err != nil {
		return err
	}
	if ep == nil {
		return errNoRemote
	}
	a.remote = ep
	a.closers = append(a.closers, closeFn)
	return nil
}

// syncer builds a Syncer over the open store and the connected remote.
func (a *app) syncer() *syncer.Syncer {
	return syncer.New(a.store, a.remote,
		syncer.WithLogger(a.logger.Named("sync")),
		syncer.WithRecorder(a.metrics),
		syncer.WithTimeout(a.cfg.Remote.Timeout))
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newEndpoint creates the endpoint for cfg. Kind none yields a nil endpoint.
func newEndpoint(ctx context.Context, cfg config.RemoteConfig, logger *zap.Logger) (remote.Endpoint, func(), error) {
	switch cfg.Kind {
	case config.RemoteMemory:
		return remote.NewMemory(), func() {}, nil
	case config.RemotePostgres:
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		pg, err := remote.NewPostgres(ctx, remote.PostgresConfig{
			URL:      cfg.URL,
			TenantID: cfg.TenantID,
			MaxConns: cfg.MaxConns,
		}, schema.Default(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect remote: %w", err)
		}
		return pg, pg.Close, nil
	default:
		return nil, func() {}, nil
	}
}
