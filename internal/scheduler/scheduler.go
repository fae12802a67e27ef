// Package scheduler decides when sync cycles run: once when the store
// becomes ready and then on a fixed interval until stopped.
package scheduler

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/syncer"
)

// DefaultInterval is the time between periodic cycles.
const DefaultInterval = 10 * time.Minute

// Scheduler runs full sync cycles over a fixed table list.
//
// The loop runs cycles one at a time in its own goroutine, so ticks that fire
// while a cycle is running are dropped rather than stacked. Manual RunOnce
// calls share in-flight table syncs through the Syncer.
type Scheduler struct {
	store    *store.Store
	syncer   *syncer.Syncer
	interval time.Duration
	tables   []string
	logger   *zap.Logger

	mu       sync.Mutex
	started  bool
	launched bool
	cancel   context.CancelFunc
	done     chan struct{}
	last     map[string]syncer.Result
	lastRun  time.Time
	cycles   int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the periodic interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTables sets the tables synced each cycle, in order.
func WithTables(tables ...string) Option {
	return func(s *Scheduler) {
		s.tables = slices.Clone(tables)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a Scheduler. It does nothing until Start.
func New(st *store.Store, sy *syncer.Syncer, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		syncer:   sy,
		interval: DefaultInterval,
		tables:   slices.Clone(schema.SyncTables),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the scheduler. The first cycle runs as soon as the store is
// ready (immediately if it already is). Start is a no-op after the first call.
//
// Cancelling ctx stops the loop like Stop does.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.store.OnReady(func() {
		s.mu.Lock()
		s.launched = true
		s.mu.Unlock()
		go s.loop(loopCtx)
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("sync scheduler starting",
		zap.Duration("interval", s.interval),
		zap.Strings("tables", s.tables))

	// Cycles are not cancelled by Stop; the loop only exits between cycles.
	cycleCtx := context.WithoutCancel(ctx)

	s.RunOnce(cycleCtx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(cycleCtx)
		}
	}
}

// Stop tears the timer down and waits for an in-flight cycle to finish.
// Stop before Start, or before the store became ready, returns at once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done, launched := s.cancel, s.done, s.launched
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if launched {
		<-done
	}
}

// RunOnce runs one cycle across the configured tables and records its results.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]syncer.Result {
	results := s.syncer.SyncAll(ctx, s.tables)

	s.mu.Lock()
	s.last = results
	s.lastRun = time.Now()
	s.cycles++
	s.mu.Unlock()

	if failed := syncer.Failed(results); len(failed) > 0 {
		s.logger.Warn("sync cycle finished with failures",
			zap.Strings("failed", failed),
			zap.Int("tables", len(results)))
	} else {
		s.logger.Debug("sync cycle finished", zap.Int("tables", len(results)))
	}
	return results
}

// LastResults returns the results of the most recent cycle, or nil before
// the first one.
func (s *Scheduler) LastResults() map[string]syncer.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return maps.Clone(s.last)
}

// LastRun returns when the most recent cycle finished.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Cycles returns how many cycles have completed.
func (s *Scheduler) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// Tables returns the synced tables in order.
func (s *Scheduler) Tables() []string {
	return slices.Clone(s.tables)
}
