// Package listener implements the consumption core of the notification
// dispatch pipeline: a pool of workers draining a shared queue, fanning
// batches out to per-application handlers, and committing each batch only
// after every group's send has settled.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.pushgate.dev/internal/queue"
	"go.pushgate.dev/internal/warning"
)

// Config holds listener pool configuration
type Config struct {
	// Enabled controls whether the pool starts at all
	Enabled bool

	// Workers is the number of parallel consumption loops
	Workers int

	// BatchSize is the maximum messages per poll
	BatchSize int

	// LeaseTimeout is the per-message claim duration during processing
	LeaseTimeout time.Duration

	// PollWait is the maximum wait for a single poll call
	PollWait time.Duration

	// SleepWhenEmpty is the delay after an empty poll
	SleepWhenEmpty time.Duration

	// SleepBetweenBatches throttles after a processed non-empty batch
	SleepBetweenBatches time.Duration

	// MaintenanceInterval is the number of non-empty batches between
	// maintenance sweeps of the cached handlers. Zero disables maintenance.
	MaintenanceInterval int

	// BackoffMax caps the failure backoff sleep
	BackoffMax time.Duration

	// HandlerIdleTTL is the idle window before a cached handler is evicted
	HandlerIdleTTL time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		Workers:             2,
		BatchSize:           10,
		LeaseTimeout:        25 * time.Second,
		PollWait:            5 * time.Second,
		SleepWhenEmpty:      5 * time.Second,
		SleepBetweenBatches: 0,
		MaintenanceInterval: 200,
		BackoffMax:          15 * time.Second,
		HandlerIdleTTL:      DefaultIdleTTL,
	}
}

// Listener supervises a fixed pool of consumption loops sharing one queue
// handle and one handler cache.
type Listener struct {
	cfg        *Config
	queue      queue.Queue
	handlers   *HandlerCache
	dispatcher *Dispatcher
	warnings   warning.Service

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a listener over the given queue and handler factory
func New(cfg *Config, q queue.Queue, factory HandlerFactory) *Listener {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	handlers := NewHandlerCache(factory, cfg.HandlerIdleTTL)

	return &Listener{
		cfg:        cfg,
		queue:      q,
		handlers:   handlers,
		dispatcher: NewDispatcher(handlers),
	}
}

// WithWarnings wires an operator warning sink into the pool
func (l *Listener) WithWarnings(svc warning.Service) *Listener {
	l.warnings = svc
	return l
}

// Handlers returns the shared handler cache
func (l *Listener) Handlers() *HandlerCache {
	return l.handlers
}

// Status is a snapshot of the pool for the management API
type Status struct {
	Enabled        bool `json:"enabled"`
	Running        bool `json:"running"`
	Workers        int  `json:"workers"`
	BatchSize      int  `json:"batchSize"`
	CachedHandlers int  `json:"cachedHandlers"`
}

// GetStatus reports whether the pool is running and how many handlers are live
func (l *Listener) GetStatus() Status {
	l.mu.Lock()
	running := l.started
	l.mu.Unlock()

	return Status{
		Enabled:        l.cfg.Enabled,
		Running:        running,
		Workers:        l.cfg.Workers,
		BatchSize:      l.cfg.BatchSize,
		CachedHandlers: l.handlers.Len(),
	}
}

// Start launches the worker pool. A worker whose loop exits via panic is
// logged and not restarted, shrinking the pool in place; siblings keep
// running.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Enabled {
		log.Info().Msg("Listener disabled by configuration, not starting")
		return
	}
	if l.started {
		return
	}
	l.started = true

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	backoff := Backoff{Base: l.cfg.SleepWhenEmpty, Max: l.cfg.BackoffMax}

	for i := 0; i < l.cfg.Workers; i++ {
		w := &worker{
			id:         i,
			queue:      l.queue,
			dispatcher: l.dispatcher,
			handlers:   l.handlers,
			cfg:        l.cfg,
			backoff:    backoff,
			warnings:   l.warnings,
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.recoverWorker(w.id)
			w.run(ctx)
		}()
	}

	log.Info().
		Int("workers", l.cfg.Workers).
		Int("batchSize", l.cfg.BatchSize).
		Dur("leaseTimeout", l.cfg.LeaseTimeout).
		Int("maintenanceInterval", l.cfg.MaintenanceInterval).
		Msg("Listener started")
}

// Stop cancels all workers and waits for them to exit. The handler cache is
// not flushed: in-flight handlers drain through idle expiry, and leased but
// uncommitted messages redeliver after their lease.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	log.Info().Msg("Listener stopped")
}

// recoverWorker logs a worker that died with a panic. The pool deliberately
// does not restart it; the remaining workers keep consuming.
func (l *Listener) recoverWorker(id int) {
	if r := recover(); r != nil {
		log.Error().
			Interface("panic", r).
			Int("worker", id).
			Msg("Worker crashed and will not be restarted")
		if l.warnings != nil {
			l.warnings.AddWarning(warning.CategoryWorker, warning.SeverityCritical,
				fmt.Sprintf("worker %d crashed: %v", id, r), "listener")
		}
	}
}
