package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"go.pushgate.dev/internal/common/metrics"
	"go.pushgate.dev/internal/queue"
	"go.pushgate.dev/internal/warning"
)

// maintenanceTimeout bounds a single handler's maintenance run.
const maintenanceTimeout = 30 * time.Second

// failureWarnStreak is the consecutive-failure count at which a worker
// raises an operator warning.
const failureWarnStreak = 5

// worker is one consumption loop. Each worker owns its failure and run
// counters; only the queue handle and the handler cache are shared.
type worker struct {
	id         int
	queue      queue.Queue
	dispatcher *Dispatcher
	handlers   *HandlerCache
	cfg        *Config
	backoff    Backoff
	warnings   warning.Service

	failures int // consecutive failed iterations
	runCount int // non-empty batches since the last maintenance sweep
}

// run executes the consumption loop until the context is cancelled. Any
// iteration failure backs off and resumes; nothing escapes this boundary.
func (w *worker) run(ctx context.Context) {
	log.Info().Int("worker", w.id).Msg("Listener worker started")
	metrics.ListenerWorkersActive.Inc()
	defer metrics.ListenerWorkersActive.Dec()

	for {
		if ctx.Err() != nil {
			log.Info().Int("worker", w.id).Msg("Listener worker stopped")
			return
		}

		err := w.runOnce(ctx)
		if err == nil {
			w.failures = 0
			continue
		}

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			log.Info().Int("worker", w.id).Msg("Listener worker stopped")
			return
		}

		w.failures++
		delay := w.backoff.Next(w.failures)
		metrics.ListenerBackoffSleeps.Inc()
		log.Error().Err(err).
			Int("worker", w.id).
			Int("consecutiveFailures", w.failures).
			Dur("backoff", delay).
			Msg("Worker iteration failed, backing off")

		if w.warnings != nil && w.failures == failureWarnStreak {
			w.warnings.AddWarning(warning.CategoryWorker, warning.SeverityWarning,
				fmt.Sprintf("worker %d failed %d consecutive iterations: %v", w.id, w.failures, err),
				"listener")
		}

		if sleep(ctx, delay) != nil {
			log.Info().Int("worker", w.id).Msg("Listener worker stopped")
			return
		}
	}
}

// runOnce performs one poll-dispatch-commit cycle. Panics anywhere in the
// cycle surface as iteration errors so the loop can back off and resume.
func (w *worker) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
		}
	}()

	msgs, err := w.queue.Poll(ctx, w.cfg.BatchSize, w.cfg.LeaseTimeout, w.cfg.PollWait)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	if len(msgs) == 0 {
		// An empty queue is not a failure.
		metrics.ListenerEmptyPolls.Inc()
		return sleep(ctx, w.cfg.SleepWhenEmpty)
	}

	start := time.Now()
	committable := w.dispatcher.Dispatch(ctx, msgs)

	if ctx.Err() != nil {
		// Cancelled mid-flight: leave the whole batch to lease expiry.
		return ctx.Err()
	}

	if len(committable) > 0 {
		if err := w.queue.Commit(ctx, committable); err != nil {
			metrics.ListenerBatchesProcessed.WithLabelValues("failed").Inc()
			return fmt.Errorf("commit: %w", err)
		}
	}

	metrics.ListenerDispatchDuration.Observe(time.Since(start).Seconds())
	metrics.ListenerMessagesCommitted.Add(float64(len(committable)))
	metrics.ListenerBatchesProcessed.WithLabelValues("success").Inc()
	log.Info().
		Int("worker", w.id).
		Int("polled", len(msgs)).
		Int("committed", len(committable)).
		Dur("duration", time.Since(start)).
		Msg("Batch processed")

	if w.cfg.SleepBetweenBatches > 0 {
		if err := sleep(ctx, w.cfg.SleepBetweenBatches); err != nil {
			return err
		}
	}

	if w.cfg.MaintenanceInterval > 0 {
		w.runCount++
		if w.runCount >= w.cfg.MaintenanceInterval {
			w.triggerMaintenance()
			w.runCount = 0
		}
	}

	return nil
}

// triggerMaintenance kicks off maintenance on every cached handler without
// waiting for completion. One handler's failure never affects another's.
func (w *worker) triggerMaintenance() {
	handlers := w.handlers.Values()
	metrics.ListenerMaintenanceRuns.Inc()
	log.Info().
		Int("worker", w.id).
		Int("handlers", len(handlers)).
		Msg("Triggering handler maintenance")

	for _, h := range handlers {
		go runMaintenance(h)
	}
}

// runMaintenance runs one handler's maintenance, containing errors and panics
func runMaintenance(h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Handler maintenance panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	if err := h.RunMaintenance(ctx); err != nil {
		log.Error().Err(err).Msg("Handler maintenance failed")
	}
}

// sleep waits for the duration or until the context is cancelled
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
