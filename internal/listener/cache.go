package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.pushgate.dev/internal/common/metrics"
)

// DefaultIdleTTL is how long an unaccessed handler stays cached.
const DefaultIdleTTL = 10 * time.Minute

// HandlerCache is a shared, keyed cache of per-application handlers.
//
// Misses construct the handler through the factory exactly once per key:
// concurrent callers for the same key wait on the in-flight construction and
// observe its result. Entries unaccessed for the idle window are evicted
// lazily on later cache operations, and the evicted handler is released
// exactly once. Construction failures are not stored, so the next cycle
// retries from scratch.
type HandlerCache struct {
	factory HandlerFactory
	idleTTL time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready chan struct{} // closed when construction settles

	// Written once by the constructing goroutine before ready is closed.
	handler Handler
	err     error

	// Guarded by the cache mutex.
	done       bool
	lastAccess time.Time
}

// NewHandlerCache creates a handler cache. An idleTTL of zero disables
// expiry entirely.
func NewHandlerCache(factory HandlerFactory, idleTTL time.Duration) *HandlerCache {
	return &HandlerCache{
		factory: factory,
		idleTTL: idleTTL,
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the cached handler for the application, constructing it if
// needed. Callers must not retain the handler beyond the current dispatch.
func (c *HandlerCache) Get(ctx context.Context, applicationID string) (Handler, error) {
	now := time.Now()

	c.mu.Lock()
	c.evictExpiredLocked(now)

	if e, ok := c.entries[applicationID]; ok {
		e.lastAccess = now
		c.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.handler, nil
	}

	// Miss: claim the key before constructing so racing callers coalesce
	// onto this entry instead of constructing a second handler.
	e := &cacheEntry{ready: make(chan struct{}), lastAccess: now}
	c.entries[applicationID] = e
	metrics.HandlerCacheSize.Set(float64(len(c.entries)))
	c.mu.Unlock()

	handler, err := construct(ctx, c.factory, applicationID)

	c.mu.Lock()
	e.done = true
	if err != nil {
		// Withhold the entry so a later cycle retries construction.
		e.err = err
		delete(c.entries, applicationID)
	} else {
		e.handler = handler
		e.lastAccess = time.Now()
	}
	metrics.HandlerCacheSize.Set(float64(len(c.entries)))
	c.mu.Unlock()
	close(e.ready)

	if err != nil {
		metrics.HandlerCacheConstructions.WithLabelValues("failed").Inc()
		log.Error().Err(err).
			Str("applicationId", applicationID).
			Msg("Failed to construct handler")
		return nil, err
	}

	metrics.HandlerCacheConstructions.WithLabelValues("success").Inc()
	log.Info().Str("applicationId", applicationID).Msg("Constructed handler")
	return handler, nil
}

// Values returns a snapshot of the live handlers. The snapshot is safe to
// iterate while the cache keeps mutating, and taking it does not refresh
// entry access times.
func (c *HandlerCache) Values() []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked(time.Now())

	out := make([]Handler, 0, len(c.entries))
	for _, e := range c.entries {
		if e.done && e.err == nil {
			out = append(out, e.handler)
		}
	}
	return out
}

// Len returns the number of cache entries, including in-flight constructions
func (c *HandlerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictExpiredLocked removes entries past the idle window and releases their
// handlers. Removal under the mutex guarantees a single eviction per entry,
// and releasing after removal guarantees no new references are handed out.
func (c *HandlerCache) evictExpiredLocked(now time.Time) {
	if c.idleTTL <= 0 {
		return
	}

	for key, e := range c.entries {
		if !e.done || e.err != nil {
			continue
		}
		if now.Sub(e.lastAccess) < c.idleTTL {
			continue
		}

		delete(c.entries, key)
		metrics.HandlerCacheEvictions.Inc()
		log.Info().Str("applicationId", key).Msg("Evicting idle handler")
		go releaseHandler(key, e.handler)
	}
	metrics.HandlerCacheSize.Set(float64(len(c.entries)))
}

// construct invokes the factory, converting panics into errors. A panic that
// escaped here would leave the claimed entry unready forever, blocking every
// later Get for the key; as an error it takes the normal failure branch and
// the key stays retryable.
func construct(ctx context.Context, f HandlerFactory, applicationID string) (h Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("handler construction panicked: %v", r)
		}
	}()
	return f.Create(ctx, applicationID)
}

// releaseHandler releases an evicted handler, swallowing errors and panics
func releaseHandler(applicationID string, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("applicationId", applicationID).
				Msg("Handler release panicked")
		}
	}()

	if err := h.Release(); err != nil {
		log.Error().Err(err).
			Str("applicationId", applicationID).
			Msg("Failed to release evicted handler")
	}
}
