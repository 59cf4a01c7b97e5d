// Package provider implements the push-gateway notification handler
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"go.pushgate.dev/internal/common/metrics"
	"go.pushgate.dev/internal/listener"
	"go.pushgate.dev/internal/queue"
)

// Config configures the push-gateway handler factory
type Config struct {
	// GatewayURL is the base URL of the push gateway
	GatewayURL string

	// Timeout for gateway requests
	Timeout time.Duration

	// RatePerSecond limits sends per application (0 disables limiting)
	RatePerSecond float64
	// RateBurst is the limiter burst size
	RateBurst int

	// CircuitBreaker settings
	CircuitBreakerEnabled     bool
	CircuitBreakerRequests    uint32        // Max requests allowed half-open
	CircuitBreakerInterval    time.Duration // Stats window
	CircuitBreakerRatio       float64       // Failure ratio to trip
	CircuitBreakerTimeout     time.Duration // Time in open state before half-open
	CircuitBreakerMinRequests uint32        // Min requests before evaluating ratio
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Timeout:                   30 * time.Second,
		RatePerSecond:             0,
		RateBurst:                 100,
		CircuitBreakerEnabled:     true,
		CircuitBreakerRequests:    10,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerRatio:       0.5,
		CircuitBreakerTimeout:     5 * time.Second,
		CircuitBreakerMinRequests: 10,
	}
}

// Factory constructs per-application gateway handlers
type Factory struct {
	cfg *Config
}

// NewFactory creates a handler factory for the configured gateway
func NewFactory(cfg *Config) (*Factory, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.GatewayURL == "" {
		return nil, errors.New("provider: gateway URL is required")
	}
	return &Factory{cfg: cfg}, nil
}

// Create builds the handler for one application. The application ID must be
// a UUID; anything else means the destination context cannot be resolved.
func (f *Factory) Create(ctx context.Context, applicationID string) (listener.Handler, error) {
	if _, err := uuid.Parse(applicationID); err != nil {
		return nil, fmt.Errorf("unresolvable application id %q: %w", applicationID, err)
	}

	// Each handler owns its transport so releasing it tears down exactly
	// its own connections.
	client := &http.Client{
		Timeout: f.cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	h := &Handler{
		applicationID: applicationID,
		sendURL:       fmt.Sprintf("%s/v1/apps/%s/notifications", f.cfg.GatewayURL, applicationID),
		pruneURL:      fmt.Sprintf("%s/v1/apps/%s/devices/prune", f.cfg.GatewayURL, applicationID),
		client:        client,
	}

	if f.cfg.RatePerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(f.cfg.RatePerSecond), f.cfg.RateBurst)
	}

	if f.cfg.CircuitBreakerEnabled {
		h.breaker = newBreaker(applicationID, f.cfg)
	}

	log.Info().
		Str("applicationId", applicationID).
		Str("gateway", f.cfg.GatewayURL).
		Msg("Created push gateway handler")

	return h, nil
}

func newBreaker(applicationID string, cfg *Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        applicationID,
		MaxRequests: cfg.CircuitBreakerRequests,
		Interval:    cfg.CircuitBreakerInterval,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.CircuitBreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.CircuitBreakerRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info().
				Str("applicationId", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")

			var stateValue float64
			switch to {
			case gobreaker.StateClosed:
				stateValue = float64(metrics.CircuitBreakerClosed)
			case gobreaker.StateOpen:
				stateValue = float64(metrics.CircuitBreakerOpen)
				metrics.ProviderCircuitBreakerTrips.WithLabelValues(name).Inc()
			case gobreaker.StateHalfOpen:
				stateValue = float64(metrics.CircuitBreakerHalfOpen)
			}
			metrics.ProviderCircuitBreakerState.WithLabelValues(name).Set(stateValue)
		},
	})
}

// Handler delivers notification batches for one application through the
// push gateway.
type Handler struct {
	applicationID string
	sendURL       string
	pruneURL      string
	client        *http.Client
	breaker       *gobreaker.CircuitBreaker
	limiter       *rate.Limiter
}

// batchEntry is one notification in a gateway send request
type batchEntry struct {
	MessageID string          `json:"messageId"`
	Body      json.RawMessage `json:"body"`
}

// SendBatch posts the group's messages to the gateway in one request
func (h *Handler) SendBatch(ctx context.Context, msgs []queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if h.limiter != nil {
		if err := h.limiter.WaitN(ctx, len(msgs)); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	entries := make([]batchEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, batchEntry{
			MessageID: m.ID(),
			Body:      json.RawMessage(m.Data()),
		})
	}

	payload, err := json.Marshal(map[string]interface{}{"messages": entries})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	return h.execute(ctx, "send", h.sendURL, payload)
}

// RunMaintenance asks the gateway to prune devices that have been
// unreachable for a long time.
func (h *Handler) RunMaintenance(ctx context.Context) error {
	return h.execute(ctx, "maintenance", h.pruneURL, []byte("{}"))
}

// Release closes the handler's idle gateway connections
func (h *Handler) Release() error {
	h.client.CloseIdleConnections()
	log.Debug().Str("applicationId", h.applicationID).Msg("Released push gateway handler")
	return nil
}

// execute posts the payload, through the circuit breaker when enabled
func (h *Handler) execute(ctx context.Context, operation, url string, payload []byte) error {
	if h.breaker == nil {
		return h.post(ctx, operation, url, payload)
	}

	_, err := h.breaker.Execute(func() (interface{}, error) {
		return nil, h.post(ctx, operation, url, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("gateway circuit open for %s: %w", h.applicationID, err)
	}
	return err
}

// post performs a single gateway request
func (h *Handler) post(ctx context.Context, operation, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	metrics.ProviderHTTPDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderHTTPRequests.WithLabelValues("error", operation).Inc()
		return fmt.Errorf("gateway %s: %w", operation, err)
	}
	defer resp.Body.Close()

	metrics.ProviderHTTPRequests.WithLabelValues(strconv.Itoa(resp.StatusCode), operation).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("gateway %s returned %d: %s", operation, resp.StatusCode, string(body))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
