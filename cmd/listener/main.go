// PushGate Listener
//
// Drains notification batches from a queue and dispatches them to the push
// gateway, one handler per application. Exposes health, metrics, status,
// and warning endpoints on the management port.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.pushgate.dev/internal/common/health"
	"go.pushgate.dev/internal/common/lifecycle"
	"go.pushgate.dev/internal/config"
	"go.pushgate.dev/internal/listener"
	"go.pushgate.dev/internal/provider"
	"go.pushgate.dev/internal/queue"
	natsqueue "go.pushgate.dev/internal/queue/nats"
	sqsqueue "go.pushgate.dev/internal/queue/sqs"
	"go.pushgate.dev/internal/standby"
	"go.pushgate.dev/internal/warning"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("PUSHGATE_DEV") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Str("component", "listener").
		Msg("Starting PushGate Listener")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycleMgr := lifecycle.NewManager()
	healthChecker := health.NewChecker()
	warningService := warning.NewInMemoryService()

	// Initialize queue source based on configuration
	var queueSource queue.Queue
	var embeddedServer *natsserver.Server

	switch cfg.Queue.Type {
	case "sqs":
		log.Info().
			Str("region", cfg.Queue.SQS.Region).
			Str("queueURL", cfg.Queue.SQS.QueueURL).
			Msg("Connecting to AWS SQS")

		sqsClient, err := sqsqueue.NewClient(ctx, &queue.SQSConfig{
			QueueURL:        cfg.Queue.SQS.QueueURL,
			Region:          cfg.Queue.SQS.Region,
			CustomEndpoint:  cfg.Queue.SQS.CustomEndpoint,
			AccessKeyID:     cfg.Queue.SQS.AccessKeyID,
			SecretAccessKey: cfg.Queue.SQS.SecretAccessKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create SQS client")
		}
		queueSource = sqsClient

		healthChecker.AddReadinessCheck(health.SQSCheck(sqsClient.HealthCheck))
		lifecycleMgr.RegisterQueueShutdown("sqs-client", func(ctx context.Context) error {
			return sqsClient.Close()
		})

	case "nats", "embedded":
		natsURL := cfg.Queue.NATS.URL
		if cfg.Queue.Type == "embedded" {
			srv, url, err := natsqueue.StartEmbedded(&natsqueue.EmbeddedConfig{})
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			embeddedServer = srv
			natsURL = url
		}

		log.Info().Str("url", natsURL).Msg("Connecting to NATS server")
		natsClient, err := natsqueue.NewClient(&queue.NATSConfig{
			URL:     natsURL,
			Stream:  cfg.Queue.NATS.Stream,
			Subject: cfg.Queue.NATS.Subject,
			Durable: cfg.Queue.NATS.Durable,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS server")
		}
		queueSource = natsClient

		healthChecker.AddReadinessCheck(health.NATSCheck(natsClient.HealthCheck))
		lifecycleMgr.RegisterQueueShutdown("nats-client", func(ctx context.Context) error {
			return natsClient.Close()
		})
		if embeddedServer != nil {
			lifecycleMgr.RegisterHook(lifecycle.ShutdownHook{
				Name:  "embedded-nats",
				Phase: lifecycle.PhaseFinal,
				Shutdown: func(ctx context.Context) error {
					embeddedServer.Shutdown()
					return nil
				},
			})
		}

	default:
		log.Fatal().Str("type", cfg.Queue.Type).Msg("Unknown queue type")
	}

	// Handler factory for the push gateway
	factory, err := provider.NewFactory(cfg.ProviderConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create provider factory")
	}

	svc := listener.New(cfg.ListenerConfig(), queueSource, factory).
		WithWarnings(warningService)

	lifecycleMgr.RegisterWorkerShutdown("listener", func(ctx context.Context) error {
		svc.Stop()
		return nil
	})

	// Standby gating: with standby enabled only the lock holder consumes,
	// the other instances idle until promoted.
	standbyService := standby.NewService(&standby.Config{
		Enabled:         cfg.Standby.Enabled,
		InstanceID:      cfg.Standby.InstanceID,
		RedisAddr:       cfg.Standby.RedisAddr,
		RedisPassword:   cfg.Standby.RedisPassword,
		LockKey:         cfg.Standby.LockKey,
		LockTTL:         cfg.Standby.LockTTL.Duration,
		RefreshInterval: cfg.Standby.RefreshInterval.Duration,
	}, &standby.Callbacks{
		OnBecomePrimary: func() {
			svc.Start()
		},
		OnBecomeStandby: func() {
			svc.Stop()
		},
	})

	if err := standbyService.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start standby service")
	}
	if cfg.Standby.Enabled {
		healthChecker.AddReadinessCheck(health.RedisCheck(standbyService.HealthCheck))
		lifecycleMgr.RegisterLeaderShutdown("standby", func(ctx context.Context) error {
			standbyService.Stop()
			return nil
		})
	} else {
		svc.Start()
	}

	// Management HTTP server
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	r.Get("/listener/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]interface{}{
			"listener": svc.GetStatus(),
			"standby":  standbyService.GetStatus(),
		})
	})

	warning.NewHandler(warningService).RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lifecycleMgr.RegisterHTTPShutdown("management-http", server.Shutdown)

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Block until a signal arrives, then run the staged shutdown
	lifecycleMgr.WaitForSignal()
	if err := lifecycleMgr.Execute(); err != nil {
		log.Error().Err(err).Msg("Shutdown did not complete cleanly")
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
