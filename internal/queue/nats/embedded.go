package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog/log"
)

// EmbeddedConfig holds settings for the in-process development broker
type EmbeddedConfig struct {
	Port     int
	StoreDir string
}

// StartEmbedded runs an in-process NATS server with JetStream enabled.
// Intended for local development so the listener can run without external
// infrastructure. Returns the server and its client URL.
func StartEmbedded(cfg *EmbeddedConfig) (*server.Server, string, error) {
	opts := &server.Options{
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, "", fmt.Errorf("embedded NATS server did not become ready")
	}

	log.Info().Str("url", ns.ClientURL()).Msg("Embedded NATS server started")
	return ns, ns.ClientURL(), nil
}
