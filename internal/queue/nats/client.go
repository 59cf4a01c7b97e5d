// Package nats provides the NATS JetStream queue implementation
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"go.pushgate.dev/internal/common/metrics"
	"go.pushgate.dev/internal/queue"
)

// Client provides poll/commit access to a JetStream stream through a durable
// pull consumer. One Client is shared by all listener workers.
type Client struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg *queue.NATSConfig

	// The pull subscription is created on first Poll because the ack wait
	// (lease) is a consumer-level setting in JetStream, not a per-fetch one.
	subMu sync.Mutex
	sub   *nats.Subscription
}

// NewClient connects to the NATS server and ensures the stream exists
func NewClient(cfg *queue.NATSConfig) (*Client, error) {
	if cfg.Stream == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("nats: stream and subject are required")
	}
	if cfg.Durable == "" {
		cfg.Durable = "pushgate-listener"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("pushgate-listener"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	c := &Client{nc: nc, js: js, cfg: cfg}

	if err := c.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	log.Info().
		Str("url", cfg.URL).
		Str("stream", cfg.Stream).
		Str("subject", cfg.Subject).
		Msg("NATS queue client connected")

	return c, nil
}

// ensureStream creates the stream if it does not exist yet
func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(c.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", c.cfg.Stream, err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Subject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.cfg.Stream, err)
	}

	log.Info().Str("stream", c.cfg.Stream).Msg("Created JetStream stream")
	return nil
}

// subscription returns the durable pull subscription, creating it on first
// use with the given lease as the consumer ack wait.
func (c *Client) subscription(lease time.Duration) (*nats.Subscription, error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.sub != nil {
		return c.sub, nil
	}

	sub, err := c.js.PullSubscribe(c.cfg.Subject, c.cfg.Durable,
		nats.AckWait(lease),
		nats.MaxAckPending(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer: %w", err)
	}

	c.sub = sub
	return sub, nil
}

// Poll fetches up to max messages. A fetch that times out with no messages
// is an empty poll, not an error. The lease passed on the first Poll becomes
// the consumer's ack wait for its lifetime.
func (c *Client) Poll(ctx context.Context, max int, lease, wait time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		return nil, nil
	}

	sub, err := c.subscription(lease)
	if err != nil {
		metrics.QueuePollErrors.WithLabelValues("nats").Inc()
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msgs, err := sub.Fetch(max, nats.Context(fetchCtx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		metrics.QueuePollErrors.WithLabelValues("nats").Inc()
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	out := make([]queue.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, &Message{msg: msg, messageID: messageID(msg)})
	}

	metrics.QueueMessagesPolled.WithLabelValues("nats").Add(float64(len(out)))
	return out, nil
}

// Commit acks the given messages with the stream
func (c *Client) Commit(ctx context.Context, msgs []queue.Message) error {
	for _, raw := range msgs {
		m, ok := raw.(*Message)
		if !ok {
			return fmt.Errorf("nats: commit of foreign message type %T", raw)
		}
		if err := m.msg.AckSync(nats.Context(ctx)); err != nil {
			metrics.QueueCommitErrors.WithLabelValues("nats").Inc()
			return fmt.Errorf("failed to ack message %s: %w", m.messageID, err)
		}
	}
	return nil
}

// HealthCheck verifies the NATS connection is alive
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats: not connected")
	}
	return nil
}

// Close closes the connection. The durable consumer is deliberately left on
// the server (unsubscribing a durable pull subscription deletes it) so
// ack-pending state survives a restart.
func (c *Client) Close() error {
	c.subMu.Lock()
	c.sub = nil
	c.subMu.Unlock()

	c.nc.Close()
	return nil
}

// messageID derives a stable ID from the JetStream delivery metadata
func messageID(msg *nats.Msg) string {
	md, err := msg.Metadata()
	if err != nil {
		return msg.Reply
	}
	return fmt.Sprintf("%s:%d", md.Stream, md.Sequence.Stream)
}

// Message wraps a fetched JetStream message
type Message struct {
	msg       *nats.Msg
	messageID string
}

// ID returns the stream-sequence derived message ID
func (m *Message) ID() string {
	return m.messageID
}

// Data returns the message payload
func (m *Message) Data() []byte {
	return m.msg.Data
}
