// Package queue defines the message queue abstraction the listener consumes from
package queue

import (
	"context"
	"time"
)

// Message is a single leased message retrieved from the queue.
//
// A message stays invisible to other pollers for the lease duration requested
// at poll time. It is removed from the queue only when passed to Commit; an
// uncommitted message becomes visible again once its lease expires.
type Message interface {
	// ID returns the broker-assigned message ID
	ID() string

	// Data returns the raw message payload
	Data() []byte
}

// Queue provides batched poll/commit access to a message queue.
//
// Implementations must be safe for concurrent Poll and Commit calls from
// multiple workers sharing one Queue handle.
type Queue interface {
	// Poll retrieves up to max messages, each leased for the given duration.
	// It waits at most wait for messages to arrive and may return fewer than
	// max, including none.
	Poll(ctx context.Context, max int, lease, wait time.Duration) ([]Message, error)

	// Commit marks the given messages as durably consumed. Messages must have
	// been returned by a Poll call on the same Queue.
	Commit(ctx context.Context, msgs []Message) error
}

// SQSConfig holds AWS SQS queue configuration
type SQSConfig struct {
	QueueURL string
	Region   string

	// CustomEndpoint is used for LocalStack/testing
	CustomEndpoint string
	// AccessKeyID for custom credentials (optional, for testing)
	AccessKeyID string
	// SecretAccessKey for custom credentials (optional, for testing)
	SecretAccessKey string
}

// NATSConfig holds NATS JetStream queue configuration
type NATSConfig struct {
	URL     string
	Stream  string
	Subject string
	Durable string
}
