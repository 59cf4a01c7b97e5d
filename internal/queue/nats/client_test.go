package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pushgate.dev/internal/queue"
)

func startTestBroker(t *testing.T) string {
	t.Helper()
	ns, url, err := StartEmbedded(&EmbeddedConfig{Port: -1, StoreDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)
	return url
}

func testConfig(url string) *queue.NATSConfig {
	return &queue.NATSConfig{
		URL:     url,
		Stream:  "NOTIFICATIONS",
		Subject: "notifications.>",
		Durable: "listener-test",
	}
}

func TestPollCommitRoundTrip(t *testing.T) {
	url := startTestBroker(t)
	client, err := NewClient(testConfig(url))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.js.Publish("notifications.app", []byte(`{"id":"m1"}`))
	require.NoError(t, err)

	msgs, err := client.Poll(context.Background(), 10, 5*time.Second, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte(`{"id":"m1"}`), msgs[0].Data())

	require.NoError(t, client.Commit(context.Background(), msgs))

	// The work-queue stream discards acked messages, so a second poll is empty.
	msgs, err = client.Poll(context.Background(), 10, 5*time.Second, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCloseKeepsDurableConsumer(t *testing.T) {
	url := startTestBroker(t)
	cfg := testConfig(url)

	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.js.Publish("notifications.app", []byte(`{"id":"m1"}`))
	require.NoError(t, err)

	// First poll creates the durable consumer and leases the message.
	msgs, err := client.Poll(context.Background(), 10, 5*time.Second, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, client.Close())

	// After a restart the server must still know the consumer and its
	// unacked delivery, so the leased message is redelivered on lease
	// expiry rather than lost.
	reconnected, err := NewClient(cfg)
	require.NoError(t, err)
	defer reconnected.Close()

	info, err := reconnected.js.ConsumerInfo(cfg.Stream, cfg.Durable)
	require.NoError(t, err, "durable consumer must survive Close")
	assert.Equal(t, 1, info.NumAckPending)
}
