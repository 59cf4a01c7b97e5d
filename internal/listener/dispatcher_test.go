package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pushgate.dev/internal/queue"
)

func ids(msgs []queue.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID()
	}
	return out
}

func TestDispatchGroupsByApplicationAndCommitsAll(t *testing.T) {
	factory := newFakeFactory()
	cache := NewHandlerCache(factory, time.Minute)
	d := NewDispatcher(cache)

	batch := []queue.Message{
		msg("m1", `{"applicationId":"app-a"}`),
		msg("m2", `{"applicationId":"app-b"}`),
		msg("m3", `{"applicationId":"app-a"}`),
		msg("m4", `{"applicationId":"app-a"}`),
		msg("m5", `{"applicationId":"app-b"}`),
	}

	committable := d.Dispatch(context.Background(), batch)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3", "m4", "m5"}, ids(committable))

	// Each handler got exactly its own group, in polled order.
	sendsA := factory.handler("app-a").sentBatches()
	require.Len(t, sendsA, 1)
	assert.Equal(t, []string{"m1", "m3", "m4"}, ids(sendsA[0]))

	sendsB := factory.handler("app-b").sentBatches()
	require.Len(t, sendsB, 1)
	assert.Equal(t, []string{"m2", "m5"}, ids(sendsB[0]))
}

func TestDispatchFailedGroupExcludedOthersCommit(t *testing.T) {
	factory := newFakeFactory()
	factory.configure = func(h *fakeHandler) {
		h.sendErr = errors.New("gateway 503")
	}
	cache := NewHandlerCache(factory, time.Minute)
	d := NewDispatcher(cache)

	// Pre-build a healthy handler for app-a, then make new ones fail.
	_, err := cache.Get(context.Background(), "app-a")
	require.NoError(t, err)
	factory.handler("app-a").sendErr = nil

	batch := []queue.Message{
		msg("m1", `{"applicationId":"app-a"}`),
		msg("m2", `{"applicationId":"app-a"}`),
		msg("m3", `{"applicationId":"app-a"}`),
		msg("m4", `{"applicationId":"app-b"}`),
		msg("m5", `{"applicationId":"app-b"}`),
	}

	committable := d.Dispatch(context.Background(), batch)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids(committable),
		"only the healthy group's messages commit; the failed group stays leased")
}

func TestDispatchPanickingGroupIsContained(t *testing.T) {
	factory := newFakeFactory()
	cache := NewHandlerCache(factory, time.Minute)
	d := NewDispatcher(cache)

	_, err := cache.Get(context.Background(), "app-bad")
	require.NoError(t, err)
	factory.handler("app-bad").sendPanic = true

	batch := []queue.Message{
		msg("m1", `{"applicationId":"app-bad"}`),
		msg("m2", `{"applicationId":"app-ok"}`),
	}

	committable := d.Dispatch(context.Background(), batch)
	assert.Equal(t, []string{"m2"}, ids(committable))
}

func TestDispatchCommitsMalformedMessages(t *testing.T) {
	factory := newFakeFactory()
	cache := NewHandlerCache(factory, time.Minute)
	d := NewDispatcher(cache)

	batch := []queue.Message{
		msg("m1", `not json at all`),
		msg("m2", `{"notificationId":"n-1"}`), // missing applicationId
		msg("m3", `{"applicationId":"app-a"}`),
	}

	committable := d.Dispatch(context.Background(), batch)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids(committable),
		"poison messages are committed so they do not redeliver forever")

	sends := factory.handler("app-a").sentBatches()
	require.Len(t, sends, 1)
	assert.Equal(t, []string{"m3"}, ids(sends[0]), "poison messages never reach a handler")
}

func TestDispatchDropsGroupWhenHandlerUnavailable(t *testing.T) {
	factory := newFakeFactory()
	factory.createErr = errors.New("unresolvable application id")
	cache := NewHandlerCache(factory, time.Minute)
	d := NewDispatcher(cache)

	batch := []queue.Message{
		msg("m1", `{"applicationId":"app-a"}`),
		msg("m2", `{"applicationId":"app-a"}`),
	}

	committable := d.Dispatch(context.Background(), batch)
	assert.Empty(t, committable)
}

func TestDispatchWaitsForSlowestGroup(t *testing.T) {
	factory := newFakeFactory()
	cache := NewHandlerCache(factory, time.Minute)
	d := NewDispatcher(cache)

	_, err := cache.Get(context.Background(), "app-slow")
	require.NoError(t, err)
	factory.handler("app-slow").sendDelay = 150 * time.Millisecond

	batch := []queue.Message{
		msg("m1", `{"applicationId":"app-slow"}`),
		msg("m2", `{"applicationId":"app-fast"}`),
	}

	start := time.Now()
	committable := d.Dispatch(context.Background(), batch)
	elapsed := time.Since(start)

	assert.ElementsMatch(t, []string{"m1", "m2"}, ids(committable))
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond,
		"no message may be reported committable before every group settles")
}
