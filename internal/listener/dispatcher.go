package listener

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"go.pushgate.dev/internal/common/metrics"
	"go.pushgate.dev/internal/queue"
)

// Dispatcher fans a polled batch out to per-application handlers and joins
// the results.
type Dispatcher struct {
	handlers *HandlerCache
}

// NewDispatcher creates a dispatcher backed by the shared handler cache
func NewDispatcher(handlers *HandlerCache) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// group is the subsequence of one batch sharing an application ID, in polled
// order.
type group struct {
	applicationID string
	msgs          []queue.Message
}

// Dispatch partitions the batch by application ID, sends each group through
// its cached handler concurrently, and waits for every send to settle. It
// returns the messages safe to commit: those of groups whose send succeeded,
// plus malformed messages (committed so they do not redeliver forever).
//
// Messages of dropped or failed groups are excluded; they stay leased and
// redeliver once the lease expires. No message is returned for commit while
// any group's send is still in flight.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []queue.Message) []queue.Message {
	committable := make([]queue.Message, 0, len(batch))

	groups := make(map[string]*group)
	for _, msg := range batch {
		env, err := decodeEnvelope(msg)
		if err != nil {
			// Poison message: ack it rather than letting it loop forever.
			log.Warn().Err(err).
				Str("messageId", msg.ID()).
				Msg("Committing undecodable message")
			committable = append(committable, msg)
			continue
		}

		g, ok := groups[env.ApplicationID]
		if !ok {
			g = &group{applicationID: env.ApplicationID}
			groups[env.ApplicationID] = g
		}
		g.msgs = append(g.msgs, msg)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, g := range groups {
		h, err := d.handlers.Get(ctx, g.applicationID)
		if err != nil {
			// Group dropped for this cycle; its messages redeliver after
			// the lease expires.
			metrics.ListenerGroupsDropped.WithLabelValues("handler_unavailable").Inc()
			log.Error().Err(err).
				Str("applicationId", g.applicationID).
				Int("messages", len(g.msgs)).
				Msg("No handler for group, dropping from this cycle")
			continue
		}

		wg.Add(1)
		go func(g *group, h Handler) {
			defer wg.Done()

			if err := sendGroup(ctx, h, g.msgs); err != nil {
				metrics.ListenerGroupsDropped.WithLabelValues("send_failed").Inc()
				log.Error().Err(err).
					Str("applicationId", g.applicationID).
					Int("messages", len(g.msgs)).
					Msg("Group send failed, dropping from this cycle")
				return
			}

			mu.Lock()
			committable = append(committable, g.msgs...)
			mu.Unlock()
		}(g, h)
	}

	wg.Wait()
	return committable
}

// sendGroup invokes the handler's batch send, converting panics into errors
// so one bad group cannot take down the worker.
func sendGroup(ctx context.Context, h Handler, msgs []queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return h.SendBatch(ctx, msgs)
}
