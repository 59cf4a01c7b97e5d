package listener

import (
	"context"

	"go.pushgate.dev/internal/queue"
)

// Handler delivers notification batches for exactly one application.
//
// Handlers own live downstream resources (provider connections) and are
// expensive to construct, so they are cached per application and reused
// across batches from all workers. The HandlerCache is the only component
// allowed to hold a Handler beyond a single dispatch call, and it releases
// each handler exactly once on eviction.
type Handler interface {
	// SendBatch delivers one destination group, in polled order. An error
	// fails the whole group; its messages are left uncommitted.
	SendBatch(ctx context.Context, msgs []queue.Message) error

	// RunMaintenance performs periodic upkeep, e.g. pruning devices that
	// have been unreachable for a long time.
	RunMaintenance(ctx context.Context) error

	// Release tears down the handler's resources. Called once, after the
	// cache has stopped handing out references to this instance.
	Release() error
}

// HandlerFactory constructs the handler for an application ID. Create fails
// when the application's context cannot be resolved; the cache does not
// retry, the group is simply dropped for the cycle.
type HandlerFactory interface {
	Create(ctx context.Context, applicationID string) (Handler, error)
}
