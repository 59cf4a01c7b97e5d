package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.pushgate.dev/internal/queue"
)

// fakeMessage is an in-memory queue.Message
type fakeMessage struct {
	id   string
	data []byte
}

func (m *fakeMessage) ID() string   { return m.id }
func (m *fakeMessage) Data() []byte { return m.data }

func msg(id, body string) queue.Message {
	return &fakeMessage{id: id, data: []byte(body)}
}

// fakeHandler records sends and releases, with configurable failure modes
type fakeHandler struct {
	mu        sync.Mutex
	sends     [][]queue.Message
	sendErr   error
	sendDelay time.Duration
	sendPanic bool

	releases    atomic.Int32
	maintenance atomic.Int32
	maintDone   chan struct{}
}

func (h *fakeHandler) SendBatch(ctx context.Context, msgs []queue.Message) error {
	if h.sendDelay > 0 {
		time.Sleep(h.sendDelay)
	}
	if h.sendPanic {
		panic("send exploded")
	}

	h.mu.Lock()
	h.sends = append(h.sends, msgs)
	h.mu.Unlock()
	return h.sendErr
}

func (h *fakeHandler) RunMaintenance(ctx context.Context) error {
	h.maintenance.Add(1)
	if h.maintDone != nil {
		h.maintDone <- struct{}{}
	}
	return nil
}

func (h *fakeHandler) Release() error {
	h.releases.Add(1)
	return nil
}

func (h *fakeHandler) sentBatches() [][]queue.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]queue.Message, len(h.sends))
	copy(out, h.sends)
	return out
}

// fakeFactory builds fakeHandlers, counting constructions per key
type fakeFactory struct {
	mu       sync.Mutex
	handlers map[string]*fakeHandler
	creates  map[string]int

	createErr    error
	createDelay  time.Duration
	createPanics int // remaining Create calls that panic

	// configure configures each new handler before it is returned
	configure func(h *fakeHandler)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		handlers: make(map[string]*fakeHandler),
		creates:  make(map[string]int),
	}
}

func (f *fakeFactory) Create(ctx context.Context, applicationID string) (Handler, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates[applicationID]++
	if f.createPanics > 0 {
		f.createPanics--
		panic("construct exploded")
	}
	if f.createErr != nil {
		return nil, f.createErr
	}

	h := &fakeHandler{}
	if f.configure != nil {
		f.configure(h)
	}
	f.handlers[applicationID] = h
	return h, nil
}

func (f *fakeFactory) createCount(applicationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[applicationID]
}

func (f *fakeFactory) handler(applicationID string) *fakeHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[applicationID]
}

// fakeQueue serves scripted batches and records commits
type fakeQueue struct {
	mu      sync.Mutex
	batches [][]queue.Message
	polls   int
	commits [][]queue.Message

	pollErr   error
	commitErr error
}

func (q *fakeQueue) Poll(ctx context.Context, max int, lease, wait time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.polls++
	if q.pollErr != nil {
		return nil, q.pollErr
	}
	if len(q.batches) == 0 {
		return nil, nil
	}

	batch := q.batches[0]
	q.batches = q.batches[1:]
	return batch, nil
}

func (q *fakeQueue) Commit(ctx context.Context, msgs []queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.commitErr != nil {
		return q.commitErr
	}
	q.commits = append(q.commits, msgs)
	return nil
}

func (q *fakeQueue) committed() [][]queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]queue.Message, len(q.commits))
	copy(out, q.commits)
	return out
}

func (q *fakeQueue) pollCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.polls
}

// committedIDs flattens commit calls into a set of message IDs
func committedIDs(q *fakeQueue) map[string]bool {
	ids := make(map[string]bool)
	for _, batch := range q.committed() {
		for _, m := range batch {
			ids[m.ID()] = true
		}
	}
	return ids
}
