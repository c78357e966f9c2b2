// Package transport implements paxos.Net over UDP and over an in-process
// simulated network with fault injection.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cs.umass.edu/griyakv/internal/paxos"
)

// pendingTable matches responses to outstanding requests by envelope id.
type pendingTable struct {
	mu    sync.Mutex
	calls map[uuid.UUID]chan paxos.Response

	discarded atomic.Uint64
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uuid.UUID]chan paxos.Response)}
}

// register opens a slot for id. The returned channel receives at most one
// response.
func (t *pendingTable) register(id uuid.UUID) <-chan paxos.Response {
	ch := make(chan paxos.Response, 1)
	t.mu.Lock()
	t.calls[id] = ch
	t.mu.Unlock()
	return ch
}

// fulfill delivers resp to the call waiting on id. Responses for unknown ids
// (duplicates, or replies that arrived after the timeout) are dropped.
func (t *pendingTable) fulfill(id uuid.UUID, resp paxos.Response) bool {
	t.mu.Lock()
	ch, ok := t.calls[id]
	delete(t.calls, id)
	t.mu.Unlock()
	if !ok {
		t.discarded.Add(1)
		return false
	}
	ch <- resp
	return true
}

func (t *pendingTable) cancel(id uuid.UUID) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// wait blocks until the response for id arrives, the timeout expires or ctx
// is done. The slot is always released.
func (t *pendingTable) wait(ctx context.Context, id uuid.UUID, ch <-chan paxos.Response, timeout time.Duration) (paxos.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		t.cancel(id)
		return nil, paxos.ErrTimeout
	case <-ctx.Done():
		t.cancel(id)
		return nil, ctx.Err()
	}
}
