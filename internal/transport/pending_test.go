package transport

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cs.umass.edu/griyakv/internal/paxos"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestFirstResponseWins(t *testing.T) {
	p := newPendingTable()
	id := uuid.New()
	ch := p.register(id)

	assert.True(t, p.fulfill(id, paxos.Promise{Success: true}))
	assert.False(t, p.fulfill(id, paxos.Promise{Success: false}), "duplicate is dropped")
	assert.Equal(t, uint64(1), p.discarded.Load())

	resp, err := p.wait(context.Background(), id, ch, time.Second)
	require.NoError(t, err)
	assert.Equal(t, paxos.Promise{Success: true}, resp)
	assert.Zero(t, p.len())
}

func TestUnknownResponseIsDropped(t *testing.T) {
	p := newPendingTable()
	assert.False(t, p.fulfill(uuid.New(), paxos.Pong{}))
	assert.Equal(t, uint64(1), p.discarded.Load())
}

func TestTimeoutEvictsEntry(t *testing.T) {
	p := newPendingTable()
	id := uuid.New()
	ch := p.register(id)

	_, err := p.wait(context.Background(), id, ch, 5*time.Millisecond)
	assert.ErrorIs(t, err, paxos.ErrTimeout)
	assert.Zero(t, p.len())
	assert.False(t, p.fulfill(id, paxos.Pong{}), "late reply is stale")
}

func TestCancelledContextEvictsEntry(t *testing.T) {
	p := newPendingTable()
	id := uuid.New()
	ch := p.register(id)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.wait(ctx, id, ch, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.len())
}

func TestConcurrentFulfillDeliversOnce(t *testing.T) {
	p := newPendingTable()
	ids := make([]uuid.UUID, 50)
	chans := make([]<-chan paxos.Response, len(ids))
	for i := range ids {
		ids[i] = uuid.New()
		chans[i] = p.register(ids[i])
	}

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	for copyNo := 0; copyNo < 4; copyNo++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				if p.fulfill(id, paxos.Pong{}) {
					delivered.Add(1)
				}
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(len(ids)), delivered.Load())
	assert.Equal(t, uint64(3*len(ids)), p.discarded.Load())
	for i, ch := range chans {
		resp, err := p.wait(context.Background(), ids[i], ch, time.Second)
		require.NoError(t, err)
		assert.Equal(t, paxos.Pong{}, resp)
	}
}
