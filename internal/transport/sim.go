package transport

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cs.umass.edu/griyakv/internal/paxos"
)

// Faults is the fault profile applied to every message of a Sim.
type Faults struct {
	// DropRequest is the probability that a request never reaches its peer.
	DropRequest float64
	// DropResponse is the probability that a reply is lost on the way back.
	DropResponse float64
	// Duplicate is the probability that a reply is delivered twice.
	Duplicate float64
	// DuplicateRequest is the probability that a request reaches its peer a
	// second time. The copy lags the original by up to DuplicateLag, so it
	// can arrive behind later traffic.
	DuplicateRequest float64
	DuplicateLag     time.Duration
	// MinDelay and MaxDelay bound the delay added before delivery.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// SimStats counts what a Sim did to the traffic it carried.
type SimStats struct {
	Requests         uint64
	Rejected         uint64
	DroppedRequests  uint64
	DroppedResponses uint64
	Duplicated       uint64

	// DuplicatedRequests counts requests delivered twice.
	DuplicatedRequests uint64
}

type link struct {
	from, to string
}

// Sim is an in-process network connecting named peers. Each message is run
// through the wire codec and may be dropped, delayed or duplicated according
// to the fault profile. Fault decisions depend only on the seed, the link and
// the number of earlier messages on that link, so a run can be replayed.
type Sim struct {
	seed int64

	mu        sync.Mutex
	handlers  map[string]paxos.Handler
	faults    Faults
	segments  map[string]int
	muted     map[string]bool
	sequences map[link]uint64

	requests         atomic.Uint64
	rejected         atomic.Uint64
	droppedRequests  atomic.Uint64
	droppedResponses atomic.Uint64
	duplicated       atomic.Uint64
	dupRequests      atomic.Uint64
}

func NewSim(seed int64, faults Faults) *Sim {
	return &Sim{
		seed:      seed,
		handlers:  make(map[string]paxos.Handler),
		faults:    faults,
		muted:     make(map[string]bool),
		sequences: make(map[link]uint64),
	}
}

// Register attaches the handler answering requests sent to name.
func (s *Sim) Register(name string, h paxos.Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

func (s *Sim) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

// Partition splits the network. Two peers can talk only while both are in the
// same group; peers not listed are cut off from everyone.
func (s *Sim) Partition(groups ...[]string) {
	segments := make(map[string]int)
	for i, g := range groups {
		for _, name := range g {
			segments[name] = i
		}
	}
	s.mu.Lock()
	s.segments = segments
	s.mu.Unlock()
}

// Heal removes any partition.
func (s *Sim) Heal() {
	s.mu.Lock()
	s.segments = nil
	s.mu.Unlock()
}

// DropResponsesFrom makes every reply sent by peer get lost while on is true.
// Requests still reach the peer and still change its state.
func (s *Sim) DropResponsesFrom(peer string, on bool) {
	s.mu.Lock()
	if on {
		s.muted[peer] = true
	} else {
		delete(s.muted, peer)
	}
	s.mu.Unlock()
}

func (s *Sim) Stats() SimStats {
	return SimStats{
		Requests:         s.requests.Load(),
		Rejected:         s.rejected.Load(),
		DroppedRequests:  s.droppedRequests.Load(),
		DroppedResponses: s.droppedResponses.Load(),
		Duplicated:       s.duplicated.Load(),

		DuplicatedRequests: s.dupRequests.Load(),
	}
}

// Endpoint returns the Net used by the peer called name.
func (s *Sim) Endpoint(name string) paxos.Net {
	return &simEndpoint{sim: s, name: name, pending: newPendingTable()}
}

func (s *Sim) reachable(from, to string) bool {
	if s.segments == nil {
		return true
	}
	a, okA := s.segments[from]
	b, okB := s.segments[to]
	return okA && okB && a == b
}

// messageRand returns the random source deciding the fate of the seq-th
// message on the from->to link.
func (s *Sim) messageRand(from, to string, seq uint64) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(s.seed))
	h.Write(buf[:])
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(to))
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// fate is what happens to a single request/response exchange.
type fate struct {
	dropRequest  bool
	dropResponse bool
	duplicate    bool
	delay        time.Duration

	// copyRequest, when set, delivers the request again copyLag after the
	// original.
	copyRequest bool
	copyLag     time.Duration
}

func (s *Sim) decide(from, to string) (paxos.Handler, fate, bool) {
	s.mu.Lock()
	h, known := s.handlers[to]
	ok := known && s.reachable(from, to)
	l := link{from: from, to: to}
	seq := s.sequences[l]
	s.sequences[l] = seq + 1
	f := s.faults
	muted := s.muted[to]
	s.mu.Unlock()

	rng := s.messageRand(from, to, seq)
	out := fate{
		dropRequest:  rng.Float64() < f.DropRequest,
		dropResponse: rng.Float64() < f.DropResponse,
		duplicate:    rng.Float64() < f.Duplicate,
		delay:        f.MinDelay,
	}
	if f.MaxDelay > f.MinDelay {
		out.delay += time.Duration(rng.Int63n(int64(f.MaxDelay - f.MinDelay)))
	}
	out.copyRequest = rng.Float64() < f.DuplicateRequest
	if out.copyRequest && f.DuplicateLag > 0 {
		out.copyLag = time.Duration(rng.Int63n(int64(f.DuplicateLag)))
	}
	out.dropResponse = out.dropResponse || muted
	return h, out, ok
}

type simEndpoint struct {
	sim     *Sim
	name    string
	pending *pendingTable
}

func (e *simEndpoint) Request(ctx context.Context, peer string, req paxos.Request, timeout time.Duration) (paxos.Response, error) {
	op := req.Kind()
	e.sim.requests.Add(1)
	h, f, ok := e.sim.decide(e.name, peer)
	if !ok {
		e.sim.rejected.Add(1)
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: paxos.ErrUnreachable}
	}

	env := paxos.Envelope{ID: uuid.New(), Message: req}
	data, err := paxos.Marshal(env)
	if err != nil {
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: err}
	}
	ch := e.pending.register(env.ID)
	time.AfterFunc(f.delay, func() { e.deliver(peer, h, data, f) })
	if f.copyRequest {
		e.sim.dupRequests.Add(1)
		// the copy always arrives and is not copied again
		copied := fate{dropResponse: f.dropResponse}
		time.AfterFunc(f.delay+f.copyLag, func() { e.deliver(peer, h, data, copied) })
	}

	resp, err := e.pending.wait(ctx, env.ID, ch, timeout)
	if err != nil {
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: err}
	}
	return resp, nil
}

func (e *simEndpoint) deliver(peer string, h paxos.Handler, data []byte, f fate) {
	if f.dropRequest {
		e.sim.droppedRequests.Add(1)
		return
	}
	env, err := paxos.Unmarshal(data)
	if err != nil {
		log.Println("griyakv:: sim: undecodable request", err)
		return
	}
	req, ok := env.Message.(paxos.Request)
	if !ok {
		log.Printf("griyakv:: sim: %s sent a %s to %s", e.name, env.Message.Kind(), peer)
		return
	}
	resp, err := h.Handle(context.Background(), req)
	if err != nil {
		log.Println("griyakv:: sim:", err)
		return
	}
	if f.dropResponse {
		e.sim.droppedResponses.Add(1)
		return
	}

	out, err := paxos.Marshal(paxos.Envelope{ID: env.ID, Message: resp})
	if err != nil {
		log.Println("griyakv:: sim: undecodable response", err)
		return
	}
	copies := 1
	if f.duplicate {
		copies = 2
		e.sim.duplicated.Add(1)
	}
	for i := 0; i < copies; i++ {
		back, err := paxos.Unmarshal(out)
		if err != nil {
			log.Println("griyakv:: sim:", err)
			return
		}
		if r, ok := back.Message.(paxos.Response); ok {
			e.pending.fulfill(back.ID, r)
		}
	}
}
