package paxos

import (
	"bytes"
	"context"
	"log"
	"math/rand"
	"sync"
	"time"
)

// Ballots carry the proposer id in their low idBits bits and a per-key
// counter above them, so two proposers can never pick the same ballot.
const idBits = 16

// ClientConfig tunes a proposer.
type ClientConfig struct {
	// ID must be unique among proposers sharing the acceptors.
	ID uint16
	// Timeout bounds every single request.
	Timeout time.Duration
	// MaxAttempts bounds the number of prepare/accept rounds per call.
	MaxAttempts int
	// BallotStep is the minimum counter increase between two attempts.
	BallotStep uint64
	// RetryBackoff is the mean randomized pause between attempts.
	RetryBackoff time.Duration
	// MaxEnvelope is the largest message the Net can carry. Zero means no
	// limit.
	MaxEnvelope int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      500 * time.Millisecond,
		MaxAttempts:  8,
		BallotStep:   1,
		RetryBackoff: 20 * time.Millisecond,
	}
}

// Decision is the outcome of a successful Propose or Get.
type Decision struct {
	Key    []byte
	Ballot uint64
	Value  []byte
	// Own is true when Value is the value the caller proposed.
	Own bool
}

// Client is the proposer role. It is safe for concurrent use; calls on
// different keys run independently.
type Client struct {
	cfg   ClientConfig
	peers []string
	net   Net

	mu sync.Mutex
	// counter is the highest ballot counter used on any key. Sharing it
	// keeps ballots unique without per-key state.
	counter uint64
	rng     *rand.Rand
}

func NewClient(cfg ClientConfig, peers []string, net Net) *Client {
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BallotStep == 0 {
		cfg.BallotStep = def.BallotStep
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.MaxEnvelope < 0 {
		cfg.MaxEnvelope = 0
	}
	return &Client{
		cfg:   cfg,
		peers: append([]string(nil), peers...),
		net:   net,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(cfg.ID))),
	}
}

// Peers returns the acceptors this client talks to.
func (c *Client) Peers() []string {
	return append([]string(nil), c.peers...)
}

func (c *Client) majority() int {
	return len(c.peers)/2 + 1
}

// Propose tries to make desired the value of key. If another value was
// already accepted it is adopted instead; check Decision.Own. A value whose
// messages cannot fit in MaxEnvelope fails with a *TooLargeError and is never
// sent.
func (c *Client) Propose(ctx context.Context, key, desired []byte) (Decision, error) {
	if limit := c.cfg.MaxEnvelope; limit > 0 {
		if size := EnvelopeSize(key, desired); size > limit {
			return Decision{}, &TooLargeError{Key: key, Size: size, Limit: limit}
		}
	}
	d, _, err := c.agree(ctx, key, desired, true)
	return d, err
}

// Get returns the agreed value of key. Any value visible to a majority is
// committed again before it is returned. found is false when nothing was ever
// accepted for key.
func (c *Client) Get(ctx context.Context, key []byte) (d Decision, found bool, err error) {
	return c.agree(ctx, key, nil, false)
}

func (c *Client) agree(ctx context.Context, key, desired []byte, write bool) (Decision, bool, error) {
	var (
		seen  VersionedValue
		phase string
	)
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Decision{}, false, err
		}
		if attempt > 1 {
			if err := c.backoff(ctx); err != nil {
				return Decision{}, false, err
			}
		}

		ballot := c.nextBallot(seen.Ballot)
		votes, prior := c.prepare(ctx, key, ballot)
		seen = Max(seen, prior)
		if votes < c.majority() {
			phase = "prepare"
			log.Printf("griyakv:: proposer %d: prepare %q ballot %d got %d/%d promises",
				c.cfg.ID, key, ballot, votes, len(c.peers))
			continue
		}

		payload, ok := seen.Payload()
		if !ok {
			if !write {
				return Decision{Key: key, Ballot: ballot}, false, nil
			}
			payload = desired
		}

		proposal := NewVersionedValue(ballot, payload)
		votes, blocking := c.accept(ctx, key, proposal)
		seen = Max(seen, blocking)
		if votes < c.majority() {
			phase = "accept"
			log.Printf("griyakv:: proposer %d: accept %q ballot %d got %d/%d votes",
				c.cfg.ID, key, ballot, votes, len(c.peers))
			continue
		}

		value, _ := proposal.Payload()
		return Decision{
			Key:    key,
			Ballot: ballot,
			Value:  value,
			Own:    write && bytes.Equal(value, desired),
		}, true, nil
	}
	return Decision{}, false, &QuorumError{Key: key, Attempts: c.cfg.MaxAttempts, Phase: phase}
}

// nextBallot returns a ballot above every ballot this client used so far
// and above floor.
func (c *Client) nextBallot(floor uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	counter := c.counter + c.cfg.BallotStep
	if above := floor>>idBits + 1; counter < above {
		counter = above
	}
	c.counter = counter
	return counter<<idBits | uint64(c.cfg.ID)
}

func (c *Client) prepare(ctx context.Context, key []byte, ballot uint64) (int, VersionedValue) {
	var (
		votes   int
		highest VersionedValue
	)
	for _, r := range c.broadcast(ctx, Prepare{Ballot: ballot, Key: key}) {
		if r.err != nil {
			continue
		}
		p, err := AsPromise(r.resp)
		if err != nil {
			log.Printf("griyakv:: proposer %d: %s: %v", c.cfg.ID, r.peer, err)
			continue
		}
		highest = Max(highest, p.Current)
		if p.Success {
			votes++
		}
	}
	return votes, highest
}

func (c *Client) accept(ctx context.Context, key []byte, value VersionedValue) (int, VersionedValue) {
	var (
		votes    int
		blocking VersionedValue
	)
	for _, r := range c.broadcast(ctx, Accept{Key: key, Value: value}) {
		if r.err != nil {
			continue
		}
		a, err := AsAccepted(r.resp)
		if err != nil {
			log.Printf("griyakv:: proposer %d: %s: %v", c.cfg.ID, r.peer, err)
			continue
		}
		if a.OK {
			votes++
			continue
		}
		blocking = Max(blocking, a.Current)
	}
	return votes, blocking
}

// Ping checks that peer answers.
func (c *Client) Ping(ctx context.Context, peer string) error {
	resp, err := c.net.Request(ctx, peer, Ping{}, c.cfg.Timeout)
	if err != nil {
		return err
	}
	return AsPong(resp)
}

// Reachable pings every peer concurrently.
func (c *Client) Reachable(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(c.peers))
	for _, r := range c.broadcast(ctx, Ping{}) {
		out[r.peer] = r.err == nil && AsPong(r.resp) == nil
	}
	return out
}

type reply struct {
	peer string
	resp Response
	err  error
}

// broadcast sends req to every peer at once and waits until each call has
// answered or timed out.
func (c *Client) broadcast(ctx context.Context, req Request) []reply {
	replies := make([]reply, len(c.peers))
	var wg sync.WaitGroup
	for i, peer := range c.peers {
		wg.Add(1)
		go func(i int, peer string) {
			defer wg.Done()
			resp, err := c.net.Request(ctx, peer, req, c.cfg.Timeout)
			replies[i] = reply{peer: peer, resp: resp, err: err}
		}(i, peer)
	}
	wg.Wait()
	return replies
}

func (c *Client) backoff(ctx context.Context) error {
	if c.cfg.RetryBackoff <= 0 {
		return nil
	}
	c.mu.Lock()
	d := c.cfg.RetryBackoff/2 + time.Duration(c.rng.Int63n(int64(c.cfg.RetryBackoff)))
	c.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
