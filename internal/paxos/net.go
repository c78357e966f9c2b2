package paxos

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout means no response arrived before the deadline. It says
	// nothing about the state of the remote acceptor.
	ErrTimeout = errors.New("paxos: request timed out")

	// ErrUnreachable means the request could not be delivered at all.
	ErrUnreachable = errors.New("paxos: peer unreachable")
)

// Net sends a request to a peer and waits for the correlated response.
// Implementations must be safe for concurrent use.
type Net interface {
	Request(ctx context.Context, peer string, req Request, timeout time.Duration) (Response, error)
}

// Handler answers requests addressed to this replica. *Server implements it.
type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// NetError reports a failed call to a single peer.
type NetError struct {
	Peer string
	Op   string
	Err  error
}

func (e *NetError) Error() string {
	return fmt.Sprintf("paxos: %s to %s: %v", e.Op, e.Peer, e.Err)
}

func (e *NetError) Unwrap() error { return e.Err }
