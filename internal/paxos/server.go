package paxos

import (
	"context"
	"fmt"
	"log"
)

// Storage holds the acceptor state of every key. Implementations serialize
// operations on the same key and never block operations on other keys.
type Storage interface {
	// Get returns the promised ballot and the accepted value of key.
	Get(key []byte) (promised uint64, accepted VersionedValue, err error)

	// Promise raises the promised ballot of key to ballot if ballot is
	// strictly greater, and reports whether it did. accepted is the value
	// held at the time of the decision.
	Promise(key []byte, ballot uint64) (ok bool, accepted VersionedValue, err error)

	// Accept stores value if value.Ballot is not below the promised ballot,
	// raising the promise to match. On rejection accepted is the value that
	// blocked it and nothing changes.
	Accept(key []byte, value VersionedValue) (ok bool, accepted VersionedValue, err error)
}

// Server is the acceptor role.
type Server struct {
	name  string
	store Storage
}

func NewServer(name string, store Storage) *Server {
	return &Server{name: name, store: store}
}

// Handle answers a single request. An error is returned only when storage
// fails; the caller must then send nothing back.
func (s *Server) Handle(_ context.Context, req Request) (Response, error) {
	switch r := req.(type) {
	case Prepare:
		ok, current, err := s.store.Promise(r.Key, r.Ballot)
		if err != nil {
			return nil, fmt.Errorf("acceptor %s: prepare %q: %w", s.name, r.Key, err)
		}
		if !ok {
			log.Printf("griyakv:: acceptor %s rejected prepare %q at ballot %d", s.name, r.Key, r.Ballot)
		}
		return Promise{Success: ok, Current: current}, nil

	case Accept:
		ok, current, err := s.store.Accept(r.Key, r.Value)
		if err != nil {
			return nil, fmt.Errorf("acceptor %s: accept %q: %w", s.name, r.Key, err)
		}
		if !ok {
			log.Printf("griyakv:: acceptor %s rejected accept %q %v, holding %v", s.name, r.Key, r.Value, current)
			return Accepted{Current: current}, nil
		}
		return Accepted{OK: true}, nil

	case Ping:
		return Pong{}, nil
	}
	return nil, fmt.Errorf("acceptor %s: unsupported request %T", s.name, req)
}
