package main

import "cs.umass.edu/griyakv/internal/paxos"

// KeyURI binds the :key path parameter.
type KeyURI struct {
	Key string `uri:"key" binding:"required"`
}

// ValueResponse is returned by the proposer for a write or a read.
type ValueResponse struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Ballot uint64 `json:"ballot"`
	// Own is set on writes when the stored value is the one sent by the client.
	Own bool `json:"own"`
}

// AcceptorStateResponse exposes the acceptor state of one key.
type AcceptorStateResponse struct {
	Key      string               `json:"key"`
	Promised uint64               `json:"promised"`
	Accepted paxos.VersionedValue `json:"accepted"`
}
