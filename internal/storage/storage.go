// Package storage provides implementations of paxos.Storage.
package storage

import (
	"sync"

	"cs.umass.edu/griyakv/internal/paxos"
)

var (
	_ paxos.Storage = (*Memory)(nil)
	_ paxos.Storage = (*Bolt)(nil)
)

// record is the acceptor state of a single key.
type record struct {
	Promised uint64               `json:"promised"`
	Accepted paxos.VersionedValue `json:"accepted"`
}

// promise applies a Prepare to r.
func (r *record) promise(ballot uint64) bool {
	if ballot <= r.Promised {
		return false
	}
	r.Promised = ballot
	return true
}

// accept applies an Accept to r. The accepted value never moves backwards,
// and a ballot that already holds a payload cannot be given another one.
func (r *record) accept(value paxos.VersionedValue) bool {
	if value.Ballot < r.Promised || value.Ballot < r.Accepted.Ballot {
		return false
	}
	if value.Ballot == r.Accepted.Ballot && r.Accepted.HasPayload() && !value.Equal(r.Accepted) {
		return false
	}
	r.Promised = value.Ballot
	r.Accepted = value
	return true
}

// KeyLocks hands out one mutex per key and forgets it once nobody holds it.
// The zero value is ready to use.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (l *KeyLocks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
