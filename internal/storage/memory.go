package storage

import (
	"sync"

	"cs.umass.edu/griyakv/internal/paxos"
)

// Memory keeps acceptor state in process memory. State is lost on restart.
type Memory struct {
	locks KeyLocks

	mu   sync.RWMutex
	keys map[string]record
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]record)}
}

func (m *Memory) load(key string) record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[key]
}

func (m *Memory) store(key string, r record) {
	m.mu.Lock()
	m.keys[key] = r
	m.mu.Unlock()
}

func (m *Memory) Get(key []byte) (uint64, paxos.VersionedValue, error) {
	r := m.load(string(key))
	return r.Promised, r.Accepted, nil
}

func (m *Memory) Promise(key []byte, ballot uint64) (bool, paxos.VersionedValue, error) {
	k := string(key)
	unlock := m.locks.Lock(k)
	defer unlock()

	r := m.load(k)
	ok := r.promise(ballot)
	if ok {
		m.store(k, r)
	}
	return ok, r.Accepted, nil
}

func (m *Memory) Accept(key []byte, value paxos.VersionedValue) (bool, paxos.VersionedValue, error) {
	k := string(key)
	unlock := m.locks.Lock(k)
	defer unlock()

	r := m.load(k)
	ok := r.accept(value)
	if ok {
		m.store(k, r)
	}
	return ok, r.Accepted, nil
}

// Len returns the number of keys with any state.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}
