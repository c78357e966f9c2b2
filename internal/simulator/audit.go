package simulator

import (
	"fmt"
	"sync"

	"cs.umass.edu/griyakv/internal/paxos"
	"cs.umass.edu/griyakv/internal/storage"
)

// auditedStore wraps an acceptor's storage and records every transition that
// moves a promised ballot or an accepted value backwards. Each operation is
// checked under its key's lock only, so keys still proceed in parallel.
type auditedStore struct {
	name  string
	inner paxos.Storage
	locks storage.KeyLocks

	mu         sync.Mutex
	violations []string
}

func newAuditedStore(name string, inner paxos.Storage) *auditedStore {
	return &auditedStore{name: name, inner: inner}
}

func (a *auditedStore) Get(key []byte) (uint64, paxos.VersionedValue, error) {
	return a.inner.Get(key)
}

func (a *auditedStore) Promise(key []byte, ballot uint64) (bool, paxos.VersionedValue, error) {
	unlock := a.locks.Lock(string(key))
	defer unlock()
	p0, v0, err := a.inner.Get(key)
	if err != nil {
		return false, paxos.VersionedValue{}, err
	}
	ok, current, err := a.inner.Promise(key, ballot)
	if err != nil {
		return ok, current, err
	}
	p1, v1, err := a.inner.Get(key)
	if err != nil {
		return ok, current, err
	}
	a.check(key, p0, v0, p1, v1)
	if ok && p1 != ballot {
		a.report("%q: promise %d succeeded but promised is %d", key, ballot, p1)
	}
	if !ok && (p1 != p0 || !v1.Equal(v0)) {
		a.report("%q: rejected promise %d changed state", key, ballot)
	}
	if !current.Equal(v0) {
		a.report("%q: promise reported %v while holding %v", key, current, v0)
	}
	return ok, current, nil
}

func (a *auditedStore) Accept(key []byte, value paxos.VersionedValue) (bool, paxos.VersionedValue, error) {
	unlock := a.locks.Lock(string(key))
	defer unlock()
	p0, v0, err := a.inner.Get(key)
	if err != nil {
		return false, paxos.VersionedValue{}, err
	}
	ok, current, err := a.inner.Accept(key, value)
	if err != nil {
		return ok, current, err
	}
	p1, v1, err := a.inner.Get(key)
	if err != nil {
		return ok, current, err
	}
	a.check(key, p0, v0, p1, v1)
	if ok && !v1.Equal(value) {
		a.report("%q: accept of %v succeeded but holds %v", key, value, v1)
	}
	if !ok && (p1 != p0 || !v1.Equal(v0)) {
		a.report("%q: rejected accept of %v changed state", key, value)
	}
	return ok, current, nil
}

func (a *auditedStore) check(key []byte, p0 uint64, v0 paxos.VersionedValue, p1 uint64, v1 paxos.VersionedValue) {
	if p1 < p0 {
		a.report("%q: promised ballot fell from %d to %d", key, p0, p1)
	}
	if v1.Ballot < v0.Ballot {
		a.report("%q: accepted ballot fell from %d to %d", key, v0.Ballot, v1.Ballot)
	}
}

func (a *auditedStore) report(format string, args ...any) {
	a.mu.Lock()
	a.violations = append(a.violations, a.name+": "+fmt.Sprintf(format, args...))
	a.mu.Unlock()
}

func (a *auditedStore) Violations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.violations...)
}
