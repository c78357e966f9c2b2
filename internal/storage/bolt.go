package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"cs.umass.edu/griyakv/internal/paxos"
)

var acceptorBucket = []byte("acceptor")

// Bolt persists acceptor state in a bbolt file so promises and accepted
// values survive a restart.
type Bolt struct {
	db    *bolt.DB
	locks KeyLocks
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(acceptorBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

// bbolt rejects empty keys, so every key is stored with a one byte prefix.
func boltKey(key []byte) []byte {
	return append([]byte{'k'}, key...)
}

func readRecord(tx *bolt.Tx, key []byte) (record, error) {
	var r record
	raw := tx.Bucket(acceptorBucket).Get(boltKey(key))
	if raw == nil {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return r, nil
}

func writeRecord(tx *bolt.Tx, key []byte, r record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return tx.Bucket(acceptorBucket).Put(boltKey(key), raw)
}

func (b *Bolt) Get(key []byte) (uint64, paxos.VersionedValue, error) {
	var r record
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = readRecord(tx, key)
		return err
	})
	return r.Promised, r.Accepted, err
}

// update runs apply on the record of key in a batched write transaction.
// The per-key lock keeps updates of one key in order while updates of
// different keys share commits.
func (b *Bolt) update(key []byte, apply func(*record) bool) (bool, paxos.VersionedValue, error) {
	unlock := b.locks.Lock(string(key))
	defer unlock()

	var (
		ok      bool
		current paxos.VersionedValue
	)
	err := b.db.Batch(func(tx *bolt.Tx) error {
		r, err := readRecord(tx, key)
		if err != nil {
			return err
		}
		ok = apply(&r)
		current = r.Accepted
		if !ok {
			return nil
		}
		return writeRecord(tx, key, r)
	})
	if err != nil {
		return false, paxos.VersionedValue{}, err
	}
	return ok, current, nil
}

func (b *Bolt) Promise(key []byte, ballot uint64) (bool, paxos.VersionedValue, error) {
	return b.update(key, func(r *record) bool { return r.promise(ballot) })
}

func (b *Bolt) Accept(key []byte, value paxos.VersionedValue) (bool, paxos.VersionedValue, error) {
	return b.update(key, func(r *record) bool { return r.accept(value) })
}
