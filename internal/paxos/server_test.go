package paxos_test

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cs.umass.edu/griyakv/internal/paxos"
	"cs.umass.edu/griyakv/internal/storage"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func handle(t *testing.T, s *paxos.Server, req paxos.Request) paxos.Response {
	t.Helper()
	resp, err := s.Handle(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func promise(t *testing.T, s *paxos.Server, key string, ballot uint64) paxos.Promise {
	t.Helper()
	p, err := paxos.AsPromise(handle(t, s, paxos.Prepare{Ballot: ballot, Key: []byte(key)}))
	require.NoError(t, err)
	return p
}

func accept(t *testing.T, s *paxos.Server, key string, v paxos.VersionedValue) paxos.Accepted {
	t.Helper()
	a, err := paxos.AsAccepted(handle(t, s, paxos.Accept{Key: []byte(key), Value: v}))
	require.NoError(t, err)
	return a
}

func TestPrepareNeedsStrictlyHigherBallot(t *testing.T) {
	s := paxos.NewServer("a", storage.NewMemory())

	assert.True(t, promise(t, s, "k", 5).Success)
	assert.False(t, promise(t, s, "k", 5).Success, "equal ballot must not be promised twice")
	assert.False(t, promise(t, s, "k", 4).Success)
	assert.True(t, promise(t, s, "k", 6).Success)
	assert.True(t, promise(t, s, "other", 1).Success, "keys are independent")
}

func TestPromiseReportsAcceptedValue(t *testing.T) {
	s := paxos.NewServer("a", storage.NewMemory())
	v := paxos.NewVersionedValue(5, []byte("v"))
	require.True(t, accept(t, s, "k", v).OK)

	ok := promise(t, s, "k", 9)
	assert.True(t, ok.Success)
	assert.True(t, ok.Current.Equal(v))

	rejected := promise(t, s, "k", 2)
	assert.False(t, rejected.Success)
	assert.True(t, rejected.Current.Equal(v))
}

func TestAcceptAtPromisedBallot(t *testing.T) {
	s := paxos.NewServer("a", storage.NewMemory())
	require.True(t, promise(t, s, "k", 10).Success)

	assert.True(t, accept(t, s, "k", paxos.NewVersionedValue(10, []byte("v"))).OK)
	assert.True(t, accept(t, s, "k", paxos.NewVersionedValue(10, []byte("v"))).OK, "resending the same accept succeeds")

	low := accept(t, s, "k", paxos.NewVersionedValue(9, []byte("w")))
	assert.False(t, low.OK)
	assert.True(t, low.Current.Equal(paxos.NewVersionedValue(10, []byte("v"))))
}

func TestAcceptRaisesPromise(t *testing.T) {
	s := paxos.NewServer("a", storage.NewMemory())
	require.True(t, accept(t, s, "k", paxos.NewVersionedValue(10, []byte("v"))).OK)

	assert.False(t, promise(t, s, "k", 9).Success)
	assert.False(t, promise(t, s, "k", 10).Success)
	assert.True(t, promise(t, s, "k", 11).Success)
}

func TestAcceptNeverReplacesPayloadAtSameBallot(t *testing.T) {
	s := paxos.NewServer("a", storage.NewMemory())
	require.True(t, accept(t, s, "k", paxos.NewVersionedValue(10, []byte("v"))).OK)

	other := accept(t, s, "k", paxos.NewVersionedValue(10, []byte("w")))
	assert.False(t, other.OK)
	payload, _ := other.Current.Payload()
	assert.Equal(t, "v", string(payload))
}

func TestPing(t *testing.T) {
	s := paxos.NewServer("a", storage.NewMemory())
	assert.NoError(t, paxos.AsPong(handle(t, s, paxos.Ping{})))
}

type brokenStorage struct{}

var errDisk = errors.New("disk on fire")

func (brokenStorage) Get([]byte) (uint64, paxos.VersionedValue, error) {
	return 0, paxos.VersionedValue{}, errDisk
}

func (brokenStorage) Promise([]byte, uint64) (bool, paxos.VersionedValue, error) {
	return false, paxos.VersionedValue{}, errDisk
}

func (brokenStorage) Accept([]byte, paxos.VersionedValue) (bool, paxos.VersionedValue, error) {
	return false, paxos.VersionedValue{}, errDisk
}

func TestStorageFailureYieldsNoResponse(t *testing.T) {
	s := paxos.NewServer("a", brokenStorage{})

	resp, err := s.Handle(context.Background(), paxos.Prepare{Ballot: 1, Key: []byte("k")})
	assert.ErrorIs(t, err, errDisk)
	assert.Nil(t, resp)

	resp, err = s.Handle(context.Background(), paxos.Accept{Key: []byte("k"), Value: paxos.Unset(1)})
	assert.ErrorIs(t, err, errDisk)
	assert.Nil(t, resp)

	assert.NoError(t, paxos.AsPong(handle(t, s, paxos.Ping{})))
}
