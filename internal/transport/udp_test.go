package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cs.umass.edu/griyakv/internal/paxos"
	"cs.umass.edu/griyakv/internal/storage"
)

func listenAcceptor(t *testing.T) *UDP {
	t.Helper()
	u, err := ListenUDP("127.0.0.1:0", paxos.NewServer("test", storage.NewMemory()))
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return u
}

// deadAddress returns an address nobody listens on.
func deadAddress(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func TestUDPRoundTrip(t *testing.T) {
	acceptor := listenAcceptor(t)
	client, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Request(context.Background(), acceptor.Addr(), paxos.Ping{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, paxos.Pong{}, resp)

	resp, err = client.Request(context.Background(), acceptor.Addr(), paxos.Prepare{Ballot: 3, Key: []byte("k")}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, paxos.Promise{Success: true}, resp)
	assert.Zero(t, client.pending.len())
}

func TestUDPTimeout(t *testing.T) {
	client, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Request(context.Background(), deadAddress(t), paxos.Ping{}, 20*time.Millisecond)
	require.Error(t, err)
	var netErr *paxos.NetError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "ping", netErr.Op)
	assert.Zero(t, client.pending.len())
}

func TestUDPBadPeerAddress(t *testing.T) {
	client, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Request(context.Background(), "not an address", paxos.Ping{}, time.Second)
	assert.ErrorIs(t, err, paxos.ErrUnreachable)
}

func TestUDPIgnoresMalformedDatagrams(t *testing.T) {
	acceptor := listenAcceptor(t)
	raddr, err := net.ResolveUDPAddr("udp", acceptor.Addr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	_, err = conn.Write([]byte("garbage"))
	require.NoError(t, err)
	conn.Close()

	client, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Request(context.Background(), acceptor.Addr(), paxos.Ping{}, time.Second)
	assert.NoError(t, err, "acceptor keeps serving after a bad datagram")
}

func TestProposeOverUDP(t *testing.T) {
	// one of three acceptors is down
	peers := []string{listenAcceptor(t).Addr(), listenAcceptor(t).Addr(), deadAddress(t)}

	proposerNet, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer proposerNet.Close()

	c := paxos.NewClient(paxos.ClientConfig{ID: 1, Timeout: 100 * time.Millisecond, MaxAttempts: 3}, peers, proposerNet)
	d, err := c.Propose(context.Background(), []byte("x"), []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(d.Value))
	assert.True(t, d.Own)

	d, found, err := c.Get(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(d.Value))
}

// largestValue returns the size of the biggest value for key whose envelopes
// still fit in one datagram.
func largestValue(key []byte) int {
	lo, hi := 0, MaxDatagram
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if paxos.EnvelopeSize(key, make([]byte, mid)) <= MaxDatagram {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func TestValueAtDatagramLimitStaysReadable(t *testing.T) {
	peers := []string{listenAcceptor(t).Addr(), listenAcceptor(t).Addr(), listenAcceptor(t).Addr()}
	proposerNet, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer proposerNet.Close()

	cfg := paxos.ClientConfig{ID: 1, Timeout: 200 * time.Millisecond, MaxAttempts: 3, MaxEnvelope: MaxDatagram}
	c := paxos.NewClient(cfg, peers, proposerNet)
	key := []byte("x")
	n := largestValue(key)
	big := bytes.Repeat([]byte{0xfe}, n)

	_, err = c.Propose(context.Background(), key, append(big, 0, 0, 0))
	require.ErrorIs(t, err, paxos.ErrTooLarge)

	d, err := c.Propose(context.Background(), key, big)
	require.NoError(t, err)
	assert.True(t, d.Own)

	d, found, err := c.Get(context.Background(), key)
	require.NoError(t, err, "promises carrying the value must fit too")
	assert.True(t, found)
	assert.Equal(t, big, d.Value)

	d, err = c.Propose(context.Background(), key, []byte("small"))
	require.NoError(t, err)
	assert.False(t, d.Own)
	assert.Len(t, d.Value, n)
}

func TestUDPRefusesOversizedEnvelope(t *testing.T) {
	client, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Request(context.Background(), listenAcceptor(t).Addr(),
		paxos.Prepare{Ballot: 1, Key: make([]byte, MaxDatagram)}, time.Second)
	assert.ErrorIs(t, err, paxos.ErrTooLarge)
	assert.Zero(t, client.pending.len())
}
