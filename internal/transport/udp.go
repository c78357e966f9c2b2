package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"cs.umass.edu/griyakv/internal/paxos"
)

// MaxDatagram is the largest UDP payload over IPv4, and so the largest
// envelope UDP can carry. Proposers should use it as their MaxEnvelope.
const MaxDatagram = 65507

// UDP is a paxos.Net that sends one datagram per request and waits one
// timeout window for the reply. It also answers requests from other peers
// when it has a handler, so a replica can be acceptor and proposer on the
// same socket.
type UDP struct {
	conn    *net.UDPConn
	handler paxos.Handler
	pending *pendingTable

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ paxos.Net = (*UDP)(nil)

// ListenUDP binds addr and starts serving. handler may be nil for a node that
// only proposes.
func ListenUDP(addr string, handler paxos.Handler) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &UDP{
		conn:    conn,
		handler: handler,
		pending: newPendingTable(),
		ctx:     ctx,
		cancel:  cancel,
	}
	u.wg.Add(1)
	go u.serve()
	return u, nil
}

// Addr returns the bound address.
func (u *UDP) Addr() string {
	return u.conn.LocalAddr().String()
}

// Close stops serving and waits for in-flight handlers.
func (u *UDP) Close() error {
	u.cancel()
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

func (u *UDP) Request(ctx context.Context, peer string, req paxos.Request, timeout time.Duration) (paxos.Response, error) {
	op := req.Kind()
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: fmt.Errorf("%w: %v", paxos.ErrUnreachable, err)}
	}
	env := paxos.Envelope{ID: uuid.New(), Message: req}
	data, err := paxos.Marshal(env)
	if err != nil {
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: err}
	}
	if len(data) > MaxDatagram {
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: fmt.Errorf("%w: envelope of %d bytes", paxos.ErrTooLarge, len(data))}
	}

	ch := u.pending.register(env.ID)
	if _, err := u.conn.WriteToUDP(data, raddr); err != nil {
		u.pending.cancel(env.ID)
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: fmt.Errorf("%w: %v", paxos.ErrUnreachable, err)}
	}
	resp, err := u.pending.wait(ctx, env.ID, ch, timeout)
	if err != nil {
		return nil, &paxos.NetError{Peer: peer, Op: op, Err: err}
	}
	return resp, nil
}

func (u *UDP) serve() {
	defer u.wg.Done()
	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || u.ctx.Err() != nil {
				return
			}
			log.Println("griyakv:: udp read failed:", err)
			continue
		}
		env, err := paxos.Unmarshal(buf[:n])
		if err != nil {
			log.Println("griyakv:: dropping datagram from", from, err)
			continue
		}

		switch m := env.Message.(type) {
		case paxos.Response:
			u.pending.fulfill(env.ID, m)
		case paxos.Request:
			if u.handler == nil {
				continue
			}
			u.wg.Add(1)
			go u.answer(env.ID, m, from)
		}
	}
}

func (u *UDP) answer(id uuid.UUID, req paxos.Request, to *net.UDPAddr) {
	defer u.wg.Done()
	resp, err := u.handler.Handle(u.ctx, req)
	if err != nil {
		log.Println("griyakv:: no reply to", to, err)
		return
	}
	data, err := paxos.Marshal(paxos.Envelope{ID: id, Message: resp})
	if err != nil {
		log.Println("griyakv:: failed to encode reply", err)
		return
	}
	if len(data) > MaxDatagram {
		log.Printf("griyakv:: %s reply to %s is %d bytes: %v", resp.Kind(), to, len(data), paxos.ErrTooLarge)
		return
	}
	if _, err := u.conn.WriteToUDP(data, to); err != nil && u.ctx.Err() == nil {
		log.Println("griyakv:: failed to reply to", to, err)
	}
}
