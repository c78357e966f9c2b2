package paxos

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Message is either a Request or a Response.
type Message interface {
	Kind() string
}

// Request is sent by a proposer (or a liveness probe) to an acceptor.
type Request interface {
	Message
	isRequest()
}

// Response answers exactly one Request.
type Response interface {
	Message
	isResponse()
}

// Prepare asks an acceptor to promise ballot for key.
type Prepare struct {
	Ballot uint64 `json:"ballot"`
	Key    []byte `json:"key"`
}

// Accept asks an acceptor to store value for key.
type Accept struct {
	Key   []byte         `json:"key"`
	Value VersionedValue `json:"value"`
}

// Ping checks that a peer is reachable.
type Ping struct{}

// Promise answers Prepare. Current is always the acceptor's accepted value.
type Promise struct {
	Success bool           `json:"success"`
	Current VersionedValue `json:"current_value"`
}

// Accepted answers Accept. When OK is false, Current holds the value that
// blocked the request.
type Accepted struct {
	OK      bool           `json:"ok"`
	Current VersionedValue `json:"current_value"`
}

// Pong answers Ping.
type Pong struct{}

const (
	kindPrepare  = "prepare"
	kindAccept   = "accept"
	kindPing     = "ping"
	kindPromise  = "promise"
	kindAccepted = "accepted"
	kindPong     = "pong"
)

func (Prepare) Kind() string  { return kindPrepare }
func (Accept) Kind() string   { return kindAccept }
func (Ping) Kind() string     { return kindPing }
func (Promise) Kind() string  { return kindPromise }
func (Accepted) Kind() string { return kindAccepted }
func (Pong) Kind() string     { return kindPong }

func (Prepare) isRequest() {}
func (Accept) isRequest()  {}
func (Ping) isRequest()    {}

func (Promise) isResponse()  {}
func (Accepted) isResponse() {}
func (Pong) isResponse()     {}

// MismatchError is returned when a Response is not the variant the caller
// expected for the Request it sent.
type MismatchError struct {
	Want string
	Got  Response
}

func (e *MismatchError) Error() string {
	got := "<nil>"
	if e.Got != nil {
		got = e.Got.Kind()
	}
	return fmt.Sprintf("paxos: expected %s response, got %s", e.Want, got)
}

func AsPromise(r Response) (Promise, error) {
	if p, ok := r.(Promise); ok {
		return p, nil
	}
	return Promise{}, &MismatchError{Want: kindPromise, Got: r}
}

func AsAccepted(r Response) (Accepted, error) {
	if a, ok := r.(Accepted); ok {
		return a, nil
	}
	return Accepted{}, &MismatchError{Want: kindAccepted, Got: r}
}

func AsPong(r Response) error {
	if _, ok := r.(Pong); ok {
		return nil
	}
	return &MismatchError{Want: kindPong, Got: r}
}

// Envelope tags a message with the id used to correlate a response with its
// request. A response carries the id of the request that caused it.
type Envelope struct {
	ID      uuid.UUID
	Message Message
}

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("paxos: malformed envelope")

type wireEnvelope struct {
	ID   uuid.UUID       `json:"id"`
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Marshal encodes an envelope for the wire.
func Marshal(env Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, fmt.Errorf("paxos: envelope %s has no message", env.ID)
	}
	out := wireEnvelope{ID: env.ID, Kind: env.Message.Kind()}
	switch env.Message.(type) {
	case Ping, Pong:
	default:
		body, err := json.Marshal(env.Message)
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return json.Marshal(out)
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (Envelope, error) {
	var in wireEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := Envelope{ID: in.ID}
	var err error
	switch in.Kind {
	case kindPrepare:
		var m Prepare
		err = decodeBody(in.Body, &m)
		env.Message = m
	case kindAccept:
		var m Accept
		err = decodeBody(in.Body, &m)
		env.Message = m
	case kindPromise:
		var m Promise
		err = decodeBody(in.Body, &m)
		env.Message = m
	case kindAccepted:
		var m Accepted
		err = decodeBody(in.Body, &m)
		env.Message = m
	case kindPing:
		env.Message = Ping{}
	case kindPong:
		env.Message = Pong{}
	default:
		return Envelope{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, in.Kind)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformed, in.Kind, err)
	}
	return env, nil
}

func decodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 {
		return errors.New("missing body")
	}
	return json.Unmarshal(body, v)
}

// EnvelopeSize returns the size of the largest encoded envelope that can
// carry value for key: the Accept request, or a Promise or Accepted reply
// holding it at the highest possible ballot.
func EnvelopeSize(key, value []byte) int {
	current := NewVersionedValue(math.MaxUint64, value)
	largest := 0
	for _, m := range []Message{
		Accept{Key: key, Value: current},
		Promise{Current: current},
		Accepted{Current: current},
	} {
		data, err := Marshal(Envelope{ID: uuid.Nil, Message: m})
		if err != nil {
			continue
		}
		if len(data) > largest {
			largest = len(data)
		}
	}
	return largest
}
