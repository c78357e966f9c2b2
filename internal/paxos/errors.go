package paxos

import (
	"errors"
	"fmt"
)

// ErrNoQuorum is matched by every error Propose and Get return after running
// out of attempts.
var ErrNoQuorum = errors.New("paxos: no quorum")

// QuorumError reports which phase failed on the last attempt.
type QuorumError struct {
	Key      []byte
	Attempts int
	Phase    string
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("paxos: no quorum for %q after %d attempts (last failure in %s phase)",
		e.Key, e.Attempts, e.Phase)
}

func (e *QuorumError) Unwrap() error { return ErrNoQuorum }

// ErrTooLarge is matched by every error caused by a message that can never
// fit on the wire. Retrying does not help.
var ErrTooLarge = errors.New("paxos: message too large")

// TooLargeError is returned by Propose when the worst-case envelope carrying
// the value would exceed the configured limit.
type TooLargeError struct {
	Key   []byte
	Size  int
	Limit int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("paxos: value for %q needs %d byte envelopes, limit is %d", e.Key, e.Size, e.Limit)
}

func (e *TooLargeError) Unwrap() error { return ErrTooLarge }
