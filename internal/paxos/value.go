package paxos

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VersionedValue is a possibly absent payload tagged with the ballot that
// wrote it. The zero value (ballot 0, no payload) means "never written".
type VersionedValue struct {
	Ballot uint64

	value   []byte
	present bool
}

// NewVersionedValue returns a value carrying payload at ballot.
func NewVersionedValue(ballot uint64, payload []byte) VersionedValue {
	v := VersionedValue{Ballot: ballot}
	v.SetPayload(payload)
	return v
}

// Unset returns a value with no payload at ballot.
func Unset(ballot uint64) VersionedValue {
	return VersionedValue{Ballot: ballot}
}

// Payload returns the payload and whether one is present.
func (v VersionedValue) Payload() ([]byte, bool) {
	return v.value, v.present
}

// HasPayload reports whether a payload is present.
func (v VersionedValue) HasPayload() bool {
	return v.present
}

// SetPayload replaces the payload. The ballot is left as is.
func (v *VersionedValue) SetPayload(payload []byte) {
	v.value = append([]byte{}, payload...)
	v.present = true
}

// ClearPayload drops the payload. The ballot is left as is.
func (v *VersionedValue) ClearPayload() {
	v.value = nil
	v.present = false
}

// Compare orders values by ballot, then by payload. An absent payload sorts
// before any present one.
func (v VersionedValue) Compare(o VersionedValue) int {
	switch {
	case v.Ballot < o.Ballot:
		return -1
	case v.Ballot > o.Ballot:
		return 1
	}
	switch {
	case !v.present && !o.present:
		return 0
	case !v.present:
		return -1
	case !o.present:
		return 1
	}
	return bytes.Compare(v.value, o.value)
}

func (v VersionedValue) Less(o VersionedValue) bool {
	return v.Compare(o) < 0
}

func (v VersionedValue) Equal(o VersionedValue) bool {
	return v.Compare(o) == 0
}

func (v VersionedValue) String() string {
	if !v.present {
		return fmt.Sprintf("<%d, none>", v.Ballot)
	}
	return fmt.Sprintf("<%d, %q>", v.Ballot, v.value)
}

type jsonVersionedValue struct {
	Ballot uint64  `json:"ballot"`
	Value  *[]byte `json:"value,omitempty"`
}

func (v VersionedValue) MarshalJSON() ([]byte, error) {
	out := jsonVersionedValue{Ballot: v.Ballot}
	if v.present {
		payload := v.value
		if payload == nil {
			payload = []byte{}
		}
		out.Value = &payload
	}
	return json.Marshal(out)
}

func (v *VersionedValue) UnmarshalJSON(data []byte) error {
	var in jsonVersionedValue
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*v = Unset(in.Ballot)
	if in.Value != nil {
		v.SetPayload(*in.Value)
	}
	return nil
}

// Max returns the greatest of the given values, or the zero value when none
// are given.
func Max(values ...VersionedValue) VersionedValue {
	var best VersionedValue
	for _, v := range values {
		if best.Less(v) {
			best = v
		}
	}
	return best
}
