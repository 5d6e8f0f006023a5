// Package status defines the lifecycle states of an asynchronously processed
// job and their wire representation in the job-status ledger.
package status

import (
	"encoding/json"
	"fmt"
)

// JobStatus is one of Accepted, Done or Failed.
type JobStatus interface {
	fmt.Stringer

	// Terminal reports whether the status can no longer change.
	Terminal() bool

	jobStatus()
}

// Accepted means the job was acknowledged by a worker but has not finished.
type Accepted struct{}

// Done means the job finished successfully.
type Done struct{}

// Failed means the job finished with a classified failure. It is stored as
// "Error(<code>: <message>)".
type Failed struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Accepted) jobStatus() {}
func (Done) jobStatus()     {}
func (Failed) jobStatus()   {}

func (Accepted) Terminal() bool { return false }
func (Done) Terminal() bool     { return true }
func (Failed) Terminal() bool   { return true }

func (s Accepted) String() string { return Encode(s) }
func (s Done) String() string     { return Encode(s) }
func (s Failed) String() string   { return Encode(s) }

// Equal reports whether a and b are the same status. Two nil statuses are equal.
func Equal(a, b JobStatus) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// Value wraps a JobStatus so it can be embedded in JSON documents as its
// wire string.
type Value struct {
	JobStatus
}

// MarshalJSON encodes the status as its wire string.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.JobStatus == nil {
		return []byte("null"), nil
	}
	return json.Marshal(Encode(v.JobStatus))
}

// UnmarshalJSON decodes a wire string into the wrapped status.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		v.JobStatus = nil
		return nil
	}
	st, err := Decode(*s)
	if err != nil {
		return err
	}
	v.JobStatus = st
	return nil
}
