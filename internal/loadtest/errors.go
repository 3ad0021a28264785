package loadtest

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter rejects a request before any work is scheduled.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrSearchExhausted means a search ran out of room without an answer.
	ErrSearchExhausted = errors.New("search exhausted")

	// ErrEmptyResultSet means an average was requested over zero results.
	ErrEmptyResultSet = errors.New("empty result set")
)

// ProbeError is the failure of one probe invocation inside an execution.
type ProbeError struct {
	Probe string
	Load  int
	Index int // dispatch tick, starting at 1
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s load %d request %d: %v", e.Probe, e.Load, e.Index, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// AllFailedError is reported when an execution has failures but no results.
// It matches ErrEmptyResultSet while staying distinguishable from an
// execution that produced no data at all.
type AllFailedError struct {
	Failures int
	First    error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all %d requests failed, first: %v", e.Failures, e.First)
}

func (e *AllFailedError) Unwrap() error {
	return ErrEmptyResultSet
}
