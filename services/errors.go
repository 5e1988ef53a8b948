package services

import (
	"errors"
	"fmt"
)

// Error taxonomy for the challenge engine. Handlers map these onto HTTP
// statuses; callers distinguish retryable faults from terminal outcomes.
var (
	// ErrChallengeConflict: a live (non-stale) ACTIVE challenge already exists.
	ErrChallengeConflict = errors.New("challenge already active")

	// ErrInvalidState: operation attempted on a challenge not in the state it
	// requires (e.g., proof submitted to a terminal challenge).
	ErrInvalidState = errors.New("challenge not in a valid state for this operation")

	// ErrNotFound: referenced challenge or user does not exist.
	ErrNotFound = errors.New("record not found")
)

// ValidationFault means the photo validator could not produce a verdict at
// all (network/service error). It is NOT a negative verdict: the challenge
// stays ACTIVE and the caller should prompt a retry.
type ValidationFault struct {
	Err error
}

func (f *ValidationFault) Error() string {
	return fmt.Sprintf("photo validation unavailable: %v", f.Err)
}

func (f *ValidationFault) Unwrap() error { return f.Err }

// IsValidationFault reports whether err is (or wraps) a ValidationFault.
func IsValidationFault(err error) bool {
	var f *ValidationFault
	return errors.As(err, &f)
}

// PersistenceFault wraps a store failure. The engine retries the combined
// finalize write a bounded number of times before surfacing one of these.
type PersistenceFault struct {
	Op  string
	Err error
}

func (f *PersistenceFault) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", f.Op, f.Err)
}

func (f *PersistenceFault) Unwrap() error { return f.Err }
