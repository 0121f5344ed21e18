// ABOUTME: Error taxonomy for the lifecycle storage layer
// ABOUTME: Sentinel errors matched with errors.Is by the engine and surfaces
package db

import "errors"

var (
	// ErrInvalidState means a requested state is outside the closed set.
	// Always a caller bug; never retried.
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrNoCurrentState means the opportunity has no open interval.
	ErrNoCurrentState = errors.New("opportunity has no current state")

	// ErrAlreadyExists means CreateInitialState was called for an
	// opportunity that already has an open interval.
	ErrAlreadyExists = errors.New("opportunity already has a current state")

	// ErrConcurrentModification means the open interval changed between
	// read and write during a transition attempt.
	ErrConcurrentModification = errors.New("current state changed concurrently")

	// ErrRuleNotFound means no transition rule matches the given name.
	ErrRuleNotFound = errors.New("transition rule not found")
)
