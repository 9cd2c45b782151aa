package iam

import "errors"

// Sentinel error kinds raised by the IAM stores. Callers match with
// errors.Is; the HTTP layer maps them onto status codes. None of these are
// swallowed inside the package, and every precondition is checked before any
// mutation takes effect.
var (
	// ErrNotFound marks a missing role, mapping, membership, environment or
	// user.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks a duplicate role name within an environment or
	// a duplicate role mapping for a user.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState marks an operation that only organization environments
	// support being attempted against a personal environment, or an
	// organization invariant violation (e.g. removing the last admin).
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
)
