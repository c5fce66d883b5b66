package boost

import "errors"

var (
	// ErrAlreadyBoosted means an active boost already exists for the
	// target and boost type. Enforced by a partial unique index, so two
	// concurrent purchases race down to exactly one winner.
	ErrAlreadyBoosted = errors.New("target already has an active boost")

	// ErrTargetNotFound means the boost or contribution target does not
	// exist in its owning service. No credits move.
	ErrTargetNotFound = errors.New("boost target not found")

	// ErrExternalServiceUnavailable means the owning service could not be
	// reached to validate the target. No credits move.
	ErrExternalServiceUnavailable = errors.New("external service unavailable")

	// ErrInvalidDuration rejects durations outside the configured bounds
	ErrInvalidDuration = errors.New("invalid boost duration")

	// ErrInvalidAmount rejects non-positive contribution amounts
	ErrInvalidAmount = errors.New("contribution amount must be positive")

	// ErrUnknownBoostType rejects boost types with no configured pricing
	ErrUnknownBoostType = errors.New("unknown boost type")
)
