package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the database.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. missing address, latitude out of range).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrConflict is returned when a write would break an invariant held across
// rows, such as a second active trip for one owner or a courier at capacity.
var ErrConflict = errors.New("conflict")

// ErrInvalidState is returned when an operation is not legal for the
// entity's current state (e.g. ending a trip that is already completed).
var ErrInvalidState = errors.New("invalid state")

// ErrInvalidTransition is returned when a requested status change is not an
// edge of the state graph. State is left untouched.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrPrecondition is returned when a referenced parent entity is not in the
// required state, e.g. a visit logged against a closed trip.
var ErrPrecondition = errors.New("precondition failed")

// ErrTerminalState is returned for any mutation attempted on a COMPLETED,
// CANCELED or REJECTED entity.
var ErrTerminalState = errors.New("terminal state")

// ErrNotEligible is returned when the subject lacks a required approval,
// such as assigning a delivery to a courier who is not APPROVED.
var ErrNotEligible = errors.New("not eligible")

// ErrForbidden is returned when the calling actor's role does not allow the operation.
var ErrForbidden = errors.New("forbidden")

// ErrUnauthorized is returned when a request carries no valid identity.
var ErrUnauthorized = errors.New("unauthorized")
