package session

import "errors"

// Failure taxonomy for scans and code entry. Each maps to a distinct
// user-facing, retry-eligible message, except ErrNoCodeActive which needs the
// teacher to act first.
var (
	ErrConnection     = errors.New("no connection to the attendance service")
	ErrWrongDivision  = errors.New("wrong division")
	ErrSessionInvalid = errors.New("session invalid")
	ErrSessionExpired = errors.New("session expired")
	ErrNoCodeActive   = errors.New("no code active")
	ErrCodeExpired    = errors.New("code expired")
	ErrCodeMismatch   = errors.New("code mismatch")
)
