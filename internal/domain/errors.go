package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrLockHeld       = errors.New("lock already held")
	ErrUnknownJobKind = errors.New("unknown job kind")

	// ErrUnrecoverable marks a job failure that must not be retried. Wrap it
	// (fmt.Errorf("...: %w", ErrUnrecoverable)) to send a job straight to the
	// failed set.
	ErrUnrecoverable = errors.New("unrecoverable job failure")
)
