package service

import "errors"

// Error taxonomy for the assessment engine. Services construct these at the
// point of detection and propagate them unmodified; the handler layer owns
// the translation to HTTP status codes.
var (
	// ErrNotFound signals an absent session, exam or question.
	ErrNotFound = errors.New("not found")
	// ErrForbidden signals an ownership or access-policy violation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput signals a malformed or out-of-range request payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState signals a mutation attempted on a session that no
	// longer accepts it (terminal status, wrong pause state).
	ErrInvalidState = errors.New("invalid session state")
	// ErrAlreadyEnded signals a duplicate complete/submit/abandon call.
	ErrAlreadyEnded = errors.New("session already ended")
	// ErrStaleWrite signals an optimistic-concurrency conflict: the caller's
	// observed version no longer matches the stored session.
	ErrStaleWrite = errors.New("stale session write")
)
