package mailqueue

import "errors"

var (
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("mail queue unavailable")
	// ErrEmpty is returned by Dequeue when no job is ready.
	ErrEmpty = errors.New("mail queue empty")
	// ErrJobNotFound is returned for unknown or already trimmed job ids.
	ErrJobNotFound = errors.New("mail job not found")
	// ErrPermanent marks a delivery failure that retrying cannot fix. Wrap
	// it to skip the remaining attempts.
	ErrPermanent = errors.New("permanent delivery failure")
	// ErrInvalidJob is returned by Enqueue for jobs missing a kind or
	// recipient.
	ErrInvalidJob = errors.New("invalid mail job")
)
