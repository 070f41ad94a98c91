package quota

import "errors"

var (
	// ErrQuotaExceeded is returned by Consume when the identifier has used
	// its scans for the day.
	ErrQuotaExceeded = errors.New("quota: daily scan quota exceeded")
	// ErrEmptyIdentifier is returned when no identifier is given.
	ErrEmptyIdentifier = errors.New("quota: identifier is empty")
)
