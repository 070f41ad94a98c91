package scanner

import "errors"

var (
	// ErrUnsupportedScheme is returned for targets that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrEmptyTarget is returned when the target is blank.
	ErrEmptyTarget = errors.New("empty scan target")
)
