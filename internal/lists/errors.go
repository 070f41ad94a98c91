package lists

import "errors"

var (
	// ErrNoUsableLists is returned when a list is unusable both from the
	// backing source and from the bundled defaults.
	ErrNoUsableLists = errors.New("lists: no usable reference lists")
	// ErrSourceEmpty is returned by a Source that holds no data.
	ErrSourceEmpty = errors.New("lists: source is empty")
)
