package datasets

import "errors"

// Common errors
var (
	// ErrConfiguration covers malformed descriptors, requests for fields or
	// redshifts that are not available, and invalid geometry.
	ErrConfiguration = errors.New("invalid dataset configuration")
	// ErrIndexRange is returned when a flat sample index falls outside
	// [0, Len()), and by strict-mode Stack access for out-of-range
	// per-redshift indices.
	ErrIndexRange = errors.New("sample index out of range")
)
