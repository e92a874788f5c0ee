package vtime

import "errors"

var (
	// ErrResolutionFrozen is raised when the resolution is changed after it
	// has already been changed once.
	ErrResolutionFrozen = errors.New("vtime: resolution can only be changed once")

	// ErrMalformedTime is returned when a time string cannot be parsed.
	ErrMalformedTime = errors.New("vtime: malformed time string")

	// ErrUnknownUnit is returned when a unit suffix is not recognized.
	ErrUnknownUnit = errors.New("vtime: unknown time unit")

	// ErrOverflow is raised when a value does not fit in the 64-bit tick
	// range of the current resolution.
	ErrOverflow = errors.New("vtime: value exceeds the representable time range")
)
