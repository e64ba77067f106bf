// Package muterrors defines the sentinel error taxonomy shared across
// Muteacle's components, mirroring the flat sentinel-error block style
// this module's teacher uses in its core package.
package muterrors

import "errors"

var (
	// ErrInvalidResolution is a configuration error: resolution is <= 0
	// or does not divide 86400.
	ErrInvalidResolution = errors.New("muteacle: resolution must be a positive divisor of 86400")

	// ErrUnsupportedHasherClass is raised when persisting or rehydrating
	// a hasher class outside the registered enumeration.
	ErrUnsupportedHasherClass = errors.New("muteacle: unsupported hasher class")

	// ErrReadOnly is an operational error: the repository is latched
	// read-only because more than one pending configuration was observed
	// on open (clock tampering). Errors from a backend that refuses a
	// write are propagated as the backend returned them, not as
	// ErrReadOnly.
	ErrReadOnly = errors.New("muteacle: repository is read-only")

	// ErrIntegrity indicates a stored config or hasher record's recorded
	// hash disagrees with the recomputed hash.
	ErrIntegrity = errors.New("muteacle: stored record failed integrity check")

	// ErrInvalidSaltLength is a configuration error on a negative salt
	// length.
	ErrInvalidSaltLength = errors.New("muteacle: salt length must be >= 0")
)
