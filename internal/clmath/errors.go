package clmath

import "errors"

var (
	// ErrInvalidRange is returned when tickLower >= tickUpper.
	ErrInvalidRange = errors.New("invalid tick range")

	// ErrTickOutOfRange is returned for ticks outside [MinTick, MaxTick].
	ErrTickOutOfRange = errors.New("tick out of range")

	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("uint256 overflow")

	// ErrNegative is returned when a signed big integer is passed where an
	// unsigned quantity is required.
	ErrNegative = errors.New("negative value")
)
