package replay

import "errors"

var (
	// ErrInvalidOrdering is returned when operations are not in block order.
	ErrInvalidOrdering = errors.New("operations are not in block order")
	// ErrUnknownOperation is returned for an operation type the state machine does not handle.
	ErrUnknownOperation = errors.New("unknown operation type")
)
