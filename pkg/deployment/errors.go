package deployment

import "errors"

var (
	// ErrNotFound: Deployment ID is unknown
	ErrNotFound = errors.New("deployment not found")

	// ErrInvalidTransition: Requested lifecycle move is not in the
	// transition table; state is left unchanged
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCapacityExceeded: Required resources exceed the cluster's totals,
	// so the deployment could never run there
	ErrCapacityExceeded = errors.New("required resources exceed cluster capacity")
)
