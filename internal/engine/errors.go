package engine

import "errors"

var (
	// ErrNotFound is returned when a scheduled request id does not exist.
	ErrNotFound = errors.New("scheduled request not found")

	// ErrNotPending is returned when a lifecycle operation requires the
	// pending state but the request has already reached a terminal one.
	ErrNotPending = errors.New("scheduled request is not pending")

	// ErrEndpointGone marks a push endpoint whose registration no longer
	// exists at the gateway (HTTP 404/410). The fan-out deactivates such
	// endpoints immediately instead of counting failures.
	ErrEndpointGone = errors.New("push endpoint gone")
)
