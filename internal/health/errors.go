package health

import "errors"

// Sentinel errors for endpoint health.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open and rejecting attempts.
	ErrCircuitOpen = errors.New("health: circuit breaker is open")

	// ErrEndpointUnreachable is returned when the start-up probe cannot connect.
	ErrEndpointUnreachable = errors.New("health: endpoint is unreachable")
)
