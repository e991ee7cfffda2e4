package runner

import "context"

// Service is a long-running component managed by the Runner. Implementations
// should start and stop gracefully.
type Service interface {
	// Name returns a unique identifier for this service, used in logs and
	// error messages.
	Name() string

	// Start initializes the service. It should return once the service is
	// ready, and must respect context cancellation.
	Start(ctx context.Context) error

	// Stop shuts the service down, completing within the context timeout.
	Stop(ctx context.Context) error
}

// HealthChecker is an optional interface a Service can implement to report
// its health.
type HealthChecker interface {
	Service

	// HealthCheck returns an error if the service is unhealthy.
	HealthCheck(ctx context.Context) error
}
