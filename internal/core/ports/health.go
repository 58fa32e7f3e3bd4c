package ports

import "context"

// HealthChecker probes one dependency. A failing critical dependency makes the service
// unhealthy; any other failure only degrades it.
type HealthChecker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}
