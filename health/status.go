package health

// Status values describe the operational state of a component.
const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the component works with reduced capability,
	// e.g. one annotation source is unreachable.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the component cannot serve requests.
	StatusUnhealthy = "unhealthy"
)

// Status is the health of a component or dependency.
type Status struct {
	// Status is one of StatusHealthy, StatusDegraded or StatusUnhealthy.
	Status string `json:"status"`

	// Message is a human-readable description.
	Message string `json:"message,omitempty"`

	// Details carries diagnostic context such as the failing address.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is StatusDegraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// Healthy creates a healthy status.
func Healthy(message string) Status {
	return Status{Status: StatusHealthy, Message: message}
}

// Degraded creates a degraded status with optional details.
func Degraded(message string, details map[string]any) Status {
	return Status{Status: StatusDegraded, Message: message, Details: details}
}

// Unhealthy creates an unhealthy status with optional details.
func Unhealthy(message string, details map[string]any) Status {
	return Status{Status: StatusUnhealthy, Message: message, Details: details}
}

// Soften turns an unhealthy status into a degraded one. It is used for
// dependencies the service can run without.
func Soften(s Status) Status {
	if s.IsUnhealthy() {
		s.Status = StatusDegraded
	}
	return s
}
