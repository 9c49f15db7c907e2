package presence

import "errors"

// Status is the agent's externally visible operational state.
type Status string

const (
	StatusUnavailable  Status = "unavailable"
	StatusIdle         Status = "idle"
	StatusLoadingModel Status = "loading_model"
	StatusReady        Status = "ready"
	StatusServing      Status = "serving"
	StatusDegraded     Status = "degraded"
	StatusError        Status = "error"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusUnavailable,
	StatusIdle,
	StatusLoadingModel,
	StatusReady,
	StatusServing,
	StatusDegraded,
	StatusError,
}

func (s Status) String() string { return string(s) }

// transitions is the complete table of validated moves. Error and Degraded
// are also reachable from anywhere through ReportError/ReportDegraded.
var transitions = map[Status][]Status{
	StatusIdle:         {StatusLoadingModel, StatusUnavailable, StatusError},
	StatusLoadingModel: {StatusReady, StatusError, StatusUnavailable},
	StatusReady:        {StatusServing, StatusLoadingModel, StatusDegraded, StatusError, StatusUnavailable},
	StatusServing:      {StatusReady, StatusDegraded, StatusError, StatusUnavailable},
	StatusDegraded:     {StatusReady, StatusLoadingModel, StatusError, StatusUnavailable},
	StatusError:        {StatusLoadingModel, StatusUnavailable},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// invalidTransitionError is returned when the table forbids a move.
type invalidTransitionError struct{ from, to Status }

func (e invalidTransitionError) Error() string {
	return "invalid presence transition: " + string(e.from) + " -> " + string(e.to)
}

// IsInvalidTransition reports whether err was caused by a forbidden transition.
func IsInvalidTransition(err error) bool {
	var e invalidTransitionError
	return errors.As(err, &e)
}
