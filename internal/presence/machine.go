// Package presence tracks the agent's operational snapshot and publishes it.
package presence

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"vramsply/internal/metrics"
)

// Snapshot is a point-in-time copy of presence state. Empty strings and a
// nil LoadingProgressPct mean "not set".
type Snapshot struct {
	Status             Status
	CurrentModel       string
	LoadingProgressPct *int
	ActiveRequests     int
	ErrorCode          string
	ErrorMessage       string
}

func (s Snapshot) clone() Snapshot {
	if s.LoadingProgressPct != nil {
		p := *s.LoadingProgressPct
		s.LoadingProgressPct = &p
	}
	return s
}

// Publisher delivers snapshots to the outside world. Implementations read
// the current credential token themselves.
type Publisher interface {
	PublishPresence(ctx context.Context, s Snapshot) error
}

type noopPublisher struct{}

func (noopPublisher) PublishPresence(context.Context, Snapshot) error { return nil }

// Machine owns the single authoritative presence snapshot.
type Machine struct {
	mu    sync.Mutex
	state Snapshot
	pub   Publisher
	log   zerolog.Logger
}

// New returns a Machine in the Idle state serving model.
func New(model string, pub Publisher, log zerolog.Logger) *Machine {
	if pub == nil {
		pub = noopPublisher{}
	}
	m := &Machine{
		state: Snapshot{Status: StatusIdle, CurrentModel: model},
		pub:   pub,
		log:   log,
	}
	metrics.SetPresenceStatus(string(StatusIdle), statusLabels)
	return m
}

var statusLabels = func() []string {
	out := make([]string, len(AllStatuses))
	for i, s := range AllStatuses {
		out[i] = string(s)
	}
	return out
}()

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status
}

// Transition moves to target if the table allows it, clears progress and
// error fields, and publishes. Leaving for anything but Serving also resets
// the active request count. A forbidden move returns an error and leaves
// the state untouched.
func (m *Machine) Transition(ctx context.Context, target Status) error {
	m.mu.Lock()
	from := m.state.Status
	if !CanTransition(from, target) {
		m.mu.Unlock()
		return invalidTransitionError{from: from, to: target}
	}
	m.state.Status = target
	m.state.LoadingProgressPct = nil
	m.state.ErrorCode = ""
	m.state.ErrorMessage = ""
	if target != StatusServing {
		m.state.ActiveRequests = 0
	}
	m.mu.Unlock()

	m.observe(from, target)
	m.Publish(ctx)
	return nil
}

// ReportError forces the Error status from any state. In-flight requests
// are kept.
func (m *Machine) ReportError(ctx context.Context, code, message string) {
	m.mu.Lock()
	from := m.state.Status
	m.state.Status = StatusError
	m.state.LoadingProgressPct = nil
	m.state.ErrorCode = code
	m.state.ErrorMessage = message
	m.mu.Unlock()

	m.log.Error().Str("code", code).Str("from", string(from)).Msg(message)
	m.observe(from, StatusError)
	m.Publish(ctx)
}

// ReportDegraded forces the Degraded status from any state and drops the
// active request count.
func (m *Machine) ReportDegraded(ctx context.Context, code, message string) {
	m.mu.Lock()
	from := m.state.Status
	m.state.Status = StatusDegraded
	m.state.LoadingProgressPct = nil
	m.state.ActiveRequests = 0
	m.state.ErrorCode = code
	m.state.ErrorMessage = message
	m.mu.Unlock()

	m.log.Warn().Str("code", code).Str("from", string(from)).Msg(message)
	m.observe(from, StatusDegraded)
	m.Publish(ctx)
}

// UpdateActiveRequests records n in-flight requests. A positive count
// switches to Serving; zero settles Idle, LoadingModel, Ready and Serving
// on Ready. Degraded and Error keep their status.
func (m *Machine) UpdateActiveRequests(ctx context.Context, n int) {
	if n < 0 {
		n = 0
	}
	m.mu.Lock()
	from := m.state.Status
	m.state.ActiveRequests = n
	to := from
	switch from {
	case StatusDegraded, StatusError:
	default:
		if n > 0 {
			to = StatusServing
		} else if from == StatusReady || from == StatusServing || from == StatusIdle || from == StatusLoadingModel {
			to = StatusReady
		}
	}
	if to != from {
		m.state.Status = to
		m.state.LoadingProgressPct = nil
		m.state.ErrorCode = ""
		m.state.ErrorMessage = ""
	}
	m.mu.Unlock()

	metrics.SetActiveRequests(n)
	if to != from {
		m.observe(from, to)
	}
	m.Publish(ctx)
}

// Publish hands the current snapshot to the publisher. Failures are logged
// and counted, never returned. The state lock is not held during I/O.
func (m *Machine) Publish(ctx context.Context) {
	snap := m.Snapshot()
	if err := m.pub.PublishPresence(ctx, snap); err != nil {
		metrics.IncPresencePublishFailure()
		m.log.Warn().Err(err).Str("status", string(snap.Status)).Msg("presence update failed")
		return
	}
	m.log.Debug().Str("status", string(snap.Status)).Int("active_requests", snap.ActiveRequests).Msg("presence published")
}

func (m *Machine) observe(from, to Status) {
	if from == to {
		return
	}
	metrics.ObservePresenceTransition(string(from), string(to))
	metrics.SetPresenceStatus(string(to), statusLabels)
	m.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("presence status changed")
}
