// Package metrics holds the prometheus collectors for the agent runtime.
// Collectors live in the default registry and are served by the status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vramsply"

var (
	presenceStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "status",
			Help:      "1 for the current presence status, 0 otherwise",
		},
		[]string{"status"},
	)

	presenceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "transitions_total",
			Help:      "Presence status changes by source and target",
		},
		[]string{"from", "to"},
	)

	presencePublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "publish_failures_total",
			Help:      "Presence publications that failed on any sink",
		},
	)

	heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Provider heartbeats by result",
		},
		[]string{"result"},
	)

	supervisorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "events_total",
			Help:      "llama-server lifecycle events",
		},
		[]string{"event"},
	)

	activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "In-flight requests reported by llama-server slots",
		},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh exchanges by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		presenceStatus,
		presenceTransitions,
		presencePublishFailures,
		heartbeats,
		supervisorEvents,
		activeRequests,
		tokenRefreshes,
	)
}

// SetPresenceStatus marks current as the only active status among all.
func SetPresenceStatus(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		presenceStatus.WithLabelValues(s).Set(v)
	}
}

func ObservePresenceTransition(from, to string) {
	presenceTransitions.WithLabelValues(from, to).Inc()
}

func IncPresencePublishFailure() { presencePublishFailures.Inc() }

// ObserveHeartbeat records a heartbeat outcome: "ok" or "error".
func ObserveHeartbeat(ok bool) {
	if ok {
		heartbeats.WithLabelValues("ok").Inc()
		return
	}
	heartbeats.WithLabelValues("error").Inc()
}

func ObserveSupervisorEvent(name string) {
	if name == "" {
		name = "unknown"
	}
	supervisorEvents.WithLabelValues(name).Inc()
}

func SetActiveRequests(n int) { activeRequests.Set(float64(n)) }

// ObserveTokenRefresh records a refresh exchange outcome.
func ObserveTokenRefresh(err error) {
	if err != nil {
		tokenRefreshes.WithLabelValues("error").Inc()
		return
	}
	tokenRefreshes.WithLabelValues("ok").Inc()
}
