package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts attempted session transitions by outcome.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impersonation_transitions_total",
			Help: "Session state transitions attempted, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// ActiveSessions tracks the number of currently active sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "impersonation_sessions_active",
			Help: "Number of impersonation sessions currently active",
		},
	)

	// SweepsTotal counts sweeper runs.
	SweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "impersonation_sweeps_total",
			Help: "Expiry sweeper runs",
		},
	)

	// AuditRetriesTotal counts audit appends deferred to the retry queue.
	AuditRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "impersonation_audit_retries_total",
			Help: "Audit record appends handed to the background retry queue",
		},
	)
)

const (
	outcomeOK       = "ok"
	outcomeConflict = "conflict"
	outcomeDenied   = "denied"
	outcomeError    = "error"
)

// actionExpire labels sweeper-initiated transitions, which are not gated
// caller actions.
const actionExpire Action = "expire"
