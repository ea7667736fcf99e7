// metrics.go - Prometheus counters for the command surface.
//
// Exposed on GET /metrics. Labels stay low-cardinality: the command name
// is a closed set, nothing request-scoped ever becomes a label.
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_engine",
		Name:      "commands_applied_total",
		Help:      "Successfully applied lifecycle commands.",
	}, []string{"command"})

	guardViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visit_engine",
		Name:      "guard_violations_total",
		Help:      "Commands rejected by a status or permission guard.",
	}, []string{"command"})

	staleLosses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visit_engine",
		Name:      "stale_state_losses_total",
		Help:      "Commands that lost an optimistic-concurrency race.",
	})

	conflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visit_engine",
		Name:      "booking_conflicts_total",
		Help:      "Booking commands rejected by the conflict detector.",
	})
)
