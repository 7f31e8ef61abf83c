// Package metrics provides Prometheus instrumentation for authenticator
// operations: setup attempts by outcome, setup duration, and credential
// operation counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all authenticator metrics
	Namespace = "authenticator"

	// Label names
	LabelStatus    = "status"
	LabelOperation = "operation"
	LabelTarget    = "target"

	// Operation names
	OpSetup            = "setup"
	OpCreateCredential = "create_credential"
	OpSign             = "sign"
)

var (
	// SetupTotal tracks setup invocations by outcome status and target kind
	// (simulated or device). The status label carries the setup outcome:
	// success, provisioning_failure, runtime_failure or unclassified.
	SetupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "setup_total",
			Help:      "Total number of setup invocations by status and target",
		},
		[]string{LabelStatus, LabelTarget},
	)

	// SetupDuration tracks end-to-end setup latency. Provisioning a fresh
	// root key dominates the upper buckets.
	SetupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "setup_duration_seconds",
			Help:      "Duration of setup invocations in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// OperationsTotal tracks credential operations by type and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of authenticator operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)
)

// RecordSetup records one setup invocation.
func RecordSetup(status string, target string, elapsed time.Duration) {
	SetupTotal.WithLabelValues(status, target).Inc()
	SetupDuration.Observe(elapsed.Seconds())
}

// RecordOperation records one credential operation.
func RecordOperation(operation, status string) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
}
