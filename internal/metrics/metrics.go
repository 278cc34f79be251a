package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger engine operations by result",
		},
		[]string{"operation", "result"},
	)
	FlowEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_events_total",
			Help: "Session events handled, by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)
	RateLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_lookups_total",
			Help: "Currency rate lookups by result",
		},
		[]string{"result"},
	)
	IntegrityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_checks_total",
			Help: "Account integrity verifications by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(LedgerOperations)
	prometheus.MustRegister(FlowEvents)
	prometheus.MustRegister(RateLookups)
	prometheus.MustRegister(IntegrityChecks)
}

// Result maps an error to a metric label
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
