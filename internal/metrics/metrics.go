// Package metrics registers the agent's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckInOutcomes counts finished check-in steps by outcome label.
	CheckInOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ontime",
		Name:      "checkin_outcomes_total",
		Help:      "Check-in flow results by outcome.",
	}, []string{"outcome"})

	// PollTicks counts participant location poll ticks by result.
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ontime",
		Name:      "location_poll_ticks_total",
		Help:      "Participant location fetches by result.",
	}, []string{"result"})

	// ReportTicks counts self location reports by result.
	ReportTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ontime",
		Name:      "location_report_ticks_total",
		Help:      "Own location reports by result.",
	}, []string{"result"})

	// Refreshes counts full refreshes by result.
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ontime",
		Name:      "refreshes_total",
		Help:      "Aggregate state refreshes by result.",
	}, []string{"result"})

	// Triggers counts check-in triggers by source.
	Triggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ontime",
		Name:      "checkin_triggers_total",
		Help:      "Check-in triggers received by source.",
	}, []string{"source"})
)

// Result maps an error to the "ok"/"error" label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
