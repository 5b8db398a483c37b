package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ukydev/atm-dispatch/internal/models"
)

// Ticket outcomes recorded by Metrics.
const (
	OutcomeAssigned     = "assigned"
	OutcomePending      = "pending"
	OutcomeDeduplicated = "deduplicated"
	OutcomeFailed       = "failed"
)

// Metrics records dispatch activity in Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	tickets        *prometheus.CounterVec
	claimConflicts prometheus.Counter
	matchLatency   prometheus.Histogram
	resolutionMins prometheus.Histogram
}

// NewMetrics registers dispatch metrics on reg.
// A nil registerer defaults to the global Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tickets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atm_dispatch_tickets_total",
		Help: "Dispatch tickets by fault type, severity and outcome",
	}, []string{"fault_type", "severity", "outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atm_dispatch_claim_conflicts_total",
		Help: "Engineer claims lost to a concurrent dispatch",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atm_dispatch_match_duration_seconds",
		Help:    "Time spent ranking and claiming an engineer",
		Buckets: prometheus.DefBuckets,
	})
	resolution := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atm_dispatch_resolution_minutes",
		Help:    "Reported resolution time per ticket",
		Buckets: []float64{15, 30, 60, 120, 240, 480, 1440},
	})

	var err error
	if tickets, err = register(reg, tickets); err != nil {
		return nil, err
	}
	if conflicts, err = register(reg, conflicts); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if resolution, err = register(reg, resolution); err != nil {
		return nil, err
	}
	return &Metrics{tickets: tickets, claimConflicts: conflicts, matchLatency: latency, resolutionMins: resolution}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) recordTicket(fault models.FaultType, severity models.Severity, outcome string) {
	if m == nil {
		return
	}
	m.tickets.WithLabelValues(string(fault), string(severity), outcome).Inc()
}

func (m *Metrics) recordClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *Metrics) observeMatch(d time.Duration) {
	if m == nil {
		return
	}
	m.matchLatency.Observe(d.Seconds())
}

func (m *Metrics) observeResolution(minutes int) {
	if m == nil {
		return
	}
	m.resolutionMins.Observe(float64(minutes))
}
