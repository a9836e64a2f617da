// Package metrics holds the Prometheus collectors of the voting client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voting_client"

type Metrics struct {
	reads         *prometheus.CounterVec
	coalesced     *prometheus.CounterVec
	readFailures  *prometheus.CounterVec
	discarded     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	mutations     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_reads_total",
			Help:      "Remote ledger reads issued by the query cache",
		}, []string{"query"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_reads_total",
			Help:      "Query requests served by joining an in-flight read",
		}, []string{"query"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Remote reads that returned an error",
		}, []string{"query"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_reads_total",
			Help:      "Read results dropped because a newer read superseded them",
		}, []string{"query"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Cache entries invalidated after confirmed mutations",
		}, []string{"query"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Mutation attempts by operation and terminal outcome",
		}, []string{"operation", "outcome"}),
	}
	for _, c := range []prometheus.Collector{m.reads, m.coalesced, m.readFailures, m.discarded, m.invalidations, m.mutations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveRead(query string) {
	if m != nil {
		m.reads.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) ObserveCoalesced(query string) {
	if m != nil {
		m.coalesced.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) ObserveReadFailure(query string) {
	if m != nil {
		m.readFailures.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) ObserveDiscarded(query string) {
	if m != nil {
		m.discarded.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) ObserveInvalidation(query string) {
	if m != nil {
		m.invalidations.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) ObserveMutation(operation, outcome string) {
	if m != nil {
		m.mutations.WithLabelValues(operation, outcome).Inc()
	}
}
