// Package metrics holds the Prometheus collectors for the wallet service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tournament_wallet"

// Metrics groups the service collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	LedgerEntries     *prometheus.CounterVec
	Joins             *prometheus.CounterVec
	Settlements       *prometheus.CounterVec
	Decisions         *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		LedgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries written, by source and status.",
		}, []string{"source", "status"}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_joins_total",
			Help:      "Match join attempts, by outcome code.",
		}, []string{"outcome"}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_settlements_total",
			Help:      "Match settlement attempts, by outcome code.",
		}, []string{"outcome"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_decisions_total",
			Help:      "Moderation decisions, by source and decision.",
		}, []string{"source", "decision"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of wallet and match operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSince records the elapsed time of op. A nil receiver is a no-op so
// callers can run without metrics.
func (m *Metrics) ObserveSince(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Outcome returns "ok" for a nil error, otherwise the error code produced by
// code.
func Outcome(err error, code func(error) string) string {
	if err == nil {
		return "ok"
	}
	return code(err)
}

// IncJoin counts a join attempt.
func (m *Metrics) IncJoin(outcome string) {
	if m == nil {
		return
	}
	m.Joins.WithLabelValues(outcome).Inc()
}

// IncSettlement counts a settlement attempt.
func (m *Metrics) IncSettlement(outcome string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
}

// IncDecision counts a moderation decision.
func (m *Metrics) IncDecision(source, decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(source, decision).Inc()
}

// IncLedgerEntry counts a written ledger entry.
func (m *Metrics) IncLedgerEntry(source, status string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(source, status).Inc()
}

// IncHTTPRequest counts a served request. route is the matched pattern, not
// the raw path.
func (m *Metrics) IncHTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
