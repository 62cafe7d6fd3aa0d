package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dashboard's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Reads        *prometheus.CounterVec
	Transactions *prometheus.CounterVec
	Connects     *prometheus.CounterVec
	RefreshToken prometheus.Gauge

	registry *prometheus.Registry
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plstrdash_reads_total",
			Help: "Contract reads by operation and result.",
		}, []string{"op", "result"}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plstrdash_transactions_total",
			Help: "Submitted transactions by kind and terminal status.",
		}, []string{"kind", "status"}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plstrdash_connect_total",
			Help: "Connection attempts by mode and result.",
		}, []string{"mode", "result"}),
		RefreshToken: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plstrdash_refresh_token",
			Help: "Current refresh token value.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.Reads, m.Transactions, m.Connects, m.RefreshToken)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordRead(op string, err error) {
	if m == nil {
		return
	}
	m.Reads.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) RecordTransaction(kind, status string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordConnect(mode string, err error) {
	if m == nil {
		return
	}
	m.Connects.WithLabelValues(mode, result(err)).Inc()
}

func (m *Metrics) SetRefreshToken(v uint64) {
	if m == nil {
		return
	}
	m.RefreshToken.Set(float64(v))
}
