// Package metrics defines the Prometheus collectors for the session client.
//
// Metric naming follows Prometheus conventions:
//   - crm_session_ prefix for all metrics
//   - _total suffix for counters
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crm_session"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RefreshTotal counts token refresh attempts by outcome.
	RefreshTotal *prometheus.CounterVec
	// CacheLookupsTotal counts permission cache reads by result.
	CacheLookupsTotal *prometheus.CounterVec
	// FetchTotal counts permission fetches by outcome.
	FetchTotal *prometheus.CounterVec
	// NotificationsTotal counts pushed notification events by kind.
	NotificationsTotal *prometheus.CounterVec
	// ForcedLogoutsTotal counts forced-logout pushes by disposition.
	ForcedLogoutsTotal *prometheus.CounterVec
	// NotifyConnected is 1 while the notification channel is connected.
	NotifyConnected prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Total token refresh attempts by outcome.",
			},
			[]string{"outcome"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permissions_cache_lookups_total",
				Help:      "Total permission cache reads by result.",
			},
			[]string{"result"},
		),
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permissions_fetch_total",
				Help:      "Total permission fetches by outcome.",
			},
			[]string{"outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total notification events received by kind.",
			},
			[]string{"event"},
		),
		ForcedLogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forced_logouts_total",
				Help:      "Total forced-logout pushes by disposition.",
			},
			[]string{"disposition"},
		),
		NotifyConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notify_connected",
				Help:      "Whether the notification channel is connected.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.RefreshTotal,
			m.CacheLookupsTotal,
			m.FetchTotal,
			m.NotificationsTotal,
			m.ForcedLogoutsTotal,
			m.NotifyConnected,
		)
	}
	return m
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Fetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(event string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) ForcedLogout(disposition string) {
	if m == nil {
		return
	}
	m.ForcedLogoutsTotal.WithLabelValues(disposition).Inc()
}

func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.NotifyConnected.Set(1)
		return
	}
	m.NotifyConnected.Set(0)
}
