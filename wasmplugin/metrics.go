package wasmplugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the Prometheus metrics of the plugin host.
// A nil *Metrics records nothing.
type Metrics struct {
	GuestCalls    *prometheus.CounterVec
	GuestFailures *prometheus.CounterVec
	GuestTraps    *prometheus.CounterVec
	Reloads       *prometheus.CounterVec
	LoadedPlugins *prometheus.GaugeVec
}

// NewMetrics creates and registers the plugin host metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GuestCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginwasm_guest_calls_total",
				Help: "Total number of guest entry point calls by plugin kind and export",
			},
			[]string{"kind", "export"},
		),
		GuestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginwasm_guest_failures_total",
				Help: "Total number of non-zero statuses reported by guests by plugin kind and status",
			},
			[]string{"kind", "status"},
		),
		GuestTraps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginwasm_guest_traps_total",
				Help: "Total number of guest traps by plugin kind and export",
			},
			[]string{"kind", "export"},
		),
		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pluginwasm_reloads_total",
				Help: "Total number of watcher driven plugin changes by plugin kind, event and result",
			},
			[]string{"kind", "event", "result"},
		),
		LoadedPlugins: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pluginwasm_loaded_plugins",
				Help: "Number of plugins currently held by controllers by plugin kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.GuestCalls)
	reg.MustRegister(m.GuestFailures)
	reg.MustRegister(m.GuestTraps)
	reg.MustRegister(m.Reloads)
	reg.MustRegister(m.LoadedPlugins)

	return m
}

func (m *Metrics) guestCall(kind Kind, export string) {
	if m != nil {
		m.GuestCalls.WithLabelValues(kind.String(), export).Inc()
	}
}

func (m *Metrics) guestFailure(kind Kind, status Status) {
	if m != nil {
		m.GuestFailures.WithLabelValues(kind.String(), status.String()).Inc()
	}
}

func (m *Metrics) guestTrap(kind Kind, export string) {
	if m != nil {
		m.GuestTraps.WithLabelValues(kind.String(), export).Inc()
	}
}

func (m *Metrics) reload(kind Kind, event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Reloads.WithLabelValues(kind.String(), event, result).Inc()
}

func (m *Metrics) loaded(kind Kind, n int) {
	if m != nil {
		m.LoadedPlugins.WithLabelValues(kind.String()).Set(float64(n))
	}
}
