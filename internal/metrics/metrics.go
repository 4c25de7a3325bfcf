package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one boxd process. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reg            *prometheus.Registry
	primitiveCalls *prometheus.CounterVec
	primitiveTime  *prometheus.HistogramVec
	operations     *prometheus.CounterVec
	driverFetches  *prometheus.CounterVec
	tunnelStarts   prometheus.Counter
	buildInfo      *prometheus.GaugeVec
}

func New(version string) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		primitiveCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iotbox_primitive_calls_total",
				Help: "External OS primitive invocations by primitive and result.",
			},
			[]string{"primitive", "result"},
		),
		primitiveTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iotbox_primitive_duration_seconds",
				Help:    "Duration of external OS primitive invocations.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60},
			},
			[]string{"primitive"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iotbox_provision_operations_total",
				Help: "Provisioning operations by name and result.",
			},
			[]string{"op", "result"},
		),
		driverFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iotbox_driver_fetches_total",
				Help: "Driver archive fetches by result.",
			},
			[]string{"result"},
		),
		tunnelStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iotbox_tunnel_starts_total",
			Help: "Remote debugging tunnels started.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iotbox_build_info",
			Help: "Build info of boxd.",
		}, []string{"version"}),
	}
	m.reg.MustRegister(m.primitiveCalls, m.primitiveTime, m.operations, m.driverFetches, m.tunnelStarts, m.buildInfo)
	m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.buildInfo.WithLabelValues(version).Set(1)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePrimitive(name string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.primitiveCalls.WithLabelValues(name, result(err)).Inc()
	m.primitiveTime.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) Operation(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) DriverFetch(res string) {
	if m == nil {
		return
	}
	m.driverFetches.WithLabelValues(res).Inc()
}

func (m *Metrics) TunnelStarted() {
	if m == nil {
		return
	}
	m.tunnelStarts.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
