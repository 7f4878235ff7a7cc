package monitoring

import (
	"time"

	"tempvoice/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records room lifecycle metrics. Each collector registers on its
// own registry so tests can build as many as they need.
type PrometheusCollector struct {
	registry *prometheus.Registry

	roomsActive      prometheus.Gauge
	roomsCreated     prometheus.Counter
	roomsDeleted     *prometheus.CounterVec
	ownerChanges     *prometheus.CounterVec
	actions          *prometheus.CounterVec
	eventsRouted     *prometheus.CounterVec
	repairs          *prometheus.CounterVec
	platformDuration *prometheus.HistogramVec
	platformErrors   *prometheus.CounterVec
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &PrometheusCollector{
		registry: registry,

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempvoice_rooms_active",
			Help: "Number of live temporary rooms at the last reconciliation",
		}),

		roomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempvoice_rooms_created_total",
			Help: "Total number of temporary rooms created",
		}),

		roomsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempvoice_rooms_deleted_total",
			Help: "Total number of temporary rooms deleted",
		}, []string{"reason"}),

		ownerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempvoice_owner_changes_total",
			Help: "Total number of ownership changes",
		}, []string{"reason"}),

		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempvoice_actions_total",
			Help: "Control actions by action and result status",
		}, []string{"action", "status"}),

		eventsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempvoice_events_routed_total",
			Help: "Membership events by route",
		}, []string{"route"}),

		repairs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempvoice_reconciler_repairs_total",
			Help: "Reconciler repairs by kind",
		}, []string{"kind"}),

		platformDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tempvoice_platform_command_duration_seconds",
			Help:    "Latency of platform commands including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"command"}),

		platformErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempvoice_platform_command_errors_total",
			Help: "Failed platform commands",
		}, []string{"command"}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PrometheusCollector) RoomCreated() {
	c.roomsCreated.Inc()
}

func (c *PrometheusCollector) RoomDeleted(reason string) {
	c.roomsDeleted.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) OwnerChanged(reason string) {
	c.ownerChanges.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) ActionPerformed(action, status string) {
	c.actions.WithLabelValues(action, status).Inc()
}

func (c *PrometheusCollector) EventRouted(route string) {
	c.eventsRouted.WithLabelValues(route).Inc()
}

func (c *PrometheusCollector) ReconcilerRepair(kind string) {
	c.repairs.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) PlatformCommand(command string, d time.Duration, err error) {
	c.platformDuration.WithLabelValues(command).Observe(d.Seconds())
	if err != nil {
		c.platformErrors.WithLabelValues(command).Inc()
	}
}

func (c *PrometheusCollector) SetRoomsActive(n int) {
	c.roomsActive.Set(float64(n))
}
