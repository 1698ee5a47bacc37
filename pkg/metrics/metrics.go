package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playroom_rooms_active",
			Help: "Number of rooms currently loaded in memory",
		},
	)

	SubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playroom_subscribers_total",
			Help: "Total number of live cross-room subscribers across all rooms",
		},
	)

	SyncConnectionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playroom_sync_connections_total",
			Help: "Number of open sync WebSocket connections by room",
		},
		[]string{"room_id"},
	)

	BridgeRPCsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playroom_bridge_rpcs_total",
			Help: "Total number of bridge RPCs by operation and result",
		},
		[]string{"op", "result"},
	)

	BridgeRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playroom_bridge_rpc_duration_seconds",
			Help:    "Bridge RPC duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	AutosaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playroom_autosave_duration_seconds",
			Help:    "Time taken to autosave a room's document in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AutosaveSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playroom_autosave_skipped_total",
			Help: "Total number of autosaves skipped, by reason",
		},
		[]string{"reason"},
	)

	AlarmPrunesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playroom_alarm_prunes_total",
			Help: "Total number of entries pruned by the lease alarm, by kind",
		},
		[]string{"kind"},
	)

	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playroom_admin_requests_total",
			Help: "Total number of admin control plane requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(RoomsActive)
	prometheus.MustRegister(SubscribersTotal)
	prometheus.MustRegister(SyncConnectionsTotal)
	prometheus.MustRegister(BridgeRPCsTotal)
	prometheus.MustRegister(BridgeRPCDuration)
	prometheus.MustRegister(AutosaveDuration)
	prometheus.MustRegister(AutosaveSkippedTotal)
	prometheus.MustRegister(AlarmPrunesTotal)
	prometheus.MustRegister(AdminRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
