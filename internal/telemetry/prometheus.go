package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const robosignalNamespace string = "robosignal"

var (
	promPeersTotal   prometheus.Gauge
	promRoomsTotal   prometheus.Gauge
	promSessionTotal prometheus.Gauge

	// SignalCounter counts relayed signals by kind and outcome
	SignalCounter *prometheus.CounterVec
	// AdmissionCounter counts offers by result: admitted, rejected, error
	AdmissionCounter *prometheus.CounterVec
	// ValidationCounter counts validation attempts by result
	ValidationCounter *prometheus.CounterVec
	// ReleaseCounter counts released sessions by reason
	ReleaseCounter *prometheus.CounterVec
	// ServiceOperationCounter counts everything else: sink publishes, socket writes
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promPeersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: robosignalNamespace,
		Subsystem: "signaling",
		Name:      "peers",
	})
	promRoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: robosignalNamespace,
		Subsystem: "signaling",
		Name:      "rooms",
	})
	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: robosignalNamespace,
		Subsystem: "session",
		Name:      "total",
	})

	SignalCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: robosignalNamespace,
			Subsystem: "signaling",
			Name:      "relayed",
		},
		[]string{"kind", "status"},
	)
	AdmissionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: robosignalNamespace,
			Subsystem: "session",
			Name:      "offers",
		},
		[]string{"result"},
	)
	ValidationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: robosignalNamespace,
			Subsystem: "session",
			Name:      "validations",
		},
		[]string{"result"},
	)
	ReleaseCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: robosignalNamespace,
			Subsystem: "session",
			Name:      "released",
		},
		[]string{"reason"},
	)
	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: robosignalNamespace,
			Subsystem: "node",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(
		promPeersTotal,
		promRoomsTotal,
		promSessionTotal,
		SignalCounter,
		AdmissionCounter,
		ValidationCounter,
		ReleaseCounter,
		ServiceOperationCounter,
	)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetDirectorySize publishes the current number of peers and rooms
func SetDirectorySize(peers, rooms int) {
	promPeersTotal.Set(float64(peers))
	promRoomsTotal.Set(float64(rooms))
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}
