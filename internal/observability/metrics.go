package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	wireRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kforge",
			Subsystem: "wire",
			Name:      "requests_total",
			Help:      "Wire requests by connection role, method and outcome.",
		},
		[]string{"role", "method", "outcome"},
	)
	wireDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kforge",
			Subsystem: "wire",
			Name:      "request_duration_seconds",
			Help:      "Wire request round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "method"},
	)
	wirePushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kforge",
			Subsystem: "wire",
			Name:      "pushes_total",
			Help:      "Unsolicited packets received.",
		},
		[]string{"role", "method"},
	)
	openConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kforge",
			Subsystem: "wire",
			Name:      "open_connections",
			Help:      "Connections currently in the ready state.",
		},
		[]string{"role"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kforge",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnects by reason.",
		},
		[]string{"reason"},
	)
	uploadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kforge",
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes streamed to trailer endpoints.",
		},
		[]string{"kind"},
	)
	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kforge",
			Subsystem: "upload",
			Name:      "attempts_total",
			Help:      "Upload attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)
	roomEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kforge",
			Subsystem: "rooms",
			Name:      "events_total",
			Help:      "Room pipeline items by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			wireRequests, wireDuration, wirePushes, openConnections,
			reconnects, uploadBytes, uploads, roomEvents,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRequest(role, method, outcome string, duration time.Duration) {
	RegisterMetrics()
	wireRequests.WithLabelValues(role, method, outcome).Inc()
	wireDuration.WithLabelValues(role, method).Observe(duration.Seconds())
}

func RecordPush(role, method string) {
	RegisterMetrics()
	wirePushes.WithLabelValues(role, method).Inc()
}

func TrackConnection(role string, delta int) {
	RegisterMetrics()
	openConnections.WithLabelValues(role).Add(float64(delta))
}

func RecordReconnect(reason string) {
	RegisterMetrics()
	reconnects.WithLabelValues(reason).Inc()
}

func RecordUploadBytes(kind string, n int) {
	RegisterMetrics()
	uploadBytes.WithLabelValues(kind).Add(float64(n))
}

func RecordUpload(kind string, success bool) {
	RegisterMetrics()
	uploads.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func RecordRoomEvent(outcome string) {
	RegisterMetrics()
	roomEvents.WithLabelValues(outcome).Inc()
}
