package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modbatt"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "frames_received_total",
			Help:      "Frames decoded and applied, by message class.",
		},
		[]string{"class"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded by the receive path, by reason.",
		},
		[]string{"reason"},
	)
	txFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "tx_failures_total",
			Help:      "Sends that exhausted their attempt budget.",
		},
		[]string{"class"},
	)
	chunkAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunk_attempts_total",
			Help:      "Chunk transmissions, by outcome.",
		},
		[]string{"base", "outcome"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "transfers_total",
			Help:      "Completed transfer sessions, by status.",
		},
		[]string{"base", "status"},
	)
	linkConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connected",
			Help:      "1 while the peer link is up.",
		},
		[]string{"link"},
	)
	linkTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "disconnects_total",
			Help:      "Connected to disconnected transitions.",
		},
		[]string{"link"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesReceived, framesDropped, txFailures,
			chunkAttempts, transfers,
			linkConnected, linkTransitions,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(class string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(class).Inc()
}

// Drop reasons.
const (
	DropUnknown    = "unknown"
	DropRange      = "range"
	DropMalformed  = "malformed"
	DropUnexpected = "unexpected"
)

func RecordDrop(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func RecordTxFailure(class string) {
	RegisterMetrics()
	txFailures.WithLabelValues(class).Inc()
}

func RecordChunkAttempt(base uint32, outcome string) {
	RegisterMetrics()
	chunkAttempts.WithLabelValues(baseLabel(base), outcome).Inc()
}

func RecordTransfer(base uint32, status string) {
	RegisterMetrics()
	transfers.WithLabelValues(baseLabel(base), status).Inc()
}

func RecordLink(name string, connected bool) {
	RegisterMetrics()
	v := 0.0
	if connected {
		v = 1
	}
	linkConnected.WithLabelValues(name).Set(v)
}

func RecordDisconnect(name string) {
	RegisterMetrics()
	linkTransitions.WithLabelValues(name).Inc()
	linkConnected.WithLabelValues(name).Set(0)
}

func baseLabel(base uint32) string {
	return "0x" + strconv.FormatUint(uint64(base), 16)
}
