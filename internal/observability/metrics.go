package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "binlink"

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "frames_total",
			Help:      "Frames moved over binary channels.",
		},
		[]string{"mode", "direction", "opcode"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "bytes_total",
			Help:      "Wire bytes moved over binary channels, frame headers included.",
		},
		[]string{"mode", "direction"},
	)
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "transfers_total",
			Help:      "Completed transfers by side and outcome.",
		},
		[]string{"mode", "side", "outcome"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "send_duration_seconds",
			Help:      "Time from descriptor write to terminal acknowledgement.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"mode", "outcome"},
	)
	openChannels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "open",
			Help:      "Binary channels currently connected.",
		},
		[]string{"mode"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal,
			frameBytes,
			transfersTotal,
			sendDuration,
			openChannels,
			httpRequests,
			httpDuration,
		)
	})
}

// RecordFrame counts one frame of n wire bytes. direction is "in" or "out".
func RecordFrame(mode, direction, opcode string, n int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(mode, direction, opcode).Inc()
	frameBytes.WithLabelValues(mode, direction).Add(float64(n))
}

// RecordTransfer counts a retired transfer. side is "send" or "receive".
func RecordTransfer(mode, side, outcome string) {
	RegisterMetrics()
	transfersTotal.WithLabelValues(mode, side, outcome).Inc()
}

func ObserveSend(mode, outcome string, d time.Duration) {
	RegisterMetrics()
	sendDuration.WithLabelValues(mode, outcome).Observe(d.Seconds())
}

func ChannelOpened(mode string) {
	RegisterMetrics()
	openChannels.WithLabelValues(mode).Inc()
}

func ChannelClosed(mode string) {
	RegisterMetrics()
	openChannels.WithLabelValues(mode).Dec()
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}
