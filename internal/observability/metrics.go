package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Datagram results for the received counter.
const (
	ResultReplied = "replied"
	ResultSilent  = "silent"
	ResultDropped = "dropped"
)

var (
	registerOnce sync.Once

	datagramsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "udpkv",
			Subsystem: "datagram",
			Name:      "received_total",
			Help:      "Datagrams received, by handling result.",
		},
		[]string{"result"},
	)
	datagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "udpkv",
			Subsystem: "datagram",
			Name:      "dropped_total",
			Help:      "Datagrams dropped, by reason.",
		},
		[]string{"reason"},
	)
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "udpkv",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatched commands, by opcode and success.",
		},
		[]string{"op", "success"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "udpkv",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Dispatch duration in seconds.",
			Buckets:   []float64{1e-7, 5e-7, 1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3},
		},
		[]string{"op"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "udpkv",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests, by route, store op and status.",
		},
		[]string{"service", "route", "op", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "udpkv",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "route", "op"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(datagramsReceived, datagramsDropped, dispatchTotal, dispatchDuration, httpRequests, httpDuration)
	})
}

func RecordDatagram(result string) {
	RegisterMetrics()
	datagramsReceived.WithLabelValues(result).Inc()
}

func RecordDrop(reason string) {
	RegisterMetrics()
	datagramsDropped.WithLabelValues(reason).Inc()
}

func RecordDispatch(op string, duration time.Duration, success bool) {
	RegisterMetrics()
	dispatchTotal.WithLabelValues(op, strconv.FormatBool(success)).Inc()
	dispatchDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordHTTPRequest(service, route, op string, status int, duration time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(service, route, op, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(service, route, op).Observe(duration.Seconds())
}
