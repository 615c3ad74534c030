package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hr_messenger"

// Metrics groups the collectors of the messaging server.
// Every collector is registered on the Registerer given to NewMetrics, never on the global one.
type Metrics struct {
	MessagesStored   prometheus.Counter
	MessagesPushed   prometheus.Counter
	PushFailures     prometheus.Counter
	SendFailures     *prometheus.CounterVec
	MessagesMarked   prometheus.Counter
	Connections      prometheus.Gauge
	Rooms            prometheus.Gauge
	ProcessRSSBytes  prometheus.Gauge
	ProcessCPU       prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestTimes *prometheus.HistogramVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_stored_total",
			Help: "Direct messages persisted by the message store.",
		}),
		MessagesPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_pushed_total",
			Help: "receiveMessage frames handed to receiver connections.",
		}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_failures_total",
			Help: "Pushes dropped because a connection sink was full or gone.",
		}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "sendMessage actions rejected, by error kind.",
		}, []string{"kind"}),
		MessagesMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_marked_read_total",
			Help: "Messages flipped to read.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realtime_connections",
			Help: "Realtime connections joined to a room.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realtime_rooms",
			Help: "Users with at least one joined connection.",
		}),
		ProcessRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_rss_bytes",
			Help: "Resident memory of the server process.",
		}),
		ProcessCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_cpu_percent",
			Help: "CPU usage of the server process.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registerer.MustRegister(
		m.MessagesStored, m.MessagesPushed, m.PushFailures, m.SendFailures, m.MessagesMarked,
		m.Connections, m.Rooms, m.ProcessRSSBytes, m.ProcessCPU,
		m.HTTPRequests, m.HTTPRequestTimes,
	)
	return m
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestTimes.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Snapshot is what the presence reporter logs at each tick.
type Snapshot struct {
	Connections int
	Rooms       int
	RSSBytes    uint64
	CPUPercent  float64
}

func (m *Metrics) Record(s Snapshot) {
	m.Connections.Set(float64(s.Connections))
	m.Rooms.Set(float64(s.Rooms))
	m.ProcessRSSBytes.Set(float64(s.RSSBytes))
	m.ProcessCPU.Set(s.CPUPercent)
}
