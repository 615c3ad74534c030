package observability

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func valueOf(t *testing.T, collector prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, collector.Write(&m))
	if m.Gauge != nil {
		return m.GetGauge().GetValue()
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_Record_Snapshot(t *testing.T) {
	req := require.New(t)
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.Record(Snapshot{Connections: 3, Rooms: 2, RSSBytes: 1024, CPUPercent: 1.5})

	req.Equal(float64(3), valueOf(t, metrics.Connections))
	req.Equal(float64(2), valueOf(t, metrics.Rooms))
	req.Equal(float64(1024), valueOf(t, metrics.ProcessRSSBytes))
	req.Equal(1.5, valueOf(t, metrics.ProcessCPU))
}

func TestMetrics_Observe_Request(t *testing.T) {
	req := require.New(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	route := "/api/messages/:userA/:userB"

	metrics.ObserveRequest(http.MethodGet, route, http.StatusOK, 5*time.Millisecond)
	metrics.ObserveRequest(http.MethodGet, route, http.StatusOK, 5*time.Millisecond)

	req.Equal(float64(2), valueOf(t, metrics.HTTPRequests.WithLabelValues(http.MethodGet, route, "200")))
}

func TestMetrics_Registering_Twice_On_One_Registry_Panics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	require.Panics(t, func() { NewMetrics(registry) })
}
