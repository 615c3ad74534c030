package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"hr-messenger/observability"

	"github.com/shirou/gopsutil/process"
)

// Presence exposes the live connection counters of the gateway.
type Presence interface {
	ConnectionCount() int
	RoomCount() int
}

// PresenceReporter publishes connection counts and the server process footprint at a fixed interval.
type PresenceReporter struct {
	log      *slog.Logger
	presence Presence
	metrics  *observability.Metrics
	interval time.Duration
	proc     *process.Process
}

func NewPresenceReporter(log *slog.Logger, presence Presence, metrics *observability.Metrics, interval time.Duration) *PresenceReporter {
	return &PresenceReporter{log: log, presence: presence, metrics: metrics, interval: interval}
}

func (r *PresenceReporter) Run(ctx context.Context) error {
	if r.proc == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return err
		}
		r.proc = proc
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snapshot := r.Snapshot()
			r.metrics.Record(snapshot)
			r.log.Debug("Presence",
				"connections", snapshot.Connections,
				"rooms", snapshot.Rooms,
				"rss_bytes", snapshot.RSSBytes,
				"cpu_percent", snapshot.CPUPercent)
		}
	}
}

// Snapshot reads the current counters. Process figures stay zero when they cannot be read.
func (r *PresenceReporter) Snapshot() observability.Snapshot {
	snapshot := observability.Snapshot{
		Connections: r.presence.ConnectionCount(),
		Rooms:       r.presence.RoomCount(),
	}
	if r.proc == nil {
		return snapshot
	}
	if memory, err := r.proc.MemoryInfo(); err == nil {
		snapshot.RSSBytes = memory.RSS
	} else {
		r.log.Debug("Error while reading process memory", "error", err)
	}
	if cpu, err := r.proc.CPUPercent(); err == nil {
		snapshot.CPUPercent = cpu
	} else {
		r.log.Debug("Error while reading process cpu usage", "error", err)
	}
	return snapshot
}
