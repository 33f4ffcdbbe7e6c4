package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"chat-relay/observability"

	"github.com/shirou/gopsutil/process"
)

// HeartbeatWorker periodically logs process health (RSS, CPU) together
// with the relay counters. It is observability only: nothing reads its
// output programmatically.
type HeartbeatWorker struct {
	log      *slog.Logger
	interval time.Duration
	stats    *observability.RelayStats
}

func NewHeartbeatWorker(log *slog.Logger, interval time.Duration,
	stats *observability.RelayStats) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, interval: interval, stats: stats}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Warn("failed to collect self stats", "error", err)
				continue
			}
			snapshot := w.stats.Snapshot()
			w.log.Info("relay heartbeat",
				"rss_bytes", rss,
				"cpu_percent", cpu,
				"sessions_joined", snapshot.SessionsJoined,
				"sessions_left", snapshot.SessionsLeft,
				"sessions_evicted", snapshot.SessionsEvicted,
				"messages_relayed", snapshot.MessagesRelayed,
				"private_messages", snapshot.PrivateMessages,
				"routing_misses", snapshot.RoutingMisses,
				"deliveries_dropped", snapshot.DeliveriesDropped,
				"persist_failures", snapshot.PersistFailures,
				"persist_dropped", snapshot.PersistDropped,
			)
		}
	}
}

// selfStats retrieves memory and CPU usage for the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
