package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-relay/contract"
)

// HealthMonitor periodically logs process health (RSS, CPU, OS status) and
// the live connection count. Purely observational; it never mutates state.
type HealthMonitor struct {
	log      *slog.Logger
	registry contract.IRegistry
	interval time.Duration
}

func NewHealthMonitor(log *slog.Logger, registry contract.IRegistry, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{log: log, registry: registry, interval: interval}
}

func (w *HealthMonitor) Run(ctx context.Context) error {
	w.log.Info("Starting health monitor")
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
			rss, cpu, status, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Health",
				"online", len(w.registry.Snapshot()),
				"ram_bytes", rss,
				"cpu_percent", cpu,
				"pid_status", status,
			)
		}
	}
}

func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
