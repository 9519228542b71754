package session

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hostfleet/orchestrator/internal/wire"
)

// collectHeartbeat samples this host's resource usage for the periodic
// status report, per spec.md §3's Server.Metrics fields.
func collectHeartbeat(ctx context.Context) wire.Heartbeat {
	hb := wire.Heartbeat{At: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		hb.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hb.MemoryUsed = vm.Used
		hb.MemoryTotal = vm.Total
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		hb.DiskUsed = du.Used
		hb.DiskTotal = du.Total
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		hb.LoadAverage = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}
	return hb
}
