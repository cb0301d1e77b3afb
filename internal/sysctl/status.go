package sysctl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Status reports CPU, memory, load and uptime of the host. Metrics that
// cannot be read on this platform are left out.
func (c *Controller) Status(ctx context.Context) string {
	var lines []string

	if pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(pct) > 0 {
		lines = append(lines, fmt.Sprintf("CPU: %.1f%%", pct[0]))
	} else if err != nil {
		c.logger.Debug("cpu percent unavailable", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("Memory: %.1f%% of %.1f GiB",
			vm.UsedPercent, float64(vm.Total)/(1<<30)))
	} else {
		c.logger.Debug("memory stats unavailable", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		lines = append(lines, fmt.Sprintf("Load: %.2f %.2f %.2f", avg.Load1, avg.Load5, avg.Load15))
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("Uptime: %s", time.Duration(up)*time.Second))
	}

	if len(lines) == 0 {
		return "Error: system status unavailable."
	}
	return strings.Join(lines, "\n")
}
