package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"mediaconv/pkg/models"
)

// Busy thresholds; a host above either one is reported busy.
const (
	BusyCPUPercent = 80.0
	BusyRAMPercent = 90.0

	// MaxDefaultThreads caps the thread count handed to jobs that set none.
	MaxDefaultThreads = 8
)

type SystemMonitor struct {
	sample time.Duration

	memPercent func(ctx context.Context) (float64, error)
	cpuPercent func(ctx context.Context, interval time.Duration) (float64, error)
	cpuCount   func(ctx context.Context) (int, error)

	once  sync.Once
	cores int
}

// NewSystemMonitor creates a monitor that measures CPU usage over sample.
func NewSystemMonitor(sample time.Duration) *SystemMonitor {
	if sample <= 0 {
		sample = 500 * time.Millisecond
	}
	return &SystemMonitor{
		sample:     sample,
		memPercent: virtualMemoryPercent,
		cpuPercent: totalCPUPercent,
		cpuCount:   logicalCores,
	}
}

// CPUCount returns the number of logical cores. It is looked up once; when
// gopsutil cannot tell, the Go runtime's count is used.
func (m *SystemMonitor) CPUCount(ctx context.Context) int {
	m.once.Do(func() {
		n, err := m.cpuCount(ctx)
		if err != nil || n < 1 {
			n = runtime.NumCPU()
		}
		m.cores = n
	})
	return m.cores
}

// DefaultThreads is the encoder thread count for jobs that do not set one.
func (m *SystemMonitor) DefaultThreads(ctx context.Context) int {
	return min(m.CPUCount(ctx), MaxDefaultThreads)
}

// GetStats gathers real-time CPU and RAM usage.
func (m *SystemMonitor) GetStats(ctx context.Context) (models.HostStats, error) {
	stats := models.HostStats{CPUCount: m.CPUCount(ctx)}

	// 1. Memory
	ram, err := m.memPercent(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMPercent = ram

	// 2. CPU over the sample window; an instantaneous reading is too noisy.
	cpuPct, err := m.cpuPercent(ctx, m.sample)
	if err != nil {
		return stats, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	stats.CPUPercent = cpuPct

	stats.IsBusy = stats.CPUPercent > BusyCPUPercent || stats.RAMPercent > BusyRAMPercent
	return stats, nil
}

func virtualMemoryPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

func totalCPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

func logicalCores(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}
