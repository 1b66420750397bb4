package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"audio-extractor/internal/transcoder"
	"audio-extractor/pkg/models"
)

// ToolLocator resolves the transcoder binary.
type ToolLocator interface {
	Path() (string, error)
}

// GPUProber detects GPU acceleration.
type GPUProber interface {
	HasGpuAccel(ctx context.Context) bool
}

// SystemMonitor gathers the host facts that decide how conversions run.
type SystemMonitor struct {
	tool ToolLocator
	gpu  GPUProber

	// sampling window for CPU load
	cpuWindow time.Duration
}

func NewSystemMonitor(tool ToolLocator, gpu GPUProber) *SystemMonitor {
	return &SystemMonitor{
		tool:      tool,
		gpu:       gpu,
		cpuWindow: 500 * time.Millisecond,
	}
}

// Report probes the tool, the GPU and the machine. Every value is read
// fresh; nothing is cached between calls.
func (m *SystemMonitor) Report(ctx context.Context) (models.SystemReport, error) {
	report := models.SystemReport{}

	if path, err := m.tool.Path(); err == nil {
		report.FFmpegPath = path
		report.ToolAvailable = true
	}
	report.GPUAvailable = m.gpu.HasGpuAccel(ctx)

	// 1. CPU identity
	infos, err := cpu.InfoWithContext(ctx)
	if err == nil && len(infos) > 0 {
		report.CPUModel = infos[0].ModelName
	}
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil || logical < 1 {
		logical = transcoder.LogicalCores()
	}
	report.LogicalCores = logical
	report.EncoderThreads = transcoder.EncoderThreads(logical)

	// 2. Memory
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to get mem stats: %w", err)
	}
	report.RAMFreeBytes = v.Available
	report.RAMUsedPercent = v.UsedPercent

	// 3. CPU load sampled over cpuWindow
	cpuPct, err := cpu.PercentWithContext(ctx, m.cpuWindow, false)
	if err != nil {
		return report, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		report.CPUUsagePercent = cpuPct[0]
	}

	return report, nil
}
