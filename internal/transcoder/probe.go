package transcoder

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultGPUProbeCommand is the NVIDIA management utility.
const DefaultGPUProbeCommand = "nvidia-smi"

// GPUProbe detects a GPU by running the vendor management utility.
type GPUProbe struct {
	command string
	runner  Runner
}

// NewGPUProbe creates a probe that runs command with no arguments.
func NewGPUProbe(command string, runner Runner) *GPUProbe {
	if command == "" {
		command = DefaultGPUProbeCommand
	}
	return &GPUProbe{command: command, runner: runner}
}

// HasGpuAccel runs the utility and reports whether it exited successfully.
// A missing utility and a non-zero exit both mean false.
func (p *GPUProbe) HasGpuAccel(ctx context.Context) bool {
	_, err := p.runner.Run(ctx, p.command)
	return err == nil
}

// LogicalCores returns the number of logical CPUs, falling back to the Go
// runtime's count when gopsutil cannot read it.
func LogicalCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// EncoderThreads is the CPU profile thread bound: half the logical cores,
// at least one, so sibling conversions are not starved.
func EncoderThreads(logical int) int {
	n := logical / 2
	if n < 1 {
		return 1
	}
	return n
}
