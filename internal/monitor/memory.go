package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryOptions configures the CPU and memory utilization monitor.
type MemoryOptions struct {
	// Interval between samples. Defaults to 30s, minimum 1s.
	Interval time.Duration

	// CPUThreshold and MemThreshold are utilization percentages. Defaults
	// are 90. The policy layer scales them down for paranoid levels.
	CPUThreshold float64
	MemThreshold float64

	Logger *log.Logger
}

// MemoryMonitor samples CPU and memory utilization and emits a candidate
// only after two consecutive over-threshold samples, so a single spike never
// triggers an alert.
type MemoryMonitor struct {
	opts MemoryOptions
	out  chan<- Candidate

	cpuOver bool
	memOver bool
}

// NewMemoryMonitor constructs a resource monitor with defaults and clamps.
func NewMemoryMonitor(out chan<- Candidate, opts MemoryOptions) *MemoryMonitor {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[memory-monitor] ", log.LstdFlags)
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Interval < time.Second {
		opts.Interval = time.Second
	}
	if opts.CPUThreshold <= 0 {
		opts.CPUThreshold = 90
	}
	if opts.MemThreshold <= 0 {
		opts.MemThreshold = 90
	}
	return &MemoryMonitor{opts: opts, out: out}
}

func (mm *MemoryMonitor) Name() string { return "memory-monitor" }

// Run starts the sampling loop until ctx is cancelled.
func (mm *MemoryMonitor) Run(ctx context.Context) error {
	for {
		if err := mm.sample(ctx); err != nil {
			mm.opts.Logger.Printf("sample failed, skipping cycle: %v", err)
		}
		if err := sleep(ctx, mm.opts.Interval); err != nil {
			return err
		}
	}
}

func (mm *MemoryMonitor) sample(ctx context.Context) error {
	cpuPcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}

	if len(cpuPcts) > 0 {
		mm.cpuOver = mm.debounce(ctx, "cpu", cpuPcts[0], mm.opts.CPUThreshold, mm.cpuOver)
	}
	mm.memOver = mm.debounce(ctx, "memory", vm.UsedPercent, mm.opts.MemThreshold, mm.memOver)
	return nil
}

// debounce emits only on the second consecutive over-threshold sample and
// returns the new over-threshold state.
func (mm *MemoryMonitor) debounce(ctx context.Context, metric string, value, threshold float64, wasOver bool) bool {
	if value < threshold {
		return false
	}
	if !wasOver {
		// First spike; wait for confirmation next sample.
		return true
	}
	emit(ctx, mm.out, Candidate{
		Kind:       KindMemory,
		Component:  mm.Name(),
		Target:     metric,
		Metric:     metric,
		Percent:    value,
		Reason:     fmt.Sprintf("%s utilization %.1f%% above threshold %.1f%% for two consecutive samples", metric, value, threshold),
		ObservedAt: time.Now(),
	})
	return true
}
