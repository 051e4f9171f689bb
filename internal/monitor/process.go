package monitor

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessOptions configures the process monitor.
type ProcessOptions struct {
	// Interval between process table snapshots. Defaults to 5s, minimum 1s.
	Interval time.Duration

	Logger *log.Logger
}

// ProcessMonitor snapshots the process table every interval and emits a
// candidate for every newly observed process. The first snapshot only
// establishes the baseline.
type ProcessMonitor struct {
	opts ProcessOptions
	out  chan<- Candidate

	known map[int32]bool
}

// NewProcessMonitor constructs a process monitor with defaults and clamps.
func NewProcessMonitor(out chan<- Candidate, opts ProcessOptions) *ProcessMonitor {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[process-monitor] ", log.LstdFlags)
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Interval < time.Second {
		opts.Interval = time.Second
	}
	return &ProcessMonitor{opts: opts, out: out}
}

func (pm *ProcessMonitor) Name() string { return "process-monitor" }

// Run starts the snapshot-diff loop until ctx is cancelled.
func (pm *ProcessMonitor) Run(ctx context.Context) error {
	for {
		if err := pm.poll(ctx); err != nil {
			// Transient /proc read failures skip the cycle and retry.
			pm.opts.Logger.Printf("snapshot failed, skipping cycle: %v", err)
		}
		if err := sleep(ctx, pm.opts.Interval); err != nil {
			return err
		}
	}
}

func (pm *ProcessMonitor) poll(ctx context.Context) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return err
	}

	current := make(map[int32]bool, len(procs))
	baseline := pm.known == nil

	for _, p := range procs {
		current[p.Pid] = true
		if baseline || pm.known[p.Pid] {
			continue
		}

		// New process since the previous snapshot. Per-process reads may
		// race with exit; emit what is still readable.
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			if name, nerr := p.NameWithContext(ctx); nerr == nil {
				cmdline = name
			}
		}
		if cmdline == "" {
			continue
		}
		user, _ := p.UsernameWithContext(ctx)

		emit(ctx, pm.out, Candidate{
			Kind:       KindProcess,
			Component:  pm.Name(),
			Target:     cmdline,
			PID:        p.Pid,
			Cmdline:    cmdline,
			User:       user,
			ObservedAt: time.Now(),
		})
	}

	pm.known = current
	return nil
}
