package respond

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Terminate sends a graceful terminate signal to the process, waits the
// configured grace period, and force-kills if it is still alive. A process
// that already exited is a success (idempotent).
func (e *Engine) Terminate(ctx context.Context, pid int32) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		// Already gone.
		e.opts.Logger.Printf("pid %d already exited", pid)
		return nil
	}

	if err := p.TerminateWithContext(ctx); err != nil {
		if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
			return nil
		}
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	e.opts.Logger.Printf("sent terminate to pid %d, waiting %s", pid, e.opts.TerminateGrace)

	deadline := time.Now().Add(e.opts.TerminateGrace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	// Grace period expired; escalate.
	e.opts.Logger.Printf("pid %d still alive after grace period, force-killing", pid)
	if err := p.KillWithContext(ctx); err != nil {
		if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
			return nil
		}
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	return nil
}
