package respond

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"
)

// SandboxResult reports how an isolated execution went, including which
// isolation strategy ran and whether the chain degraded past real isolation.
type SandboxResult struct {
	Strategy string `json:"strategy"`
	Degraded bool   `json:"degraded"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
	Output   string `json:"output,omitempty"`
	Err      error  `json:"-"`
}

// sandboxStrategy is one isolation primitive in the fallback chain.
type sandboxStrategy struct {
	name string
	// degraded marks strategies that provide no real isolation.
	degraded bool
	// wrap builds the command line for the strategy, or returns false when
	// the tool is unavailable on this host.
	wrap func(argv []string) ([]string, bool)
}

// sandboxChain is evaluated in order; the first available strategy wins.
// The chain ends in unrestricted execution, with that degradation recorded
// in the result rather than silently swallowed.
var sandboxChain = []sandboxStrategy{
	{
		name: "bwrap",
		wrap: func(argv []string) ([]string, bool) {
			path, err := exec.LookPath("bwrap")
			if err != nil {
				return nil, false
			}
			wrapped := []string{path,
				"--ro-bind", "/", "/",
				"--dev", "/dev",
				"--tmpfs", "/tmp",
				"--unshare-net",
				"--unshare-pid",
				"--die-with-parent",
				"--"}
			return append(wrapped, argv...), true
		},
	},
	{
		name: "firejail",
		wrap: func(argv []string) ([]string, bool) {
			path, err := exec.LookPath("firejail")
			if err != nil {
				return nil, false
			}
			wrapped := []string{path, "--quiet", "--net=none", "--private-tmp", "--"}
			return append(wrapped, argv...), true
		},
	},
	{
		name:     "unrestricted",
		degraded: true,
		wrap: func(argv []string) ([]string, bool) {
			return argv, true
		},
	},
}

// DefaultSandboxTimeout bounds a sandboxed command's wall-clock runtime.
const DefaultSandboxTimeout = 60 * time.Second

// RunSandboxed executes argv under the best available isolation primitive
// with an overall wall-clock timeout. On timeout the child is force-killed
// and the attempt recorded as failed, not hung.
func RunSandboxed(ctx context.Context, logger *log.Logger, timeout time.Duration, argv []string) SandboxResult {
	if logger == nil {
		logger = log.New(log.Writer(), "[sandbox] ", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = DefaultSandboxTimeout
	}
	if len(argv) == 0 {
		return SandboxResult{Err: fmt.Errorf("no command given")}
	}

	for _, strat := range sandboxChain {
		wrapped, ok := strat.wrap(argv)
		if !ok {
			logger.Printf("isolation strategy %s unavailable, trying next", strat.name)
			continue
		}
		if strat.degraded {
			logger.Printf("no isolation primitive available, running %q unrestricted", argv[0])
		} else {
			logger.Printf("running %q under %s (timeout %s)", argv[0], strat.name, timeout)
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, wrapped[0], wrapped[1:]...)
		var buf bytes.Buffer
		cmd.Stdout = &buf
		cmd.Stderr = &buf

		err := cmd.Run()
		res := SandboxResult{
			Strategy: strat.name,
			Degraded: strat.degraded,
			Output:   buf.String(),
		}
		if runCtx.Err() == context.DeadlineExceeded {
			res.TimedOut = true
			res.ExitCode = -1
			res.Err = fmt.Errorf("command timed out after %s and was killed", timeout)
			return res
		}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				res.ExitCode = exitErr.ExitCode()
			} else {
				res.ExitCode = -1
			}
			res.Err = err
			return res
		}
		return res
	}

	return SandboxResult{Err: fmt.Errorf("no executable isolation strategy")}
}
