// Package respond maps incidents to remediation actions under the active
// protection mode and executes them idempotently.
package respond

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hostsentry/hostsentry/internal/policy"
	"github.com/hostsentry/hostsentry/internal/signature"
	"github.com/hostsentry/hostsentry/internal/store"
)

// Options configures the response engine.
type Options struct {
	// Mode is the protection mode actions are intersected with.
	Mode policy.Mode

	// QuarantineDir receives quarantined files. Defaults to
	// ./data/quarantine.
	QuarantineDir string

	// TerminateGrace is how long a process gets after SIGTERM before the
	// force-kill escalation. Defaults to 2s.
	TerminateGrace time.Duration

	Logger *log.Logger
}

// Result reports what the response engine did for one incident.
type Result struct {
	// Requested is the action the matched signatures asked for.
	Requested signature.Action
	// Executed is the action actually taken after the mode intersection.
	Executed signature.Action
	// Downgraded is true when the mode forbade the requested action.
	Downgraded bool
	// Outcome is a short human-readable description.
	Outcome string
	// Err is set when the action could not complete. The target is left
	// untouched in that case.
	Err error
}

// Engine executes remediation actions. All actions are safe to invoke twice
// on the same incident since monitors may re-observe state before a response
// completes.
type Engine struct {
	store *store.Store
	opts  Options
}

// NewEngine constructs a response engine.
func NewEngine(st *store.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[response] ", log.LstdFlags)
	}
	if opts.QuarantineDir == "" {
		opts.QuarantineDir = "./data/quarantine"
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 2 * time.Second
	}
	return &Engine{store: st, opts: opts}
}

// Mode returns the protection mode the engine enforces.
func (e *Engine) Mode() policy.Mode { return e.opts.Mode }

// Respond executes the highest permitted action for the incident. The
// incident's ActionTaken field carries the requested default action; the
// caller rewrites it from the result before persisting.
func (e *Engine) Respond(ctx context.Context, inc *store.Incident) Result {
	requested := signature.ParseAction(inc.ActionTaken)
	executed, downgraded := policy.Permit(requested, e.opts.Mode)

	res := Result{
		Requested:  requested,
		Executed:   executed,
		Downgraded: downgraded,
	}
	if downgraded {
		e.opts.Logger.Printf("action %s not permitted in mode %s, downgraded to log (target=%s)",
			requested, e.opts.Mode, inc.Target)
	}

	switch executed {
	case signature.ActionLog:
		res.Outcome = "logged"

	case signature.ActionQuarantine:
		rec, err := e.Quarantine(ctx, inc.Target, inc.Message, true)
		if err != nil {
			res.Err = fmt.Errorf("quarantine failed: %w", err)
			res.Outcome = "quarantine failed"
			break
		}
		if rec.QuarantinePath == "" {
			res.Outcome = "target removed before quarantine"
		} else {
			res.Outcome = fmt.Sprintf("quarantined to %s", rec.QuarantinePath)
		}

	case signature.ActionTerminate:
		pid := int32(inc.SystemInfo.PID)
		if err := e.Terminate(ctx, pid); err != nil {
			res.Err = fmt.Errorf("terminate failed: %w", err)
			res.Outcome = fmt.Sprintf("terminate of pid %d failed", pid)
			break
		}
		res.Outcome = fmt.Sprintf("terminated pid %d", pid)

	case signature.ActionBlock:
		// No packet-filter integration is assumed; the connection is
		// flagged, not blocked.
		res.Outcome = "connection flagged (no firewall integration configured)"
	}

	return res
}
