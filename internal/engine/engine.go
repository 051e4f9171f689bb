// Package engine supervises the monitor loops and drains their candidates
// through detection and response into the incident log.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hostsentry/hostsentry/internal/bus"
	"github.com/hostsentry/hostsentry/internal/detect"
	"github.com/hostsentry/hostsentry/internal/metrics"
	"github.com/hostsentry/hostsentry/internal/monitor"
	"github.com/hostsentry/hostsentry/internal/policy"
	"github.com/hostsentry/hostsentry/internal/respond"
	"github.com/hostsentry/hostsentry/internal/signature"
	"github.com/hostsentry/hostsentry/internal/store"
)

// Options configures a monitoring engine run.
type Options struct {
	Level policy.Level
	Mode  policy.Mode

	// WatchDirs are the directories the file monitor covers.
	WatchDirs []string

	// Poll intervals per monitor; zero values use each monitor's default.
	FileInterval    time.Duration
	ProcessInterval time.Duration
	NetworkInterval time.Duration
	MemoryInterval  time.Duration

	SuspiciousPorts []uint32
	NetworkCooldown time.Duration

	CPUThreshold float64
	MemThreshold float64

	DedupWindow    time.Duration
	QuarantineDir  string
	TerminateGrace time.Duration

	// RetentionDays governs the periodic destructive purge; 0 disables it.
	RetentionDays int
	// CleanupInterval is how often the retention pass runs. Defaults to 1h.
	CleanupInterval time.Duration

	Logger *log.Logger
}

// Engine owns the signature store, policy, metrics, and incident store, and
// supervises the monitor goroutines.
type Engine struct {
	sigs    *signature.Store
	store   *store.Store
	metrics *metrics.Store
	bus     bus.Bus

	detector  *detect.Engine
	responder *respond.Engine

	opts    Options
	enabled policy.EnabledMonitors
	logger  *log.Logger
}

// New wires an engine together. The protection mode is floored by the level
// before anything else consults it.
func New(sigs *signature.Store, st *store.Store, ms *metrics.Store, b bus.Bus, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	if b == nil {
		b = bus.NewNullBus(opts.Logger)
	}

	opts.Mode = policy.FloorMode(opts.Level, opts.Mode)
	enabled := policy.Resolve(opts.Level)

	// Paranoid levels lower the alert thresholds across the board.
	cpuThresh := opts.CPUThreshold
	if cpuThresh <= 0 {
		cpuThresh = 90
	}
	memThresh := opts.MemThreshold
	if memThresh <= 0 {
		memThresh = 90
	}
	opts.CPUThreshold = cpuThresh * enabled.ThresholdScale
	opts.MemThreshold = memThresh * enabled.ThresholdScale

	return &Engine{
		sigs:    sigs,
		store:   st,
		metrics: ms,
		bus:     b,
		detector: detect.NewEngine(sigs, detect.Options{
			DedupWindow: opts.DedupWindow,
			Logger:      opts.Logger,
		}),
		responder: respond.NewEngine(st, respond.Options{
			Mode:           opts.Mode,
			QuarantineDir:  opts.QuarantineDir,
			TerminateGrace: opts.TerminateGrace,
			Logger:         opts.Logger,
		}),
		opts:    opts,
		enabled: enabled,
		logger:  opts.Logger,
	}
}

// Mode returns the effective protection mode after level flooring.
func (e *Engine) Mode() policy.Mode { return e.responder.Mode() }

// Enabled reports which monitors the level turned on.
func (e *Engine) Enabled() policy.EnabledMonitors { return e.enabled }

// Run starts every enabled monitor as a supervised goroutine and consumes
// candidates until ctx is cancelled. All monitors are joined before return.
func (e *Engine) Run(ctx context.Context) error {
	candidates := make(chan monitor.Candidate, 256)

	var monitors []monitor.Monitor
	if e.enabled.File {
		monitors = append(monitors, monitor.NewFileMonitor(candidates, monitor.FileOptions{
			Dirs:     e.opts.WatchDirs,
			Interval: e.opts.FileInterval,
		}))
	}
	if e.enabled.Process {
		monitors = append(monitors, monitor.NewProcessMonitor(candidates, monitor.ProcessOptions{
			Interval: e.opts.ProcessInterval,
		}))
	}
	if e.enabled.Network {
		monitors = append(monitors, monitor.NewNetworkMonitor(candidates, monitor.NetworkOptions{
			Interval:        e.opts.NetworkInterval,
			SuspiciousPorts: e.opts.SuspiciousPorts,
			Cooldown:        e.opts.NetworkCooldown,
			DenyCheck:       e.sigs.MatchIPBlacklist,
		}))
	}
	if e.enabled.Memory {
		monitors = append(monitors, monitor.NewMemoryMonitor(candidates, monitor.MemoryOptions{
			Interval:     e.opts.MemoryInterval,
			CPUThreshold: e.opts.CPUThreshold,
			MemThreshold: e.opts.MemThreshold,
		}))
	}

	if len(monitors) == 0 {
		return fmt.Errorf("no monitors enabled for level %s", e.opts.Level)
	}

	e.logger.Printf("starting %d monitors (level=%s mode=%s)", len(monitors), e.opts.Level, e.Mode())

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m monitor.Monitor) {
			defer wg.Done()
			if err := m.Run(ctx); err != nil && err != context.Canceled {
				e.logger.Printf("%s stopped: %v", m.Name(), err)
			}
		}(m)
	}

	cleanup := time.NewTicker(e.opts.CleanupInterval)
	defer cleanup.Stop()

	// Single consumer: the only writer into the store, metrics, and bus.
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.logger.Printf("all monitors stopped")
			return ctx.Err()
		case c := <-candidates:
			e.handle(ctx, c)
		case <-cleanup.C:
			e.runRetention(ctx)
		}
	}
}

// handle takes one candidate through detect -> respond -> persist.
func (e *Engine) handle(ctx context.Context, c monitor.Candidate) {
	inc := e.detector.Evaluate(ctx, c)
	if inc == nil {
		return
	}

	res := e.responder.Respond(ctx, inc)
	inc.ActionTaken = string(res.Executed)
	inc.Downgraded = res.Downgraded
	if res.Outcome != "" {
		inc.Message = inc.Message + " - " + res.Outcome
	}

	id, err := e.store.AppendIncident(ctx, *inc)
	if err != nil {
		e.logger.Printf("failed to record incident: %v", err)
		return
	}
	inc.ID = id
	e.metrics.Inc(string(c.Kind))
	e.publish(ctx, inc)

	// A failed remediation is an incident of its own so operators see both
	// the detection and the failure.
	if res.Err != nil {
		failure := store.Incident{
			Timestamp:  time.Now(),
			Level:      signature.SeverityHigh,
			Component:  "response-engine",
			Message:    fmt.Sprintf("response failure for %s: %v", id, res.Err),
			Target:     inc.Target,
			RuleIDs:    []string{"response-failure"},
			SystemInfo: inc.SystemInfo,
		}
		if fid, err := e.store.AppendIncident(ctx, failure); err == nil {
			failure.ID = fid
			e.publish(ctx, &failure)
		} else {
			e.logger.Printf("failed to record response failure: %v", err)
		}
	}
}

func (e *Engine) publish(ctx context.Context, inc *store.Incident) {
	raw, err := json.Marshal(inc)
	if err != nil {
		return
	}
	_ = e.bus.PublishIncident(ctx, bus.IncidentMessage{
		IncidentID: inc.ID,
		Level:      string(inc.Level),
		Component:  inc.Component,
		Message:    inc.Message,
		RawJSON:    string(raw),
		Timestamp:  inc.Timestamp.Unix(),
	})
}

func (e *Engine) runRetention(ctx context.Context) {
	if e.opts.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(e.opts.RetentionDays) * 24 * time.Hour
	incidents, quarantined, err := e.store.PurgeOlderThan(ctx, retention)
	if err != nil {
		e.logger.Printf("retention cleanup failed: %v", err)
		return
	}
	if incidents > 0 || quarantined > 0 {
		e.logger.Printf("retention purge removed %d incidents and %d quarantine records older than %dd",
			incidents, quarantined, e.opts.RetentionDays)
	}
}
