// Package report aggregates metrics, the quarantine inventory, and recent
// incidents into machine- and human-readable renderings. Generation is
// best-effort: a degraded subsystem yields an empty section, never an error.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hostsentry/hostsentry/internal/metrics"
	"github.com/hostsentry/hostsentry/internal/signature"
	"github.com/hostsentry/hostsentry/internal/store"
)

// Kind selects how much a report includes.
type Kind string

const (
	KindSummary Kind = "summary"
	KindFull    Kind = "full"
)

// recentWindow is the fixed-size rolling window of incidents a report shows.
const recentWindow = 50

// SystemSnapshot is a point-in-time view of the host.
type SystemSnapshot struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
}

// QuarantineStats summarizes the quarantine inventory.
type QuarantineStats struct {
	QuarantinedFiles int                      `json:"quarantined_files"`
	Records          []store.QuarantineRecord `json:"records,omitempty"`
}

// Report is the aggregate produced by Generate.
type Report struct {
	GeneratedAt     time.Time           `json:"generated_at"`
	Kind            Kind                `json:"kind"`
	Metrics         metrics.Counts      `json:"metrics"`
	BySeverity      map[string]int      `json:"by_severity"`
	ByComponent     map[string]int      `json:"by_component,omitempty"`
	QuarantineStats QuarantineStats     `json:"quarantine_stats"`
	RecentIncidents []store.Incident    `json:"recent_incidents,omitempty"`
	Signatures      *signature.Snapshot `json:"signatures,omitempty"`
	System          *SystemSnapshot     `json:"system,omitempty"`
	Degraded        []string            `json:"degraded,omitempty"`
}

// Reporter builds reports from the store and metrics sinks.
type Reporter struct {
	store   *store.Store
	metrics *metrics.Store
	sigs    *signature.Store
	logger  *log.Logger
}

// NewReporter constructs a reporter.
func NewReporter(st *store.Store, ms *metrics.Store, sigs *signature.Store, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.New(log.Writer(), "[report] ", log.LstdFlags)
	}
	return &Reporter{store: st, metrics: ms, sigs: sigs, logger: logger}
}

// Generate builds a report of the given kind. It never fails outright; any
// unavailable subsystem is listed under Degraded.
func (r *Reporter) Generate(ctx context.Context, kind Kind) *Report {
	if kind != KindFull {
		kind = KindSummary
	}
	rep := &Report{
		GeneratedAt: time.Now(),
		Kind:        kind,
		BySeverity:  map[string]int{},
	}

	if r.metrics != nil {
		rep.Metrics = r.metrics.Snapshot()
	}

	if r.store != nil {
		if counts, err := r.store.CountBySeverity(ctx); err == nil {
			rep.BySeverity = counts
		} else {
			rep.Degraded = append(rep.Degraded, fmt.Sprintf("severity counts: %v", err))
		}
		if records, err := r.store.ListQuarantine(ctx); err == nil {
			rep.QuarantineStats.QuarantinedFiles = len(records)
			if kind == KindFull {
				rep.QuarantineStats.Records = records
			}
		} else {
			rep.Degraded = append(rep.Degraded, fmt.Sprintf("quarantine inventory: %v", err))
		}
		if kind == KindFull {
			if counts, err := r.store.CountByComponent(ctx); err == nil {
				rep.ByComponent = counts
			}
			if recent, err := r.store.RecentIncidents(ctx, recentWindow); err == nil {
				rep.RecentIncidents = recent
			} else {
				rep.Degraded = append(rep.Degraded, fmt.Sprintf("recent incidents: %v", err))
			}
		}
	}

	if r.sigs != nil {
		snap := r.sigs.Snapshot()
		rep.Signatures = &snap
	}

	rep.System = systemSnapshot(ctx, &rep.Degraded)
	return rep
}

func systemSnapshot(ctx context.Context, degraded *[]string) *SystemSnapshot {
	snap := &SystemSnapshot{}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.OS = info.OS
		snap.Platform = info.Platform
		snap.UptimeSeconds = info.Uptime
	} else {
		*degraded = append(*degraded, fmt.Sprintf("host info: %v", err))
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}
	return snap
}

// RenderJSON renders the report for machine consumption.
func (rep *Report) RenderJSON() (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return string(data), nil
}

// RenderText renders the report for humans.
func (rep *Report) RenderText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Security Report (%s) - %s\n", rep.Kind, rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("=", 60))

	fmt.Fprintf(&b, "Detections this run: total=%d file=%d process=%d network=%d memory=%d\n",
		rep.Metrics.Total, rep.Metrics.File, rep.Metrics.Process, rep.Metrics.Network, rep.Metrics.Memory)

	if len(rep.BySeverity) > 0 {
		b.WriteString("Incidents by severity:\n")
		for _, level := range []string{"critical", "high", "medium", "low"} {
			if n, ok := rep.BySeverity[level]; ok {
				fmt.Fprintf(&b, "  %-8s %d\n", level, n)
			}
		}
	}

	fmt.Fprintf(&b, "Quarantined files: %d\n", rep.QuarantineStats.QuarantinedFiles)
	for _, rec := range rep.QuarantineStats.Records {
		fmt.Fprintf(&b, "  %s -> %s (%s)\n", rec.OriginalPath, rec.QuarantinePath, rec.Timestamp.Format(time.RFC3339))
	}

	if rep.Signatures != nil {
		fmt.Fprintf(&b, "Signature set: v%s (%d rules, updated %s)\n",
			rep.Signatures.Version, rep.Signatures.SignatureCount, rep.Signatures.LastUpdated)
	}

	if rep.System != nil && rep.System.Hostname != "" {
		fmt.Fprintf(&b, "Host: %s (%s/%s) uptime=%ds cpu=%.1f%% mem=%.1f%%\n",
			rep.System.Hostname, rep.System.OS, rep.System.Platform,
			rep.System.UptimeSeconds, rep.System.CPUPercent, rep.System.MemPercent)
	}

	if len(rep.RecentIncidents) > 0 {
		fmt.Fprintf(&b, "\nRecent incidents (%d):\n", len(rep.RecentIncidents))
		for _, inc := range rep.RecentIncidents {
			fmt.Fprintf(&b, "  [%s] %-8s %-16s %s\n",
				inc.Timestamp.Format("15:04:05"), inc.Level, inc.Component, inc.Message)
		}
	}

	if len(rep.Degraded) > 0 {
		b.WriteString("\nDegraded sections:\n")
		for _, d := range rep.Degraded {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}

	return b.String()
}
