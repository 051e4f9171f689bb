package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hostsentry/hostsentry/internal/monitor"
	"github.com/hostsentry/hostsentry/internal/store"
)

// ScanSummary reports one completed sweep.
type ScanSummary struct {
	FilesScanned int
	Incidents    int
	Errors       int
}

// Scan performs a one-shot sweep of a path (file or directory), running
// every file through the same detect -> respond -> persist pipeline the
// monitors feed. Unreadable entries are counted and skipped.
func (e *Engine) Scan(ctx context.Context, path string) (*ScanSummary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scan path: %w", err)
	}

	summary := &ScanSummary{}

	scanFile := func(p string) {
		summary.FilesScanned++
		inc := e.detector.Evaluate(ctx, monitor.Candidate{
			Kind:       monitor.KindFile,
			Component:  "scanner",
			Target:     p,
			Change:     monitor.ChangeModified,
			ObservedAt: time.Now(),
		})
		if inc == nil {
			return
		}
		summary.Incidents++
		e.handleIncident(ctx, monitor.KindFile, inc, summary)
	}

	if !info.IsDir() {
		scanFile(path)
		return summary, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			summary.Errors++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		scanFile(p)
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("scan aborted: %w", err)
	}
	return summary, nil
}

func (e *Engine) handleIncident(ctx context.Context, kind monitor.Kind, inc *store.Incident, summary *ScanSummary) {
	res := e.responder.Respond(ctx, inc)
	inc.ActionTaken = string(res.Executed)
	inc.Downgraded = res.Downgraded
	if res.Outcome != "" {
		inc.Message = inc.Message + " - " + res.Outcome
	}
	if res.Err != nil {
		summary.Errors++
		e.logger.Printf("response failed during scan: %v", res.Err)
	}

	id, err := e.store.AppendIncident(ctx, *inc)
	if err != nil {
		summary.Errors++
		e.logger.Printf("failed to record incident: %v", err)
		return
	}
	inc.ID = id
	e.metrics.Inc(string(kind))
	e.publish(ctx, inc)
}
