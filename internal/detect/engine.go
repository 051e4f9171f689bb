// Package detect matches monitor candidates against the signature store and
// the deny-lists, producing incidents with deduplication across poll cycles.
package detect

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hostsentry/hostsentry/internal/monitor"
	"github.com/hostsentry/hostsentry/internal/signature"
	"github.com/hostsentry/hostsentry/internal/store"
)

// maxContentScan bounds how much of a file is read for pattern matching.
const maxContentScan = 1 << 20

// Options configures the detection engine.
type Options struct {
	// DedupWindow suppresses identical (component, target, rule) detections
	// within this window. Defaults to 30s.
	DedupWindow time.Duration

	Logger *log.Logger
}

// Engine evaluates candidates. Safe for use from a single consumer goroutine;
// the dedup table is still locked so one-shot scans can share an engine.
type Engine struct {
	sigs *signature.Store
	opts Options

	mu   sync.Mutex
	seen map[string]time.Time

	hostname string
	username string
	ownPID   int
}

// NewEngine constructs a detection engine over the given signature store.
func NewEngine(sigs *signature.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[detect] ", log.LstdFlags)
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 30 * time.Second
	}

	hostname, _ := os.Hostname()
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	return &Engine{
		sigs:     sigs,
		opts:     opts,
		seen:     make(map[string]time.Time),
		hostname: hostname,
		username: username,
		ownPID:   os.Getpid(),
	}
}

// Evaluate runs signature and deny-list checks over a candidate. It returns
// nil when nothing matched or every matching rule was recently reported.
// When several rules match, one incident carries the highest severity among
// them and records every matched rule ID.
func (e *Engine) Evaluate(ctx context.Context, c monitor.Candidate) *store.Incident {
	type hit struct {
		ruleID   string
		severity signature.Severity
		action   signature.Action
		detail   string
	}
	var hits []hit

	switch c.Kind {
	case monitor.KindFile:
		for _, m := range e.sigs.Match(signature.CategoryFile, c.Target) {
			hits = append(hits, hit{m.Signature.ID, m.Signature.Severity, m.Signature.Action,
				fmt.Sprintf("path matched %s (%s)", m.Signature.ID, m.Signature.Name)})
		}
		if c.Change != monitor.ChangeDeleted {
			content, err := readHead(c.Target, maxContentScan)
			if err == nil && len(content) > 0 {
				for _, m := range e.sigs.Match(signature.CategoryFile, content) {
					hits = append(hits, hit{m.Signature.ID, m.Signature.Severity, m.Signature.Action,
						fmt.Sprintf("content matched %s (%s)", m.Signature.ID, m.Signature.Name)})
				}
			}
		}
		if glob, ok := e.sigs.MatchFileBlacklist(c.Target); ok {
			hits = append(hits, hit{"deny-file", signature.SeverityHigh, signature.ActionQuarantine,
				fmt.Sprintf("filename matched deny-list glob %q", glob)})
		}

	case monitor.KindProcess:
		for _, m := range e.sigs.Match(signature.CategoryProcess, c.Cmdline) {
			hits = append(hits, hit{m.Signature.ID, m.Signature.Severity, m.Signature.Action,
				fmt.Sprintf("command matched %s (%s)", m.Signature.ID, m.Signature.Name)})
		}
		if frag, ok := e.sigs.MatchProcessBlacklist(c.Cmdline); ok {
			hits = append(hits, hit{"deny-process", signature.SeverityHigh, signature.ActionTerminate,
				fmt.Sprintf("command matched deny-list fragment %q", frag)})
		}

	case monitor.KindNetwork:
		for _, m := range e.sigs.Match(signature.CategoryNetwork, c.Target) {
			hits = append(hits, hit{m.Signature.ID, m.Signature.Severity, m.Signature.Action,
				fmt.Sprintf("connection matched %s (%s)", m.Signature.ID, m.Signature.Name)})
		}
		// The monitor pre-filtered this candidate; keep its reason as a
		// detection even without a signature hit.
		if len(hits) == 0 && c.Reason != "" {
			hits = append(hits, hit{"net-observe", signature.SeverityMedium, signature.ActionBlock, c.Reason})
		}

	case monitor.KindMemory:
		// Resource pressure has no signature; the debounced observation is
		// the detection.
		hits = append(hits, hit{"resource-threshold", signature.SeverityMedium, signature.ActionLog, c.Reason})
	}

	if len(hits) == 0 {
		return nil
	}

	// Deduplicate per matched rule; drop the incident only when every rule
	// was already reported for this target inside the window.
	now := time.Now()
	var fresh []hit
	e.mu.Lock()
	for _, h := range hits {
		key := fmt.Sprintf("%s|%s|%s", c.Component, c.Target, h.ruleID)
		if at, ok := e.seen[key]; ok && now.Sub(at) < e.opts.DedupWindow {
			continue
		}
		e.seen[key] = now
		fresh = append(fresh, h)
	}
	e.pruneLocked(now)
	e.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	highest := fresh[0].severity
	action := fresh[0].action
	ruleIDs := make([]string, 0, len(fresh))
	details := make([]string, 0, len(fresh))
	for _, h := range fresh {
		ruleIDs = append(ruleIDs, h.ruleID)
		details = append(details, h.detail)
		if h.severity.Rank() > highest.Rank() {
			highest = h.severity
			action = h.action
		}
	}
	sort.Strings(ruleIDs)

	inc := &store.Incident{
		Timestamp:   c.ObservedAt,
		Level:       highest,
		Component:   c.Component,
		Message:     strings.Join(details, "; "),
		Target:      c.Target,
		RuleIDs:     ruleIDs,
		ActionTaken: string(action),
		SystemInfo: store.SystemInfo{
			Hostname: e.hostname,
			User:     e.username,
			PID:      e.ownPID,
		},
	}
	if c.Kind == monitor.KindProcess && c.PID != 0 {
		inc.SystemInfo.PID = int(c.PID)
		if c.User != "" {
			inc.SystemInfo.User = c.User
		}
	}
	if c.Kind == monitor.KindNetwork {
		inc.NetworkInfo = map[string]string{
			"local_addr":  c.LocalAddr,
			"remote_addr": c.RemoteAddr,
			"port":        fmt.Sprintf("%d", c.Port),
		}
	}
	return inc
}

// pruneLocked drops expired dedup entries. Caller holds e.mu.
func (e *Engine) pruneLocked(now time.Time) {
	if len(e.seen) < 4096 {
		return
	}
	for key, at := range e.seen {
		if now.Sub(at) >= e.opts.DedupWindow {
			delete(e.seen, key)
		}
	}
}

// readHead reads at most limit bytes of a file. A read race with deletion is
// a transient error the caller skips.
func readHead(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
