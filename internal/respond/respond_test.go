package respond

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostsentry/hostsentry/internal/policy"
	"github.com/hostsentry/hostsentry/internal/signature"
	"github.com/hostsentry/hostsentry/internal/store"
)

func newTestEngine(t *testing.T, mode policy.Mode) (*Engine, *store.Store, string) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	qdir := filepath.Join(t.TempDir(), "quarantine")
	eng := NewEngine(st, Options{
		Mode:           mode,
		QuarantineDir:  qdir,
		TerminateGrace: 500 * time.Millisecond,
	})
	return eng, st, qdir
}

func TestQuarantineMovesAndLocksFile(t *testing.T) {
	eng, st, qdir := newTestEngine(t, policy.ModeQuarantine)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "evil.sh")
	require.NoError(t, os.WriteFile(src, []byte("eval(base64_decode('x'))"), 0755))

	rec, err := eng.Quarantine(ctx, src, "test detection", true)
	require.NoError(t, err)
	require.NotNil(t, rec)

	// Original is gone, artifact landed in the quarantine dir with no
	// permission bits left.
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(rec.QuarantinePath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(rec.QuarantinePath), qdir)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0), info.Mode().Perm())
	}

	found, err := st.FindQuarantineByOriginal(ctx, src)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Automated)
}

func TestQuarantineIdempotent(t *testing.T) {
	eng, st, _ := newTestEngine(t, policy.ModeQuarantine)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "evil.sh")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	first, err := eng.Quarantine(ctx, src, "first", true)
	require.NoError(t, err)

	// Second call finds the existing record instead of erroring on the
	// missing source file.
	second, err := eng.Quarantine(ctx, src, "second", true)
	require.NoError(t, err)
	assert.Equal(t, first.QuarantinePath, second.QuarantinePath)

	all, err := st.ListQuarantine(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "no duplicate quarantine records")
}

func TestQuarantineMissingFileIsSuccess(t *testing.T) {
	eng, st, _ := newTestEngine(t, policy.ModeQuarantine)
	ctx := context.Background()

	rec, err := eng.Quarantine(ctx, "/nonexistent/vanished.sh", "race with deletion", true)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Empty(t, rec.QuarantinePath)

	all, err := st.ListQuarantine(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "vanished target must not leave a record")
}

func TestRespondDowngradesInMonitoringMode(t *testing.T) {
	eng, _, _ := newTestEngine(t, policy.ModeMonitoring)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "evil.sh")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	res := eng.Respond(ctx, &store.Incident{
		Level:       signature.SeverityCritical,
		Component:   "file-monitor",
		Target:      src,
		ActionTaken: "quarantine",
	})
	assert.Equal(t, signature.ActionQuarantine, res.Requested)
	assert.Equal(t, signature.ActionLog, res.Executed)
	assert.True(t, res.Downgraded)
	assert.NoError(t, res.Err)

	// The file was not touched.
	_, err := os.Stat(src)
	assert.NoError(t, err)
}

func TestRespondExecutesQuarantine(t *testing.T) {
	eng, _, _ := newTestEngine(t, policy.ModeQuarantine)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "evil.sh")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	res := eng.Respond(ctx, &store.Incident{
		Level:       signature.SeverityCritical,
		Component:   "file-monitor",
		Target:      src,
		ActionTaken: "quarantine",
	})
	assert.Equal(t, signature.ActionQuarantine, res.Executed)
	assert.False(t, res.Downgraded)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Outcome, "quarantined to ")

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestRespondBlockIsFlagOnly(t *testing.T) {
	eng, _, _ := newTestEngine(t, policy.ModePrevention)

	res := eng.Respond(context.Background(), &store.Incident{
		Level:       signature.SeverityHigh,
		Component:   "network-monitor",
		Target:      "203.0.113.9:4444",
		ActionTaken: "block",
	})
	assert.Equal(t, signature.ActionBlock, res.Executed)
	assert.NoError(t, res.Err)
	assert.Contains(t, res.Outcome, "flagged")
}

func TestRespondBlockDowngradesUnderIsolation(t *testing.T) {
	eng, _, _ := newTestEngine(t, policy.ModeIsolation)

	res := eng.Respond(context.Background(), &store.Incident{
		Level:       signature.SeverityHigh,
		Component:   "network-monitor",
		Target:      "203.0.113.9:4444",
		ActionTaken: "block",
	})
	assert.Equal(t, signature.ActionLog, res.Executed)
	assert.True(t, res.Downgraded)
	assert.NoError(t, res.Err)
}

func TestTerminateGracefulThenGone(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signal semantics differ on windows")
	}
	eng, _, _ := newTestEngine(t, policy.ModeIsolation)
	ctx := context.Background()

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := int32(cmd.Process.Pid)
	defer cmd.Process.Kill()

	require.NoError(t, eng.Terminate(ctx, pid))
	// Reap and confirm exit.
	cmd.Wait()

	// A second terminate of the dead pid is a no-op success.
	assert.NoError(t, eng.Terminate(ctx, pid))
}

func TestTerminateInvalidPID(t *testing.T) {
	eng, _, _ := newTestEngine(t, policy.ModeIsolation)
	assert.Error(t, eng.Terminate(context.Background(), 0))
	assert.Error(t, eng.Terminate(context.Background(), -5))
}

func TestRunSandboxedCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	res := RunSandboxed(context.Background(), nil, 10*time.Second, []string{"sh", "-c", "echo sandboxed"})
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "sandboxed")
	assert.NotEmpty(t, res.Strategy)
}

func TestRunSandboxedTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	start := time.Now()
	res := RunSandboxed(context.Background(), nil, 200*time.Millisecond, []string{"sleep", "10"})
	assert.True(t, res.TimedOut)
	assert.Error(t, res.Err)
	assert.Less(t, time.Since(start), 5*time.Second, "timed-out command must be killed, not waited for")
}

func TestRunSandboxedNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	res := RunSandboxed(context.Background(), nil, 10*time.Second, []string{"sh", "-c", "exit 3"})
	assert.Error(t, res.Err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestRunSandboxedEmptyCommand(t *testing.T) {
	res := RunSandboxed(context.Background(), nil, time.Second, nil)
	assert.Error(t, res.Err)
}
