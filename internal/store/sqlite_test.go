package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostsentry/hostsentry/internal/signature"
)

func TestNewStore(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close()

	var count int
	err = st.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table'").Scan(&count)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "Expected tables to be created")
}

func testIncident(component, target string) Incident {
	return Incident{
		Timestamp:   time.Now(),
		Level:       signature.SeverityHigh,
		Component:   component,
		Message:     "test detection",
		Target:      target,
		RuleIDs:     []string{"SIG-001", "deny-file"},
		ActionTaken: "quarantine",
		SystemInfo:  SystemInfo{Hostname: "test-host", User: "tester", PID: 1234},
	}
}

func TestAppendIncidentAssignsID(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	id, err := st.AppendIncident(ctx, testIncident("file-monitor", "/tmp/a"))
	require.NoError(t, err)
	assert.Contains(t, id, "inc_")

	got, err := st.RecentIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, signature.SeverityHigh, got[0].Level)
	assert.Equal(t, []string{"SIG-001", "deny-file"}, got[0].RuleIDs)
	assert.Equal(t, "test-host", got[0].SystemInfo.Hostname)
}

func TestAppendIncidentOrderPreserved(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	var ids []string
	for i := 0; i < 20; i++ {
		inc := testIncident("process-monitor", "/usr/bin/nc")
		inc.Timestamp = time.Now()
		id, err := st.AppendIncident(ctx, inc)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// IDs are strictly increasing even when appends land inside the same
	// nanosecond tick.
	seen := map[string]bool{}
	for i, id := range ids {
		assert.False(t, seen[id], "duplicate incident id %s at %d", id, i)
		seen[id] = true
	}

	got, err := st.RecentIncidents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp),
			"RecentIncidents must be newest-first")
	}
}

func TestAppendIncidentClampsRegressingTimestamps(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	first := testIncident("file-monitor", "/tmp/a")
	first.Timestamp = time.Now()
	firstID, err := st.AppendIncident(ctx, first)
	require.NoError(t, err)

	// A monitor stamped this observation earlier but lost the race to the
	// append channel. The log must not record time going backwards.
	late := testIncident("process-monitor", "/usr/bin/nc")
	late.Timestamp = first.Timestamp.Add(-10 * time.Second)
	lateID, err := st.AppendIncident(ctx, late)
	require.NoError(t, err)

	got, err := st.RecentIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]Incident{got[0].ID: got[0], got[1].ID: got[1]}
	require.Contains(t, byID, firstID)
	require.Contains(t, byID, lateID)
	assert.False(t, byID[lateID].Timestamp.Before(byID[firstID].Timestamp),
		"append order produced regressing timestamps")
}

func TestIncidentsSince(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	old := testIncident("file-monitor", "/tmp/old")
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	_, err = st.AppendIncident(ctx, old)
	require.NoError(t, err)

	fresh := testIncident("file-monitor", "/tmp/fresh")
	_, err = st.AppendIncident(ctx, fresh)
	require.NoError(t, err)

	got, err := st.IncidentsSince(ctx, time.Now().Add(-time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/tmp/fresh", got[0].Target)
}

func TestCountBySeverityAndComponent(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for _, sev := range []signature.Severity{signature.SeverityHigh, signature.SeverityHigh, signature.SeverityLow} {
		inc := testIncident("file-monitor", "/tmp/x")
		inc.Level = sev
		_, err := st.AppendIncident(ctx, inc)
		require.NoError(t, err)
	}

	bySev, err := st.CountBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, bySev["high"])
	assert.Equal(t, 1, bySev["low"])

	byComp, err := st.CountByComponent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, byComp["file-monitor"])
}

func TestQuarantineRecordRoundTrip(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	rec := QuarantineRecord{
		OriginalPath:   "/tmp/evil.sh",
		QuarantinePath: "/quarantine/20260101_evil.sh.quarantined",
		Timestamp:      time.Now(),
		Reason:         "matched SIG-001",
		Automated:      true,
	}
	id, err := st.AddQuarantineRecord(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	found, err := st.FindQuarantineByOriginal(ctx, "/tmp/evil.sh")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.QuarantinePath, found.QuarantinePath)
	assert.True(t, found.Automated)

	missing, err := st.FindQuarantineByOriginal(ctx, "/tmp/innocent.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := st.ListQuarantine(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPurgeOlderThan(t *testing.T) {
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()

	old := testIncident("file-monitor", "/tmp/ancient")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	_, err = st.AppendIncident(ctx, old)
	require.NoError(t, err)

	fresh := testIncident("file-monitor", "/tmp/recent")
	_, err = st.AppendIncident(ctx, fresh)
	require.NoError(t, err)

	_, err = st.AddQuarantineRecord(ctx, QuarantineRecord{
		OriginalPath:   "/tmp/ancient",
		QuarantinePath: "/q/ancient",
		Timestamp:      time.Now().Add(-48 * time.Hour),
		Reason:         "old",
	})
	require.NoError(t, err)

	incidents, quarantined, err := st.PurgeOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, incidents)
	assert.EqualValues(t, 1, quarantined)

	left, err := st.RecentIncidents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "/tmp/recent", left[0].Target)
}
