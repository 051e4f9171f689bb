package signature

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

//go:embed default_signatures.json
var builtinSignatures []byte

// DefaultUpdateTimeout bounds a remote signature fetch. On timeout the
// previous set is kept.
const DefaultUpdateTimeout = 15 * time.Second

// compiledRule pairs a signature with its compiled matcher. When the pattern
// does not compile as a regex it degrades to a case-insensitive substring match.
type compiledRule struct {
	sig     Signature
	re      *regexp.Regexp
	literal string
}

func (r compiledRule) matches(value string) bool {
	if r.re != nil {
		return r.re.MatchString(value)
	}
	return strings.Contains(strings.ToLower(value), r.literal)
}

// set is one immutable, fully compiled signature set.
type set struct {
	version     string
	lastUpdated string
	rules       []compiledRule
	ipNets      []*net.IPNet
	ipAddrs     []string
	fileGlobs   []string
	procFrags   []string
}

// Store holds the active signature set. The set is read-only; Update swaps
// it wholesale under the lock.
type Store struct {
	mu     sync.RWMutex
	active *set
	logger *log.Logger
	client *http.Client
}

// Snapshot describes the active set for status/report output.
type Snapshot struct {
	Version          string `json:"version"`
	LastUpdated      string `json:"last_updated"`
	SignatureCount   int    `json:"signature_count"`
	IPBlacklistLen   int    `json:"ip_blacklist_len"`
	FileBlacklistLen int    `json:"file_blacklist_len"`
	ProcBlacklistLen int    `json:"process_blacklist_len"`
}

// Load parses the embedded default signature set. A malformed builtin set is
// a fatal condition: the engine must refuse to start.
func Load(logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[signatures] ", log.LstdFlags)
	}
	s, err := compileSet(builtinSignatures)
	if err != nil {
		return nil, fmt.Errorf("failed to load builtin signature set: %w", err)
	}
	return &Store{
		active: s,
		logger: logger,
		client: &http.Client{Timeout: DefaultUpdateTimeout},
	}, nil
}

// LoadFrom parses an explicit signature JSON blob instead of the builtin set.
func LoadFrom(data []byte, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[signatures] ", log.LstdFlags)
	}
	s, err := compileSet(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load signature set: %w", err)
	}
	return &Store{
		active: s,
		logger: logger,
		client: &http.Client{Timeout: DefaultUpdateTimeout},
	}, nil
}

func compileSet(data []byte) (*set, error) {
	var file SignatureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse signature file: %w", err)
	}
	if len(file.ThreatSignatures) == 0 {
		return nil, errors.New("signature file contains no threat_signatures")
	}

	out := &set{
		version:     file.Version,
		lastUpdated: file.LastUpdated,
	}

	seen := make(map[string]bool, len(file.ThreatSignatures))
	for _, raw := range file.ThreatSignatures {
		sig, err := raw.toSignature()
		if err != nil {
			return nil, err
		}
		if seen[sig.ID] {
			return nil, fmt.Errorf("duplicate signature id %s", sig.ID)
		}
		seen[sig.ID] = true

		rule := compiledRule{sig: sig}
		if re, err := regexp.Compile("(?i)" + sig.Pattern); err == nil {
			rule.re = re
		} else {
			rule.literal = strings.ToLower(sig.Pattern)
		}
		out.rules = append(out.rules, rule)
	}

	for _, entry := range file.IPBlacklist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			out.ipNets = append(out.ipNets, ipNet)
		} else {
			out.ipAddrs = append(out.ipAddrs, entry)
		}
	}
	for _, g := range file.FileBlacklist {
		if g = strings.TrimSpace(g); g != "" {
			out.fileGlobs = append(out.fileGlobs, strings.ToLower(g))
		}
	}
	for _, f := range file.ProcessBlacklist {
		if f = strings.TrimSpace(f); f != "" {
			out.procFrags = append(out.procFrags, strings.ToLower(f))
		}
	}

	return out, nil
}

// Update fetches a candidate signature set from url and atomically swaps it
// in, returning the validated raw payload so the caller may persist it. On
// any fetch, parse, or validation failure the last-known-good set is retained
// and the error returned is non-fatal.
func (st *Store) Update(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build update request: %w", err)
	}

	resp, err := st.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signature update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("signature update rejected: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read signature update: %w", err)
	}

	candidate, err := compileSet(data)
	if err != nil {
		return nil, fmt.Errorf("signature update invalid, keeping current set: %w", err)
	}

	st.mu.Lock()
	old := st.active
	st.active = candidate
	st.mu.Unlock()

	st.logger.Printf("signature set updated: %s -> %s (%d rules)", old.version, candidate.version, len(candidate.rules))
	return data, nil
}

// Match returns every signature in the given category whose pattern matches
// the value. All matches are reported, not just the first.
func (st *Store) Match(category Category, value string) []Match {
	st.mu.RLock()
	s := st.active
	st.mu.RUnlock()

	var matches []Match
	for _, rule := range s.rules {
		if rule.sig.Category != category {
			continue
		}
		if rule.matches(value) {
			matches = append(matches, Match{Signature: rule.sig, Matched: value})
		}
	}
	return matches
}

// MatchFileBlacklist reports the first filename glob from the deny-list that
// matches the path's base name.
func (st *Store) MatchFileBlacklist(path string) (string, bool) {
	st.mu.RLock()
	s := st.active
	st.mu.RUnlock()

	name := strings.ToLower(filepath.Base(path))
	for _, glob := range s.fileGlobs {
		if ok, _ := filepath.Match(glob, name); ok {
			return glob, true
		}
	}
	return "", false
}

// MatchProcessBlacklist reports the first command-line fragment from the
// deny-list contained in cmdline.
func (st *Store) MatchProcessBlacklist(cmdline string) (string, bool) {
	st.mu.RLock()
	s := st.active
	st.mu.RUnlock()

	lower := strings.ToLower(cmdline)
	for _, frag := range s.procFrags {
		if strings.Contains(lower, frag) {
			return frag, true
		}
	}
	return "", false
}

// MatchIPBlacklist reports whether addr (an IP, without port) is deny-listed.
func (st *Store) MatchIPBlacklist(addr string) (string, bool) {
	st.mu.RLock()
	s := st.active
	st.mu.RUnlock()

	ip := net.ParseIP(addr)
	if ip != nil {
		for _, n := range s.ipNets {
			if n.Contains(ip) {
				return n.String(), true
			}
		}
	}
	for _, a := range s.ipAddrs {
		if a == addr {
			return a, true
		}
	}
	return "", false
}

// Snapshot returns a summary of the active set.
func (st *Store) Snapshot() Snapshot {
	st.mu.RLock()
	s := st.active
	st.mu.RUnlock()

	return Snapshot{
		Version:          s.version,
		LastUpdated:      s.lastUpdated,
		SignatureCount:   len(s.rules),
		IPBlacklistLen:   len(s.ipNets) + len(s.ipAddrs),
		FileBlacklistLen: len(s.fileGlobs),
		ProcBlacklistLen: len(s.procFrags),
	}
}

// Signatures returns a copy of the active signature list for display.
func (st *Store) Signatures() []Signature {
	st.mu.RLock()
	s := st.active
	st.mu.RUnlock()

	out := make([]Signature, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.sig)
	}
	return out
}

// SetHTTPClient overrides the update client (used by tests to shorten timeouts).
func (st *Store) SetHTTPClient(c *http.Client) {
	if c != nil {
		st.client = c
	}
}
