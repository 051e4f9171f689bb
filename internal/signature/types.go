package signature

import (
	"fmt"
	"strings"
)

// Severity levels used across signatures and incidents
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable weight for a severity (higher is worse).
// Unknown severities rank below low so malformed data never outranks real ones.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity normalizes a severity string, defaulting unknown values to medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Action is the remediation a signature asks for by default.
type Action string

const (
	ActionLog        Action = "log"
	ActionQuarantine Action = "quarantine"
	ActionBlock      Action = "block"
	ActionTerminate  Action = "terminate"
)

// ParseAction normalizes an action string, defaulting unknown values to log.
func ParseAction(s string) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "log":
		return ActionLog
	case "quarantine":
		return ActionQuarantine
	case "block":
		return ActionBlock
	case "terminate":
		return ActionTerminate
	default:
		return ActionLog
	}
}

// Category classifies what a signature applies to.
type Category string

const (
	CategoryFile    Category = "file"
	CategoryProcess Category = "process"
	CategoryNetwork Category = "network"
)

// Signature is a single threat rule. Immutable once loaded; the whole set
// is replaced on update.
type Signature struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Pattern  string   `json:"pattern"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Action   Action   `json:"action"`
}

// Match is one signature that matched a candidate value.
type Match struct {
	Signature Signature
	// Matched records what part of the candidate triggered the rule.
	Matched string
}

// SignatureFile is the on-disk / over-the-wire signature set schema.
type SignatureFile struct {
	Version          string          `json:"version"`
	LastUpdated      string          `json:"last_updated"`
	ThreatSignatures []signatureJSON `json:"threat_signatures"`
	IPBlacklist      []string        `json:"ip_blacklist"`
	FileBlacklist    []string        `json:"file_blacklist"`
	ProcessBlacklist []string        `json:"process_blacklist"`
}

type signatureJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
}

func (j signatureJSON) toSignature() (Signature, error) {
	if strings.TrimSpace(j.ID) == "" {
		return Signature{}, fmt.Errorf("signature missing id")
	}
	if strings.TrimSpace(j.Pattern) == "" {
		return Signature{}, fmt.Errorf("signature %s missing pattern", j.ID)
	}
	cat := Category(strings.ToLower(strings.TrimSpace(j.Category)))
	switch cat {
	case CategoryFile, CategoryProcess, CategoryNetwork:
	default:
		return Signature{}, fmt.Errorf("signature %s has unknown category %q", j.ID, j.Category)
	}
	return Signature{
		ID:       j.ID,
		Name:     j.Name,
		Pattern:  j.Pattern,
		Category: cat,
		Severity: ParseSeverity(j.Severity),
		Action:   ParseAction(j.Action),
	}, nil
}
