// Package policy resolves the configured security level and protection mode
// into which monitors run and which remediation actions are permitted.
package policy

import (
	"fmt"
	"strings"

	"github.com/hostsentry/hostsentry/internal/signature"
)

// Level controls how much of the system is watched.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelStandard Level = "standard"
	LevelHigh     Level = "high"
	LevelParanoid Level = "paranoid"
	LevelLockdown Level = "lockdown"
)

// Mode controls which remediation actions the response engine may take.
type Mode string

const (
	ModeMonitoring Mode = "monitoring"
	ModeDetection  Mode = "detection"
	ModePrevention Mode = "prevention"
	ModeQuarantine Mode = "quarantine"
	ModeIsolation  Mode = "isolation"
)

// ParseLevel validates a security level string.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelMinimal:
		return LevelMinimal, nil
	case LevelStandard:
		return LevelStandard, nil
	case LevelHigh:
		return LevelHigh, nil
	case LevelParanoid:
		return LevelParanoid, nil
	case LevelLockdown:
		return LevelLockdown, nil
	default:
		return "", fmt.Errorf("unknown security level %q (use minimal, standard, high, paranoid, lockdown)", s)
	}
}

// ParseMode validates a protection mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMonitoring:
		return ModeMonitoring, nil
	case ModeDetection:
		return ModeDetection, nil
	case ModePrevention:
		return ModePrevention, nil
	case ModeQuarantine:
		return ModeQuarantine, nil
	case ModeIsolation:
		return ModeIsolation, nil
	default:
		return "", fmt.Errorf("unknown protection mode %q (use monitoring, detection, prevention, quarantine, isolation)", s)
	}
}

// EnabledMonitors lists which monitor loops a level turns on, plus the
// threshold adjustments paranoid and lockdown apply.
type EnabledMonitors struct {
	File    bool
	Process bool
	Network bool
	Memory  bool

	// ThresholdScale multiplies alert thresholds. 1.0 for normal levels;
	// paranoid/lockdown lower every threshold.
	ThresholdScale float64
}

// Resolve maps a level to its monitor set. Paranoid and lockdown also lower
// all alert thresholds; FloorMode must be consulted alongside.
func Resolve(level Level) EnabledMonitors {
	switch level {
	case LevelMinimal:
		return EnabledMonitors{Process: true, ThresholdScale: 1.0}
	case LevelStandard:
		return EnabledMonitors{File: true, Process: true, ThresholdScale: 1.0}
	case LevelHigh:
		return EnabledMonitors{File: true, Process: true, Network: true, Memory: true, ThresholdScale: 1.0}
	case LevelParanoid, LevelLockdown:
		return EnabledMonitors{File: true, Process: true, Network: true, Memory: true, ThresholdScale: 0.8}
	default:
		return EnabledMonitors{File: true, Process: true, ThresholdScale: 1.0}
	}
}

// FloorMode raises the protection mode when the level demands it: paranoid
// and lockdown force at least quarantine.
func FloorMode(level Level, mode Mode) Mode {
	if level != LevelParanoid && level != LevelLockdown {
		return mode
	}
	switch mode {
	case ModeQuarantine, ModeIsolation:
		return mode
	default:
		return ModeQuarantine
	}
}

// AllowedActions returns the remediation actions a protection mode permits.
// Network "block" is flagged-only logging in this design, so prevention's
// block-local maps onto the block action with log-only enforcement downstream.
func AllowedActions(mode Mode) map[signature.Action]bool {
	switch mode {
	case ModeMonitoring, ModeDetection:
		return map[signature.Action]bool{signature.ActionLog: true}
	case ModePrevention:
		return map[signature.Action]bool{
			signature.ActionLog:   true,
			signature.ActionBlock: true,
		}
	case ModeQuarantine:
		return map[signature.Action]bool{
			signature.ActionLog:        true,
			signature.ActionQuarantine: true,
		}
	case ModeIsolation:
		// Block is not in the isolation set; a block-action rule downgrades
		// to log so the incident records the downgrade.
		return map[signature.Action]bool{
			signature.ActionLog:        true,
			signature.ActionQuarantine: true,
			signature.ActionTerminate:  true,
		}
	default:
		return map[signature.Action]bool{signature.ActionLog: true}
	}
}

// Permit intersects a requested action with the mode's allowed set. When the
// mode forbids the action it downgrades to log; the second return reports
// whether a downgrade happened so the incident can record it.
func Permit(action signature.Action, mode Mode) (signature.Action, bool) {
	if AllowedActions(mode)[action] {
		return action, false
	}
	return signature.ActionLog, action != signature.ActionLog
}
