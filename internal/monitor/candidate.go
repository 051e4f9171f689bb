// Package monitor implements the long-running pollers that observe system
// state and emit detection candidates. Each monitor runs independently and
// tolerates transient read failures by skipping the poll cycle.
package monitor

import (
	"context"
	"time"
)

// Kind identifies which monitor produced a candidate.
type Kind string

const (
	KindFile    Kind = "file"
	KindProcess Kind = "process"
	KindNetwork Kind = "network"
	KindMemory  Kind = "memory"
)

// Change describes what a file monitor observed.
type Change string

const (
	ChangeCreated  Change = "created"
	ChangeModified Change = "modified"
	ChangeDeleted  Change = "deleted"
)

// Candidate is a raw observation emitted by a monitor before signature
// matching. Only the fields relevant to the Kind are populated.
type Candidate struct {
	Kind       Kind
	Component  string
	Target     string
	ObservedAt time.Time

	// File fields
	Change Change

	// Process fields
	PID     int32
	Cmdline string
	User    string

	// Network fields
	LocalAddr  string
	RemoteAddr string
	Port       uint32
	Reason     string

	// Memory fields
	Metric  string
	Percent float64
}

// Monitor is one independently startable polling loop. Run blocks until ctx
// is cancelled and must observe cancellation within one poll interval.
type Monitor interface {
	Name() string
	Run(ctx context.Context) error
}

// emit sends a candidate unless the context is done. Candidates from a single
// monitor are delivered in observation order.
func emit(ctx context.Context, out chan<- Candidate, c Candidate) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep waits one interval or until cancellation, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
