package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// NetworkOptions configures the network monitor.
type NetworkOptions struct {
	// Interval between socket snapshots. Defaults to 15s, minimum 1s.
	Interval time.Duration

	// SuspiciousPorts are remote or listening ports worth flagging.
	SuspiciousPorts []uint32

	// DenyCheck consults the deny-list for a remote address. It must be
	// safe for concurrent use (the signature store is read-only here).
	DenyCheck func(addr string) (string, bool)

	// Cooldown suppresses re-alerting for a connection already reported.
	// Defaults to 5 minutes.
	Cooldown time.Duration

	Logger *log.Logger
}

// NetworkMonitor snapshots listening and established sockets and emits a
// candidate for connections matching the suspicious-port list or deny-list.
// Connections alerted within the cool-down window are suppressed.
type NetworkMonitor struct {
	opts  NetworkOptions
	out   chan<- Candidate
	ports map[uint32]bool

	alerted map[string]time.Time
}

// NewNetworkMonitor constructs a network monitor with defaults and clamps.
func NewNetworkMonitor(out chan<- Candidate, opts NetworkOptions) *NetworkMonitor {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[network-monitor] ", log.LstdFlags)
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Interval < time.Second {
		opts.Interval = time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}
	ports := make(map[uint32]bool, len(opts.SuspiciousPorts))
	for _, p := range opts.SuspiciousPorts {
		ports[p] = true
	}
	return &NetworkMonitor{
		opts:    opts,
		out:     out,
		ports:   ports,
		alerted: make(map[string]time.Time),
	}
}

func (nm *NetworkMonitor) Name() string { return "network-monitor" }

// Run starts the socket snapshot loop until ctx is cancelled.
func (nm *NetworkMonitor) Run(ctx context.Context) error {
	for {
		if err := nm.poll(ctx); err != nil {
			// Sandboxed hosts may forbid socket enumeration entirely;
			// degrade to logging and keep trying.
			nm.opts.Logger.Printf("socket snapshot failed, skipping cycle: %v", err)
		}
		if err := sleep(ctx, nm.opts.Interval); err != nil {
			return err
		}
	}
}

func (nm *NetworkMonitor) poll(ctx context.Context) error {
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return err
	}

	now := time.Now()
	nm.expireCooldowns(now)

	for _, conn := range conns {
		if conn.Status != "LISTEN" && conn.Status != "ESTABLISHED" {
			continue
		}

		var reason string
		switch {
		case conn.Status == "LISTEN" && nm.ports[conn.Laddr.Port]:
			reason = fmt.Sprintf("listening on suspicious port %d", conn.Laddr.Port)
		case conn.Status == "ESTABLISHED" && nm.ports[conn.Raddr.Port]:
			reason = fmt.Sprintf("connection to suspicious port %d", conn.Raddr.Port)
		case conn.Raddr.IP != "" && nm.opts.DenyCheck != nil:
			if entry, hit := nm.opts.DenyCheck(conn.Raddr.IP); hit {
				reason = fmt.Sprintf("remote address on deny-list (%s)", entry)
			}
		}
		if reason == "" {
			continue
		}

		key := fmt.Sprintf("%s:%d->%s:%d", conn.Laddr.IP, conn.Laddr.Port, conn.Raddr.IP, conn.Raddr.Port)
		if _, recent := nm.alerted[key]; recent {
			continue
		}
		nm.alerted[key] = now

		target := fmt.Sprintf("%s:%d", conn.Raddr.IP, conn.Raddr.Port)
		port := conn.Raddr.Port
		if conn.Status == "LISTEN" {
			target = fmt.Sprintf("%s:%d", conn.Laddr.IP, conn.Laddr.Port)
			port = conn.Laddr.Port
		}

		emit(ctx, nm.out, Candidate{
			Kind:       KindNetwork,
			Component:  nm.Name(),
			Target:     target,
			LocalAddr:  fmt.Sprintf("%s:%d", conn.Laddr.IP, conn.Laddr.Port),
			RemoteAddr: fmt.Sprintf("%s:%d", conn.Raddr.IP, conn.Raddr.Port),
			Port:       port,
			PID:        conn.Pid,
			Reason:     reason,
			ObservedAt: now,
		})
	}
	return nil
}

func (nm *NetworkMonitor) expireCooldowns(now time.Time) {
	for key, at := range nm.alerted {
		if now.Sub(at) > nm.opts.Cooldown {
			delete(nm.alerted, key)
		}
	}
}
