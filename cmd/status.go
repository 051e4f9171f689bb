package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostsentry/hostsentry/internal/bus"
	"github.com/hostsentry/hostsentry/internal/policy"
	"github.com/hostsentry/hostsentry/internal/store"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show effective policy, signature set, and incident counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	logger := newLogger("[status] ")

	effective := policy.FloorMode(cfg.General.Level, cfg.General.Mode)
	enabled := policy.Resolve(cfg.General.Level)

	fmt.Println("HostSentry status")
	fmt.Printf("  Security level:  %s\n", cfg.General.Level)
	fmt.Printf("  Protection mode: %s", effective)
	if effective != cfg.General.Mode {
		fmt.Printf(" (floored from %s by level)", cfg.General.Mode)
	}
	fmt.Println()
	fmt.Printf("  Monitors:        file=%v process=%v network=%v memory=%v\n",
		enabled.File, enabled.Process, enabled.Network, enabled.Memory)

	if sigs, err := loadSignatures(cfg, logger); err != nil {
		fmt.Printf("  Signatures:      UNAVAILABLE (%v)\n", err)
	} else {
		snap := sigs.Snapshot()
		fmt.Printf("  Signatures:      v%s (%d rules, %d ip / %d file / %d process deny entries)\n",
			snap.Version, snap.SignatureCount, snap.IPBlacklistLen, snap.FileBlacklistLen, snap.ProcBlacklistLen)
	}

	st, err := store.NewStore(cfg.General.DatabasePath)
	if err != nil {
		fmt.Printf("  Incident log:    UNAVAILABLE (%v)\n", err)
	} else {
		defer st.Close()
		if counts, err := st.CountBySeverity(ctx); err == nil {
			total := 0
			for _, n := range counts {
				total += n
			}
			fmt.Printf("  Incidents:       %d total", total)
			for _, sev := range []string{"critical", "high", "medium", "low"} {
				if n := counts[sev]; n > 0 {
					fmt.Printf("  %s=%d", sev, n)
				}
			}
			fmt.Println()
		}
		if records, err := st.ListQuarantine(ctx); err == nil {
			fmt.Printf("  Quarantined:     %d file(s)\n", len(records))
		}
	}

	b := bus.NewBus(cfg.Advanced.RedisURL, logger)
	defer b.Close()
	if err := b.HealthCheck(ctx); err != nil {
		fmt.Printf("  Incident bus:    unavailable (%v)\n", err)
	} else if cfg.Advanced.RedisURL == "" {
		fmt.Println("  Incident bus:    disabled")
	} else {
		fmt.Println("  Incident bus:    healthy")
	}

	return nil
}
