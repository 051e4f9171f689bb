package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostsentry/hostsentry/internal/store"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge incidents and quarantine records past retention",
	Long: `Delete incidents and quarantine records older than the retention
window. This is the same purge the monitoring engine runs periodically,
invoked once on demand.`,
	RunE: runCleanup,
}

var cleanupDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention in days (overrides config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	days := cfg.Compliance.RetentionDays
	if cleanupDays > 0 {
		days = cleanupDays
	}
	if days <= 0 {
		return fmt.Errorf("retention disabled (retention_days=%d); pass --days to purge anyway", days)
	}

	st, err := store.NewStore(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	incidents, quarantined, err := st.PurgeOlderThan(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to purge old records: %w", err)
	}
	fmt.Printf("Purged %d incident(s) and %d quarantine record(s) older than %d days\n",
		incidents, quarantined, days)
	return nil
}
