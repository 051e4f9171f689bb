package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostsentry/hostsentry/internal/respond"
	"github.com/hostsentry/hostsentry/internal/store"
)

// quarantineCmd represents the quarantine command
var quarantineCmd = &cobra.Command{
	Use:   "quarantine FILE",
	Short: "Manually quarantine a file",
	Long: `Move a file into the quarantine directory, strip its permissions,
and record it in the quarantine inventory. Quarantining an already
quarantined file is a no-op that reports the existing record.

Use --list to show the current inventory instead.`,
	RunE: runQuarantine,
}

var (
	quarantineReason string
	quarantineList   bool
)

func init() {
	rootCmd.AddCommand(quarantineCmd)

	quarantineCmd.Flags().StringVar(&quarantineReason, "reason", "manual quarantine", "Reason recorded with the quarantine")
	quarantineCmd.Flags().BoolVar(&quarantineList, "list", false, "List quarantined files instead of quarantining")
}

func runQuarantine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	if quarantineList {
		records, err := st.ListQuarantine(ctx)
		if err != nil {
			return fmt.Errorf("failed to list quarantine records: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("Quarantine is empty.")
			return nil
		}
		fmt.Printf("%d quarantined file(s):\n", len(records))
		for _, rec := range records {
			fmt.Printf("  %s  %s -> %s (%s)\n",
				rec.Timestamp.Format("2006-01-02 15:04:05"), rec.OriginalPath, rec.QuarantinePath, rec.Reason)
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("expected exactly one file to quarantine")
	}

	// Manual quarantine is operator-driven and bypasses the mode gate.
	eng := respond.NewEngine(st, respond.Options{
		Mode:          cfg.General.Mode,
		QuarantineDir: cfg.Prevention.QuarantineDir,
		Logger:        newLogger("[response] "),
	})

	rec, err := eng.Quarantine(ctx, args[0], quarantineReason, false)
	if err != nil {
		return fmt.Errorf("failed to quarantine %s: %w", args[0], err)
	}
	if rec.QuarantinePath == "" {
		fmt.Printf("%s was already gone; nothing to quarantine.\n", args[0])
		return nil
	}
	fmt.Printf("Quarantined %s -> %s (record %s)\n", rec.OriginalPath, rec.QuarantinePath, rec.ID)
	return nil
}
