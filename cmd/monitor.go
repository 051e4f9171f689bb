package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostsentry/hostsentry/internal/bus"
	"github.com/hostsentry/hostsentry/internal/engine"
	"github.com/hostsentry/hostsentry/internal/metrics"
	"github.com/hostsentry/hostsentry/internal/store"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the continuous monitoring engine",
	Long: `Start every monitor the configured security level enables and run
until interrupted. Candidates flow through detection and response into the
incident log; Ctrl+C shuts down gracefully.

Examples:
  # Standard monitoring in detection mode
  hostsentry monitor

  # Watch everything and quarantine automatically
  hostsentry monitor --level high --mode quarantine

  # Publish incidents to Redis Streams as well
  hostsentry monitor --redis redis://localhost:6379`,
	RunE: runMonitor,
}

var watchDirsFlag []string

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringSliceVar(&watchDirsFlag, "watch", nil, "Directories for the file monitor (overrides config)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	logger := newLogger("[hostsentry] ")
	sigs, err := loadSignatures(cfg, logger)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	b := bus.NewBus(cfg.Advanced.RedisURL, logger)
	defer b.Close()

	watchDirs := cfg.Monitoring.WatchDirs
	if len(watchDirsFlag) > 0 {
		watchDirs = watchDirsFlag
	}

	eng := engine.New(sigs, st, metrics.NewStore(), b, engine.Options{
		Level:           cfg.General.Level,
		Mode:            cfg.General.Mode,
		WatchDirs:       watchDirs,
		FileInterval:    cfg.Monitoring.FileInterval,
		ProcessInterval: cfg.Monitoring.ProcessInterval,
		NetworkInterval: cfg.Monitoring.NetworkInterval,
		MemoryInterval:  cfg.Monitoring.MemoryInterval,
		SuspiciousPorts: cfg.Monitoring.SuspiciousPorts,
		NetworkCooldown: cfg.Detection.NetworkCooldown,
		CPUThreshold:    cfg.Detection.CPUThreshold,
		MemThreshold:    cfg.Detection.MemThreshold,
		DedupWindow:     cfg.Detection.DedupWindow,
		QuarantineDir:   cfg.Prevention.QuarantineDir,
		TerminateGrace:  cfg.Response.TerminateGrace,
		RetentionDays:   cfg.Compliance.RetentionDays,
		CleanupInterval: cfg.Compliance.CleanupInterval,
		Logger:          logger,
	})

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
