package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hostsentry/hostsentry/internal/policy"
	"github.com/hostsentry/hostsentry/internal/signature"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Show the effective configuration after merging defaults, the config
file, and command-line flags, including the protection mode the security
level actually permits.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	effective := policy.FloorMode(cfg.General.Level, cfg.General.Mode)
	enabled := policy.Resolve(cfg.General.Level)

	if f := viper.ConfigFileUsed(); f != "" {
		fmt.Printf("Config file: %s\n\n", f)
	} else {
		fmt.Print("Config file: (none, defaults + flags)\n\n")
	}

	fmt.Println("[general]")
	fmt.Printf("  security_level  = %s\n", cfg.General.Level)
	fmt.Printf("  protection_mode = %s (effective: %s)\n", cfg.General.Mode, effective)
	fmt.Printf("  database_path   = %s\n", cfg.General.DatabasePath)
	fmt.Printf("  signature_file  = %s\n", cfg.General.SignatureFile)

	fmt.Println("[monitoring]")
	fmt.Printf("  watch_dirs       = %s\n", strings.Join(cfg.Monitoring.WatchDirs, ","))
	fmt.Printf("  file_interval    = %s (enabled: %v)\n", cfg.Monitoring.FileInterval, enabled.File)
	fmt.Printf("  process_interval = %s (enabled: %v)\n", cfg.Monitoring.ProcessInterval, enabled.Process)
	fmt.Printf("  network_interval = %s (enabled: %v)\n", cfg.Monitoring.NetworkInterval, enabled.Network)
	fmt.Printf("  memory_interval  = %s (enabled: %v)\n", cfg.Monitoring.MemoryInterval, enabled.Memory)
	fmt.Printf("  suspicious_ports = %v\n", cfg.Monitoring.SuspiciousPorts)

	fmt.Println("[detection]")
	fmt.Printf("  dedup_window     = %s\n", cfg.Detection.DedupWindow)
	fmt.Printf("  cpu_threshold    = %.1f%% (scaled: %.1f%%)\n",
		cfg.Detection.CPUThreshold, cfg.Detection.CPUThreshold*enabled.ThresholdScale)
	fmt.Printf("  mem_threshold    = %.1f%% (scaled: %.1f%%)\n",
		cfg.Detection.MemThreshold, cfg.Detection.MemThreshold*enabled.ThresholdScale)
	fmt.Printf("  network_cooldown = %s\n", cfg.Detection.NetworkCooldown)

	fmt.Println("[prevention]")
	fmt.Printf("  quarantine_dir = %s\n", cfg.Prevention.QuarantineDir)

	fmt.Println("[response]")
	fmt.Printf("  terminate_grace = %s\n", cfg.Response.TerminateGrace)
	fmt.Printf("  sandbox_timeout = %s\n", cfg.Response.SandboxTimeout)

	fmt.Println("[compliance]")
	fmt.Printf("  retention_days   = %d\n", cfg.Compliance.RetentionDays)
	fmt.Printf("  cleanup_interval = %s\n", cfg.Compliance.CleanupInterval)

	fmt.Println("[advanced]")
	fmt.Printf("  redis_url  = %s\n", orUnset(cfg.Advanced.RedisURL))
	fmt.Printf("  update_url = %s\n", orUnset(cfg.Advanced.UpdateURL))

	var allowed []string
	for _, a := range []signature.Action{signature.ActionLog, signature.ActionQuarantine, signature.ActionBlock, signature.ActionTerminate} {
		if policy.AllowedActions(effective)[a] {
			allowed = append(allowed, string(a))
		}
	}
	fmt.Printf("\nPermitted actions: %s\n", strings.Join(allowed, ", "))
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
