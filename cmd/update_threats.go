package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// updateThreatsCmd represents the update-threats command
var updateThreatsCmd = &cobra.Command{
	Use:   "update-threats",
	Short: "Fetch a new signature set from the update source",
	Long: `Download the signature JSON from the configured update URL, validate
it, and persist it locally so subsequent runs load the fresh set. A failed or
invalid download leaves the current set untouched.`,
	RunE: runUpdateThreats,
}

var updateURLFlag string

func init() {
	rootCmd.AddCommand(updateThreatsCmd)

	updateThreatsCmd.Flags().StringVar(&updateURLFlag, "url", "", "Signature update URL (overrides config)")
}

func runUpdateThreats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	url := cfg.Advanced.UpdateURL
	if updateURLFlag != "" {
		url = updateURLFlag
	}
	if url == "" {
		return fmt.Errorf("no update URL configured (set advanced.update_url or pass --url)")
	}

	logger := newLogger("[signatures] ")
	sigs, err := loadSignatures(cfg, logger)
	if err != nil {
		return err
	}
	before := sigs.Snapshot()

	data, err := sigs.Update(ctx, url)
	if err != nil {
		return fmt.Errorf("signature update failed, current set retained: %w", err)
	}

	// Persist so the next process start picks the new set up.
	if path := cfg.General.SignatureFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create signature directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to persist signature set: %w", err)
		}
	}

	after := sigs.Snapshot()
	fmt.Printf("Signature set updated: v%s (%d rules) -> v%s (%d rules)\n",
		before.Version, before.SignatureCount, after.Version, after.SignatureCount)
	return nil
}
