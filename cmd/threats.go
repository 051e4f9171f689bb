package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// threatsCmd represents the threats command
var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "List the active threat signatures",
	RunE:  runThreats,
}

func init() {
	rootCmd.AddCommand(threatsCmd)
}

func runThreats(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	sigs, err := loadSignatures(cfg, newLogger("[signatures] "))
	if err != nil {
		return err
	}

	snap := sigs.Snapshot()
	fmt.Printf("Signature set v%s (updated %s)\n\n", snap.Version, snap.LastUpdated)

	for _, sig := range sigs.Signatures() {
		fmt.Printf("  %-8s %-9s %-10s %-8s %s\n",
			sig.ID, sig.Severity, sig.Action, sig.Category, sig.Name)
		if verbose {
			fmt.Printf("           pattern: %s\n", sig.Pattern)
		}
	}

	fmt.Printf("\nDeny lists: %d IPs/CIDRs, %d file globs, %d process fragments\n",
		snap.IPBlacklistLen, snap.FileBlacklistLen, snap.ProcBlacklistLen)
	return nil
}
