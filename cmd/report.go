package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hostsentry/hostsentry/internal/metrics"
	"github.com/hostsentry/hostsentry/internal/report"
	"github.com/hostsentry/hostsentry/internal/store"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report [summary|full|json]",
	Short: "Generate a security report",
	Long: `Aggregate incident counts, the quarantine inventory, recent
incidents, and a host snapshot into a report. Generation is best-effort:
unavailable sections are listed as degraded rather than failing the report.

Examples:
  hostsentry report
  hostsentry report json > report.json
  hostsentry report full --json > report.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

var reportJSON bool

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Emit the report as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	kind := report.KindSummary
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "summary":
			kind = report.KindSummary
		case "full":
			kind = report.KindFull
		case "json":
			// Shorthand for the full report rendered as JSON.
			kind = report.KindFull
			reportJSON = true
		default:
			return fmt.Errorf("unknown report type %q (want summary, full, or json)", args[0])
		}
	}

	logger := newLogger("[report] ")
	sigs, err := loadSignatures(cfg, logger)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	rep := report.NewReporter(st, metrics.NewStore(), sigs, logger).Generate(ctx, kind)

	if reportJSON {
		out, err := rep.RenderJSON()
		if err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(rep.RenderText())
	return nil
}
