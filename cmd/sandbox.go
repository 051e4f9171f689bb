package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostsentry/hostsentry/internal/respond"
)

// sandboxCmd represents the sandbox command
var sandboxCmd = &cobra.Command{
	Use:   "sandbox -- COMMAND [ARGS...]",
	Short: "Run a command under the best available isolation",
	Long: `Execute a command inside an isolation sandbox. Strategies are tried
in order (bwrap, then firejail) and fall back to unrestricted execution with
the degradation reported.

Examples:
  hostsentry sandbox -- /tmp/suspicious.sh
  hostsentry sandbox --timeout 10s -- python3 sample.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSandbox,
}

var sandboxTimeout string

func init() {
	rootCmd.AddCommand(sandboxCmd)

	sandboxCmd.Flags().StringVar(&sandboxTimeout, "timeout", "", "Wall-clock limit for the command (e.g. 30s)")
}

func runSandbox(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	timeout := cfg.Response.SandboxTimeout
	if sandboxTimeout != "" {
		d, err := time.ParseDuration(sandboxTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout value: %w", err)
		}
		timeout = d
	}

	logger := newLogger("[sandbox] ")
	res := respond.RunSandboxed(cmd.Context(), logger, timeout, args)

	fmt.Printf("Strategy: %s\n", res.Strategy)
	if res.Degraded {
		fmt.Println("WARNING: no isolation tool available, command ran unrestricted")
	}
	if res.Output != "" {
		fmt.Println("--- output ---")
		fmt.Print(res.Output)
		if res.Output[len(res.Output)-1] != '\n' {
			fmt.Println()
		}
		fmt.Println("--------------")
	}
	if res.TimedOut {
		return fmt.Errorf("command exceeded %s and was killed", timeout)
	}
	if res.Err != nil {
		return fmt.Errorf("sandboxed command failed: %w", res.Err)
	}
	fmt.Printf("Exit code: %d\n", res.ExitCode)
	return nil
}
