package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/deskctl/pkg/command"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd prints the current height when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "deskctl",
	Short: "Control Linak standing desks over Bluetooth LE",
	Long: `Control Linak standing desks (DPG controllers) over Bluetooth Low Energy:

- Print the current height, watch height and speed changes
- Move to a height in mm or to a named favourite
- Scan the adapter for desks
- Run a WebSocket, TCP or REST server so other processes can move the desk
  through one shared connection; use --forward to send commands to it.`,
	Version:      formatVersion(version),
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDeskCommand(cmd, command.Command{})
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Already reported to the user by the command runner
		var ve *command.ValidationError
		if !errors.As(err, &ve) {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		}
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("deskctl %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(heightCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(moveToCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(tcpServerCmd)
	rootCmd.AddCommand(restServerCmd)
	rootCmd.AddCommand(favouritesCmd)

	addConfigFlags(rootCmd)

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
