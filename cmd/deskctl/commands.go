package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	goble "github.com/srg/deskctl/internal/device/go-ble"
	"github.com/srg/deskctl/internal/scanner"
	"github.com/srg/deskctl/internal/server"
	"github.com/srg/deskctl/pkg/command"
	"github.com/srg/deskctl/pkg/config"
)

var heightCmd = &cobra.Command{
	Use:   "height",
	Short: "Print the current desk height",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDeskCommand(cmd, command.Command{})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for changes to desk height and speed and print them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDeskCommand(cmd, command.Command{Kind: command.Watch})
	},
}

var moveToCmd = &cobra.Command{
	Use:   "move-to <mm|favourite>",
	Short: "Move the desk to a height in mm or to a favourite",
	Example: `  deskctl move-to 1100
  deskctl move-to standing
  deskctl move-to sitting --forward`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeskCommand(cmd, command.Command{Kind: command.MoveTo, Value: args[0]})
	},
}

var favouritesCmd = &cobra.Command{
	Use:   "favourites",
	Short: "List the configured favourite heights",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return printFavourites(cmd.OutOrStdout(), cfg)
	},
}

func printFavourites(out io.Writer, cfg *config.Config) error {
	if cfg.Favourites == nil || cfg.Favourites.Len() == 0 {
		_, err := fmt.Fprintln(out, "No favourites configured")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for pair := cfg.Favourites.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(w, "%s\t%.0fmm\n", pair.Key, pair.Value)
	}
	return w.Flush()
}

var (
	scanFormat     string
	scanNamePrefix string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the adapter for Bluetooth LE devices",
	Long: `Scan for Bluetooth Low Energy devices for scan_timeout and list them,
strongest signal first. Use the address of your desk as mac_address.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&scanNamePrefix, "name-prefix", "", "Only show devices whose name starts with this prefix")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	backend, err := goble.NewScanner(cfg.AdapterName)
	if err != nil {
		return fmt.Errorf("failed to open adapter %s: %w", cfg.AdapterName, err)
	}
	s := scanner.NewScanner(backend, logger)

	progress := NewCountdownProgressPrinter(out, "Scanning", "Scanning", cfg.ScanTimeout, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(cmd.Context(), &scanner.ScanOptions{
		Duration:        cfg.ScanTimeout,
		DuplicateFilter: true,
		NamePrefix:      scanNamePrefix,
	}, progress.Callback())
	if err != nil {
		return err
	}
	progress.Stop()

	return printDevices(out, devices, cfg.AdapterName, scanFormat)
}

func printDevices(out io.Writer, devices []scanner.DeviceInfo, adapter, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}

	fmt.Fprintf(out, "Found %d devices using %s\n", len(devices), adapter)
	if len(devices) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", d.Address, name, d.RSSI)
	}
	return w.Flush()
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Keep the desk connected and accept commands over WebSocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServer(cmd, command.RunServer)
	},
}

var tcpServerCmd = &cobra.Command{
	Use:   "tcp-server",
	Short: "Keep the desk connected and accept commands over a raw TCP socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServer(cmd, command.RunTCP)
	},
}

var restServerCmd = &cobra.Command{
	Use:   "rest-server",
	Short: "Keep the desk connected and serve the REST API under /rest/desk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServer(cmd, "rest")
	},
}

func runServer(cmd *cobra.Command, kind command.Kind) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if cfg.Forward {
		return fmt.Errorf("%s cannot be forwarded", cmd.Name())
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := openSession(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer s.Close()

	runner := server.NewRunner(s.desk, cfg.Favourites, logger)
	addr := cfg.ServerAddr()

	switch kind {
	case command.RunServer:
		fmt.Fprintf(out, "Server listening on ws://%s\n", addr)
		err = server.NewWebSocketServer(runner, out, logger).ListenAndServe(ctx, addr)
	case command.RunTCP:
		fmt.Fprintf(out, "TCP Server listening on %s\n", addr)
		err = server.NewTCPServer(runner, out, logger).ListenAndServe(ctx, addr)
	default:
		fmt.Fprintf(out, "REST server listening on http://%s/rest/desk\n", addr)
		err = server.NewRESTServer(runner, s.desk, cfg.Favourites, out, logger).ListenAndServe(ctx, addr)
	}
	return err
}
