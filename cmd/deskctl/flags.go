package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/deskctl/pkg/config"
)

// addConfigFlags registers one persistent flag per configuration field. Flags that are
// set on the command line override the file and the environment.
func addConfigFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	f := cmd.PersistentFlags()

	f.String("config", config.DefaultPath(), "Path to the YAML configuration file")
	f.String("mac-address", "", "Desk MAC address (or CoreBluetooth UUID on macOS)")
	f.Float64("base-height", 0, "Height in mm at the lowest position; unset reads it from the desk")
	f.String("adapter", d.AdapterName, "Bluetooth adapter")
	f.Duration("scan-timeout", d.ScanTimeout, "How long to scan for devices")
	f.Duration("connection-timeout", d.ConnectionTimeout, "Timeout for connecting to the desk")
	f.Duration("move-command-period", d.MoveCommandPeriod, "Interval between movement commands")
	f.Duration("movement-timeout", d.MovementTimeout, "Give up on a movement after this long (0 disables)")
	f.String("server-address", d.ServerAddress, "Server address to listen on or forward to")
	f.Int("server-port", d.ServerPort, "Server port to listen on or forward to")
	f.Bool("forward", false, "Forward the command to a running server instead of connecting")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.Bool("verbose", false, "Debug logging; --log-level takes precedence")
}

// loadConfig reads the configuration file and environment, then applies changed flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var ferr error
	flags.Visit(func(fl *pflag.Flag) {
		if ferr != nil {
			return
		}
		ferr = applyFlag(cfg, flags, fl.Name)
	})
	if ferr != nil {
		return nil, ferr
	}
	if verbose, _ := flags.GetBool("verbose"); verbose && !flags.Changed("log-level") {
		cfg.LogLevel = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlag(cfg *config.Config, flags *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case "mac-address":
		cfg.MACAddress, err = flags.GetString(name)
	case "base-height":
		var mm float64
		if mm, err = flags.GetFloat64(name); err == nil {
			cfg.BaseHeight = &mm
		}
	case "adapter":
		cfg.AdapterName, err = flags.GetString(name)
	case "scan-timeout":
		cfg.ScanTimeout, err = flags.GetDuration(name)
	case "connection-timeout":
		cfg.ConnectionTimeout, err = flags.GetDuration(name)
	case "move-command-period":
		cfg.MoveCommandPeriod, err = flags.GetDuration(name)
	case "movement-timeout":
		cfg.MovementTimeout, err = flags.GetDuration(name)
	case "server-address":
		cfg.ServerAddress, err = flags.GetString(name)
	case "server-port":
		cfg.ServerPort, err = flags.GetInt(name)
	case "forward":
		cfg.Forward, err = flags.GetBool(name)
	case "log-level":
		cfg.LogLevel, err = flags.GetString(name)
	}
	return err
}
