package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/deskctl/internal/device"
	goble "github.com/srg/deskctl/internal/device/go-ble"
	"github.com/srg/deskctl/internal/server"
	"github.com/srg/deskctl/pkg/command"
	"github.com/srg/deskctl/pkg/config"
	"github.com/srg/deskctl/pkg/desk"
)

// newLink creates the BLE link to the desk.
var newLink = func(logger *logrus.Logger) device.Link {
	return goble.NewBLEConnection(logger)
}

// shutdownTimeout bounds the stop and disconnect on exit.
const shutdownTimeout = 5 * time.Second

// setup loads configuration and creates the logger for a command.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cfg, cmd.Flags().Changed("log-level"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// session is a connected, initialised desk with its link supervisor.
type session struct {
	supervisor *desk.Supervisor
	desk       *desk.Desk
	logger     *logrus.Logger
	out        io.Writer
	address    string
}

func openSession(ctx context.Context, cfg *config.Config, logger *logrus.Logger, out io.Writer) (*session, error) {
	if cfg.MACAddress == "" {
		return nil, ErrNoAddress
	}

	progress := NewProgressPrinter(out, "Connecting", cfg.MACAddress)
	progress.Start()
	sup := desk.NewSupervisor(newLink(logger), cfg.ConnectOptions(), cfg.DeskOptions(), logger)
	d, err := sup.Start(ctx)
	progress.Stop()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.MACAddress, err)
	}

	statusOK.Fprintf(out, "Connected %s\n", cfg.MACAddress)
	logger.WithFields(logrus.Fields{
		"base_height":  d.BaseHeight(),
		"capabilities": d.Capabilities().String(),
	}).Info("Desk ready")

	return &session{supervisor: sup, desk: d, logger: logger, out: out, address: cfg.MACAddress}, nil
}

// Close stops the desk and disconnects.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.supervisor.Close(ctx); err != nil {
		s.logger.WithError(err).Warn("Disconnect failed")
		statusWarn.Fprintf(s.out, "Disconnect from %s failed\n", s.address)
		return
	}
	statusDim.Fprintln(s.out, "Disconnected")
}

// runDeskCommand runs a height, watch or move_to command locally, or forwards it.
func runDeskCommand(cmd *cobra.Command, c command.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	stdout := cmd.OutOrStdout()

	out := newLiveWriter(stdout)
	defer out.Close()

	if cfg.Forward {
		logger.WithFields(logrus.Fields{
			"server":  cfg.ServerAddr(),
			"command": c.String(),
		}).Debug("Forwarding command")
		return server.Forward(ctx, cfg.ServerAddr(), c, out)
	}

	s, err := openSession(ctx, cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer s.Close()

	runner := server.NewRunner(s.desk, cfg.Favourites, logger)
	return runner.Run(ctx, c, out)
}
