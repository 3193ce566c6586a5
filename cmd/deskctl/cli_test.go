package main

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/scanner"
	"github.com/srg/deskctl/pkg/config"
	"github.com/srg/deskctl/pkg/desk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfigPath = filepath.Join("..", "..", "pkg", "config", "testdata", "config.yaml")

func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addConfigFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfig(t *testing.T) {
	t.Run("flags override the file", func(t *testing.T) {
		// GOAL: Verify only flags given on the command line override file values
		//
		// TEST SCENARIO: File sets port 9200 and hci1 → --server-port 9400 → port overridden, adapter kept

		cmd := newFlagCommand(t, "--config", testConfigPath, "--server-port", "9400", "--movement-timeout", "0s", "--forward")

		cfg, err := loadConfig(cmd)

		require.NoError(t, err)
		assert.Equal(t, 9400, cfg.ServerPort, "flag MUST override the file")
		assert.Equal(t, "hci1", cfg.AdapterName, "unset flag defaults MUST NOT override the file")
		assert.Zero(t, cfg.MovementTimeout)
		assert.True(t, cfg.Forward)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		cmd := newFlagCommand(t, "--config", testConfigPath, "--mac-address", "not-an-address")

		_, err := loadConfig(cmd)

		assert.ErrorContains(t, err, "invalid configuration")
	})

	t.Run("explicit log level is validated", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.LogLevel = "chatty"

		_, err := configureLogger(cfg, true)
		assert.Error(t, err, "explicit bad level MUST fail")

		logger, err := configureLogger(cfg, false)
		require.NoError(t, err, "bad level from the file MUST fall back")
		assert.NotNil(t, logger)
	})
}

func TestPrintFavourites(t *testing.T) {
	cfg, err := config.Load(testConfigPath)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printFavourites(&out, cfg))

	assert.Equal(t, "stand  1100mm\nsit    650mm\n", out.String(), "favourites MUST be listed in file order")

	out.Reset()
	require.NoError(t, printFavourites(&out, config.DefaultConfig()))
	assert.Equal(t, "No favourites configured\n", out.String())
}

func TestPrintDevices(t *testing.T) {
	devices := []scanner.DeviceInfo{
		{Address: "E8:5B:5B:24:22:E4", Name: "Desk 8511", RSSI: -52, LastSeen: time.Unix(0, 0)},
		{Address: "11:22:33:44:55:66", RSSI: -80},
	}

	var out bytes.Buffer
	require.NoError(t, printDevices(&out, devices, "hci0", "table"))

	assert.Equal(t, `Found 2 devices using hci0
ADDRESS            NAME       RSSI
E8:5B:5B:24:22:E4  Desk 8511  -52
11:22:33:44:55:66  -          -80
`, out.String())
}

func TestFormatUserError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{device.NewTransportError("write", desk.CommandUUID, device.ErrNotPermitted), "permission denied"},
		{fmt.Errorf("move: %w", desk.ErrMovementTimeout), "did not reach the target"},
		{device.NewTransportError("read", desk.ReferenceOutputUUID, device.ErrNotConnected), "lost connection"},
		{ErrNoAddress, "no desk address configured"},
		{errors.New("boom"), "boom"},
	}
	for _, tc := range cases {
		assert.Contains(t, FormatUserError(tc.err), tc.want)
	}
}

func TestLiveWriter(t *testing.T) {
	t.Run("passes through when not a terminal", func(t *testing.T) {
		var out bytes.Buffer
		w := newLiveWriter(&out)

		fmt.Fprintln(w, "Height:  630mm Speed: 32mm/s")
		fmt.Fprintln(w, "Height:  640mm Speed: 32mm/s")
		require.NoError(t, w.Close())

		assert.Equal(t, "Height:  630mm Speed: 32mm/s\nHeight:  640mm Speed: 32mm/s\n", out.String())
	})

	t.Run("rewrites samples in place on a terminal", func(t *testing.T) {
		// GOAL: Verify consecutive samples share one line and the last one stays visible
		//
		// TEST SCENARIO: header, two samples, final line → samples overwritten, newline before final

		var out bytes.Buffer
		w := &liveWriter{out: &out, live: true}

		fmt.Fprintln(w, "Moving to height: 640")
		fmt.Fprint(w, "Height:  630mm Speed: 32mm/s\nHeight:  640")
		fmt.Fprint(w, "mm Speed: 32mm/s\n")
		fmt.Fprintln(w, "Final height: 640mm (Target: 640mm)")
		require.NoError(t, w.Close())

		assert.Equal(t, "Moving to height: 640\n"+
			clearLineSequence+"Height:  630mm Speed: 32mm/s"+
			clearLineSequence+"Height:  640mm Speed: 32mm/s\n"+
			"Final height: 640mm (Target: 640mm)\n", out.String())
	})
}
