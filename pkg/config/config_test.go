package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "hci0", cfg.AdapterName)
	assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 400*time.Millisecond, cfg.MoveCommandPeriod)
	assert.Equal(t, 30*time.Second, cfg.MovementTimeout)
	assert.Equal(t, "127.0.0.1:9123", cfg.ServerAddr())
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Nil(t, cfg.BaseHeight, "base height MUST default to reading it from the desk")
	assert.Equal(t, 0, cfg.Favourites.Len())
}

func TestLoad(t *testing.T) {
	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join("testdata", "config.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "E8:5B:5B:24:22:E4", cfg.MACAddress)
		require.NotNil(t, cfg.BaseHeight)
		assert.Equal(t, 620.0, *cfg.BaseHeight)
		assert.Equal(t, "hci1", cfg.AdapterName)
		assert.Equal(t, 300*time.Millisecond, cfg.MoveCommandPeriod)
		assert.Equal(t, 30*time.Second, cfg.MovementTimeout, "unset keys MUST keep defaults")
		assert.Equal(t, 9200, cfg.ServerPort)

		var names []string
		for pair := cfg.Favourites.Oldest(); pair != nil; pair = pair.Next() {
			names = append(names, pair.Key)
		}
		assert.Equal(t, []string{"stand", "sit"}, names, "favourites MUST keep file order")
		sit, ok := cfg.Favourites.Get("sit")
		assert.True(t, ok)
		assert.Equal(t, 650.0, sit)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("DESKCTL_SERVER_PORT", "9300")
		t.Setenv("DESKCTL_MOVEMENT_TIMEOUT", "0s")
		t.Setenv("DESKCTL_FORWARD", "true")

		cfg, err := Load(filepath.Join("testdata", "config.yaml"))
		require.NoError(t, err)

		assert.Equal(t, 9300, cfg.ServerPort)
		assert.Zero(t, cfg.MovementTimeout)
		assert.True(t, cfg.Forward)
	})

	t.Run("zero base height is kept", func(t *testing.T) {
		// GOAL: Verify an explicit base of 0mm survives loading instead of meaning "read from desk"
		//
		// TEST SCENARIO: File without base_height → nil; DESKCTL_BASE_HEIGHT=0 → pointer to 0

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("adapter_name: hci0\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Nil(t, cfg.BaseHeight, "absent base_height MUST stay unset")

		t.Setenv("DESKCTL_BASE_HEIGHT", "0")
		cfg, err = Load(path)
		require.NoError(t, err)
		require.NotNil(t, cfg.BaseHeight, "explicit zero MUST be kept")
		assert.Zero(t, *cfg.BaseHeight)
		require.NotNil(t, cfg.DeskOptions().BaseHeight, "explicit zero MUST reach the session options")
		assert.Zero(t, *cfg.DeskOptions().BaseHeight)
	})

	t.Run("bad environment value", func(t *testing.T) {
		t.Setenv("DESKCTL_SERVER_PORT", "nine")

		_, err := Load("")
		assert.ErrorContains(t, err, "DESKCTL_SERVER_PORT")
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err, "missing config file MUST NOT be an error")
		assert.Equal(t, "hci0", cfg.AdapterName)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("favourites: [1, 2"), 0o600))

		_, err := Load(path)
		assert.ErrorContains(t, err, "failed to parse config")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.MACAddress = "E8:5B:5B:24:22:E4"
		base := 620.0
		cfg.BaseHeight = &base
		cfg.Favourites.Set("sit", 650)
		return cfg
	}

	require.NoError(t, Validate(valid()))

	macos := valid()
	macos.MACAddress = "2F4A6C1E-0B8D-4C3A-9E57-1D2B3C4D5E6F"
	assert.NoError(t, Validate(macos), "CoreBluetooth identifiers MUST be accepted")

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad address", func(c *Config) { c.MACAddress = "desk" }, "mac_address"},
		{"zero period", func(c *Config) { c.MoveCommandPeriod = 0 }, "move_command_period"},
		{"negative timeout", func(c *Config) { c.MovementTimeout = -time.Second }, "movement_timeout"},
		{"bad port", func(c *Config) { c.ServerPort = 70000 }, "server_port"},
		{"bad favourite name", func(c *Config) { c.Favourites.Set("sit down", 700) }, "favourite \"sit down\""},
		{"favourite below base", func(c *Config) { c.Favourites.Set("floor", 500) }, "below the base height"},
		{"negative base", func(c *Config) { v := -1.0; c.BaseHeight = &v }, "base_height"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, Validate(cfg), tt.errMsg)
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"bogus", logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.Equal(t, tt.expected, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestDerivedOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MACAddress = "E8:5B:5B:24:22:E4"
	base := 620.0
	cfg.BaseHeight = &base

	opts := cfg.DeskOptions()
	require.NotNil(t, opts.BaseHeight)
	assert.Equal(t, 620.0, *opts.BaseHeight)
	assert.Equal(t, cfg.MoveCommandPeriod, opts.MoveCommandPeriod)
	assert.Equal(t, cfg.MovementTimeout, opts.MovementTimeout)

	conn := cfg.ConnectOptions()
	assert.Equal(t, "E8:5B:5B:24:22:E4", conn.Address)
	assert.Equal(t, "hci0", conn.Adapter)
}
