package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/pkg/desk"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DESKCTL_"

// Favourites maps preset names to heights in mm, in file order.
type Favourites = orderedmap.OrderedMap[string, float64]

// Config holds application configuration
type Config struct {
	MACAddress string `yaml:"mac_address"`
	// BaseHeight in mm; nil means read it from the desk.
	BaseHeight  *float64 `yaml:"base_height,omitempty"`
	AdapterName string   `yaml:"adapter_name" default:"hci0"`

	ScanTimeout       time.Duration `yaml:"scan_timeout" default:"5s"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" default:"10s"`
	InitTimeout       time.Duration `yaml:"init_timeout" default:"10s"`
	MoveCommandPeriod time.Duration `yaml:"move_command_period" default:"400ms"`
	MovementTimeout   time.Duration `yaml:"movement_timeout" default:"30s"`

	ServerAddress string `yaml:"server_address" default:"127.0.0.1"`
	ServerPort    int    `yaml:"server_port" default:"9123"`
	Forward       bool   `yaml:"forward"`

	Favourites *Favourites `yaml:"favourites"`

	LogLevel string `yaml:"log_level" default:"warn"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Favourites = orderedmap.New[string, float64]()
	return cfg
}

// DefaultPath returns $XDG_CONFIG_HOME/deskctl/config.yaml (or the OS equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "deskctl", "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path and the environment.
// A missing file is not an error. An optional .env file in the working directory is
// read before the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if cfg.Favourites == nil {
		cfg.Favourites = orderedmap.New[string, float64]()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.MACAddress = getEnv("MAC_ADDRESS", c.MACAddress)
	c.AdapterName = getEnv("ADAPTER_NAME", c.AdapterName)
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var err error
	if c.BaseHeight, err = getEnvAsFloatPtr("BASE_HEIGHT", c.BaseHeight); err != nil {
		return err
	}
	if c.ServerPort, err = getEnvAsInt("SERVER_PORT", c.ServerPort); err != nil {
		return err
	}
	if c.Forward, err = getEnvAsBool("FORWARD", c.Forward); err != nil {
		return err
	}
	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"SCAN_TIMEOUT", &c.ScanTimeout},
		{"CONNECTION_TIMEOUT", &c.ConnectionTimeout},
		{"INIT_TIMEOUT", &c.InitTimeout},
		{"MOVE_COMMAND_PERIOD", &c.MoveCommandPeriod},
		{"MOVEMENT_TIMEOUT", &c.MovementTimeout},
	} {
		if *d.dst, err = getEnvAsDuration(d.name, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// ServerAddr returns host:port for the command servers.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddress, c.ServerPort)
}

// DeskOptions returns the session options derived from the configuration.
func (c *Config) DeskOptions() desk.Options {
	return desk.Options{
		BaseHeight:        c.BaseHeight,
		MoveCommandPeriod: c.MoveCommandPeriod,
		MovementTimeout:   c.MovementTimeout,
		InitTimeout:       c.InitTimeout,
	}
}

// ConnectOptions returns the BLE connection options.
func (c *Config) ConnectOptions() device.ConnectOptions {
	return device.ConnectOptions{
		Address:        c.MACAddress,
		Adapter:        c.AdapterName,
		ConnectTimeout: c.ConnectionTimeout,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	s, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return v, nil
}

func getEnvAsFloatPtr(key string, fallback *float64) (*float64, error) {
	s, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return &v, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	s, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return v, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	s, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return v, nil
}
