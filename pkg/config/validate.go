package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/srg/deskctl/pkg/command"
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.MACAddress != "" && !validAddress(cfg.MACAddress) {
		return fmt.Errorf("mac_address %q: expected AA:BB:CC:DD:EE:FF or a platform UUID", cfg.MACAddress)
	}
	if cfg.BaseHeight != nil && *cfg.BaseHeight < 0 {
		return fmt.Errorf("base_height must not be negative, got %v", *cfg.BaseHeight)
	}
	if cfg.MoveCommandPeriod <= 0 {
		return fmt.Errorf("move_command_period must be positive, got %v", cfg.MoveCommandPeriod)
	}
	if cfg.MovementTimeout < 0 {
		return fmt.Errorf("movement_timeout must not be negative, got %v", cfg.MovementTimeout)
	}
	if cfg.ConnectionTimeout <= 0 || cfg.ScanTimeout <= 0 {
		return fmt.Errorf("connection_timeout and scan_timeout must be positive")
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range", cfg.ServerPort)
	}

	if cfg.Favourites != nil {
		for pair := cfg.Favourites.Oldest(); pair != nil; pair = pair.Next() {
			if !command.ValidFavouriteName(pair.Key) {
				return fmt.Errorf("favourite %q: names may only contain letters, digits, '_' and '-'", pair.Key)
			}
			if pair.Value <= 0 {
				return fmt.Errorf("favourite %q: height must be positive, got %v", pair.Key, pair.Value)
			}
			if cfg.BaseHeight != nil && pair.Value < *cfg.BaseHeight {
				return fmt.Errorf("favourite %q: %vmm is below the base height %vmm", pair.Key, pair.Value, *cfg.BaseHeight)
			}
		}
	}
	return nil
}

// validAddress accepts a BLE MAC address (Linux) or a CoreBluetooth peripheral UUID (macOS).
func validAddress(s string) bool {
	if _, err := net.ParseMAC(s); err == nil && strings.Count(s, ":") == 5 {
		return true
	}
	clean := strings.ReplaceAll(s, "-", "")
	if len(clean) != 32 {
		return false
	}
	for _, r := range strings.ToLower(clean) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
