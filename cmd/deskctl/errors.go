package main

import (
	"errors"
	"fmt"

	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/pkg/desk"
)

// Command-level errors
var (
	// ErrNoAddress is returned when a command needs the desk but no address is configured.
	ErrNoAddress = errors.New("no desk address configured; set mac_address or use --mac-address")
)

// FormatUserError turns internal errors into a one-line message for the terminal.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, device.ErrNotPermitted):
		return "permission denied by the Bluetooth stack; is another program connected to the desk?"
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth LE is not supported on this platform"
	case errors.Is(err, desk.ErrMovementTimeout):
		return "the desk did not reach the target in time"
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("timed out talking to the desk: %v", err)
	case device.IsConnectionState(err, device.NotConnected):
		return "lost connection to the desk"
	}
	return err.Error()
}
