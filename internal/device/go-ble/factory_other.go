//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/deskctl/internal/device"
)

func newPlatformDevice(_ string) (ble.Device, error) {
	return nil, fmt.Errorf("%w: BLE on %s", device.ErrUnsupported, runtime.GOOS)
}
