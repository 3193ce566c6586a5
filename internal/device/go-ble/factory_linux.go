//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newPlatformDevice(adapter string) (ble.Device, error) {
	id := 0
	if adapter != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
		if err != nil {
			return nil, fmt.Errorf("invalid adapter name %q: expected hciN", adapter)
		}
		id = n
	}
	return linux.NewDevice(ble.OptDeviceID(id))
}
