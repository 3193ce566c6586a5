package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/deskctl/internal/device"
)

// gattClient is the subset of ble.Client the connection relies on.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// DeviceFactory creates the platform ble.Device for an adapter (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

var (
	devMu   sync.Mutex
	devByID = map[string]ble.Device{}
)

// defaultDevice returns the ble.Device for adapter, creating it once per process.
// The HCI socket cannot be opened twice, so reconnects must reuse it.
func defaultDevice(adapter string) (ble.Device, error) {
	devMu.Lock()
	defer devMu.Unlock()

	if dev, ok := devByID[adapter]; ok {
		return dev, nil
	}
	dev, err := DeviceFactory(adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	devByID[adapter] = dev
	ble.SetDefaultDevice(dev)
	return dev, nil
}

// dial connects to the peripheral (can be overridden in tests)
var dial = func(ctx context.Context, opts *device.ConnectOptions) (gattClient, error) {
	if _, err := defaultDevice(opts.Adapter); err != nil {
		return nil, err
	}
	client, err := ble.Dial(ctx, ble.NewAddr(opts.Address))
	if err != nil {
		return nil, err
	}
	return client, nil
}
