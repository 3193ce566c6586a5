package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/deskctl/internal/device"
)

// bleScanner wraps ble.Device to implement a device.Scanner interface
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// NewScanner creates a device.Scanner bound to the given adapter.
func NewScanner(adapter string) (device.Scanner, error) {
	dev, err := defaultDevice(adapter)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}
