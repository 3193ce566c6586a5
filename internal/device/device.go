package device

import (
	"context"
	"time"
)

// Connection is the characteristic access layer: uniform operations against a GATT
// characteristic addressed by UUID, independent of the service it belongs to.
//
// Implementations perform no retries. Every error returned is a *TransportError
// or wraps one of the sentinels in this package.
type Connection interface {
	Read(ctx context.Context, uuid string) ([]byte, error)
	Write(ctx context.Context, uuid string, data []byte) error

	// Subscribe opens an independent notification stream for the characteristic.
	// Several subscriptions to the same characteristic may be open at once.
	Subscribe(ctx context.Context, uuid string) (*Subscription, error)

	// Unsubscribe closes every open subscription for the characteristic.
	// It is a no-op when nothing is subscribed.
	Unsubscribe(uuid string) error
}

// Link is a Connection whose lifecycle can be managed.
type Link interface {
	Connection

	Connect(ctx context.Context, opts *ConnectOptions) error
	Disconnect() error
	IsConnected() bool

	// Disconnected returns a channel closed when the current connection drops,
	// for any reason. A new channel is handed out after each successful Connect.
	Disconnected() <-chan struct{}
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	Address        string
	Adapter        string // "hci0" on Linux, ignored elsewhere
	ConnectTimeout time.Duration
}

// Advertisement is the part of a BLE advertisement the scanner reports.
type Advertisement interface {
	LocalName() string
	RSSI() int
	Addr() string
	Connectable() bool
}

// Scanner discovers advertising peripherals until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}
