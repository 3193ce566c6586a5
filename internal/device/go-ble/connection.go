package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/groutine"
)

// DefaultOperationTimeout bounds a single read or write when the caller's context has no deadline.
const DefaultOperationTimeout = 5 * time.Second

// BLEConnection is a go-ble backed device.Link.
type BLEConnection struct {
	logger    *logrus.Logger
	opTimeout time.Duration

	connMutex    sync.RWMutex
	writeMutex   sync.Mutex
	client       gattClient
	address      string
	chars        map[string]*ble.Characteristic
	disconnected chan struct{}
	dropOnce     *sync.Once

	subscribers *hashmap.Map[string, *charSubscribers]
	nextSubID   atomic.Uint64
}

// charSubscribers fans one GATT subscription out to every open device.Subscription.
type charSubscribers struct {
	mu     sync.Mutex
	char   *ble.Characteristic
	active bool
	subs   map[uint64]*device.Subscription
}

func (cs *charSubscribers) deliver(data []byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, s := range cs.subs {
		s.Deliver(data)
	}
}

// NewBLEConnection creates a disconnected link.
func NewBLEConnection(logger *logrus.Logger) *BLEConnection {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	closed := make(chan struct{})
	close(closed)
	return &BLEConnection{
		logger:       logger,
		opTimeout:    DefaultOperationTimeout,
		chars:        make(map[string]*ble.Characteristic),
		disconnected: closed,
		dropOnce:     &sync.Once{},
		subscribers:  hashmap.New[string, *charSubscribers](),
	}
}

// Connect dials the peripheral and discovers its characteristics.
func (c *BLEConnection) Connect(ctx context.Context, opts *device.ConnectOptions) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if opts == nil || strings.TrimSpace(opts.Address) == "" {
		c.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}
	if c.client != nil {
		c.logger.WithField("address", opts.Address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	c.logger.WithFields(logrus.Fields{
		"address": opts.Address,
		"adapter": opts.Adapter,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	client, err := dial(connCtx, opts)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": opts.Address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		if errors.Is(connCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", device.ErrTimeout, err)
		}
		return fmt.Errorf("failed to connect to device with address %q: %w", opts.Address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to discover profile")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, ch := range svc.Characteristics {
			chars[device.NormalizeUUID(ch.UUID.String())] = ch
		}
	}

	c.client = client
	c.address = opts.Address
	c.chars = chars
	c.disconnected = make(chan struct{})
	c.dropOnce = &sync.Once{}

	disconnected, dropOnce := c.disconnected, c.dropOnce
	groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
		select {
		case <-client.Disconnected():
			c.logger.WithField("address", opts.Address).Warn("BLE device reported disconnection")
			c.dropped(client, dropOnce)
		case <-disconnected:
		}
	})

	c.logger.WithFields(logrus.Fields{
		"address":         opts.Address,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected successfully")
	return nil
}

// dropped tears the connection state down after the peer went away.
func (c *BLEConnection) dropped(client gattClient, once *sync.Once) {
	once.Do(func() {
		c.connMutex.Lock()
		if c.client == client {
			c.client = nil
		}
		close(c.disconnected)
		c.connMutex.Unlock()

		c.subscribers.Range(func(uuid string, cs *charSubscribers) bool {
			cs.mu.Lock()
			for id, s := range cs.subs {
				s.EndStream()
				delete(cs.subs, id)
			}
			cs.active = false
			cs.mu.Unlock()
			c.subscribers.Del(uuid)
			return true
		})
	})
}

// Disconnect closes every subscription and the link. It is a no-op when already disconnected.
func (c *BLEConnection) Disconnect() error {
	c.connMutex.RLock()
	client, once, address := c.client, c.dropOnce, c.address
	c.connMutex.RUnlock()

	if client == nil {
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	c.logger.WithField("address", address).Info("Disconnecting BLE device...")

	c.subscribers.Range(func(uuid string, cs *charSubscribers) bool {
		cs.mu.Lock()
		if cs.active {
			if err := client.Unsubscribe(cs.char, false); err != nil {
				c.logger.WithFields(logrus.Fields{
					"char_uuid": uuid,
					"error":     err,
				}).Warn("Failed to unsubscribe during disconnect")
			}
		}
		cs.mu.Unlock()
		return true
	})

	c.dropped(client, once)

	if err := client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	c.logger.Info("BLE device disconnected successfully")
	return nil
}

// IsConnected reports whether the link is up.
func (c *BLEConnection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.client != nil
}

// Disconnected returns a channel closed when the current connection drops.
func (c *BLEConnection) Disconnected() <-chan struct{} {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.disconnected
}

// resolve looks up the live client and characteristic handle for uuid.
func (c *BLEConnection) resolve(uuid string) (gattClient, *ble.Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if c.client == nil {
		return nil, nil, device.ErrNotConnected
	}
	ch, ok := c.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return c.client, ch, nil
}

// await runs a blocking GATT call bounded by ctx, the operation timeout, and the link.
func (c *BLEConnection) await(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && c.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
	}

	type result struct {
		data []byte
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		data, err := fn()
		resultCh <- result{data: data, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.data, NormalizeError(r.err)
	case <-c.Disconnected():
		return nil, device.ErrNotConnected
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, device.ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Read reads the characteristic value.
func (c *BLEConnection) Read(ctx context.Context, uuid string) ([]byte, error) {
	client, ch, err := c.resolve(uuid)
	if err != nil {
		return nil, device.NewTransportError("read", uuid, err)
	}
	data, err := c.await(ctx, func() ([]byte, error) {
		return client.ReadCharacteristic(ch)
	})
	if err != nil {
		return nil, device.NewTransportError("read", uuid, err)
	}

	c.logger.WithFields(logrus.Fields{
		"char_uuid": device.ShortenUUID(uuid),
		"value":     fmt.Sprintf("%x", data),
	}).Trace("Characteristic read")
	return data, nil
}

// Write writes data with response. Writes are serialised per link.
func (c *BLEConnection) Write(ctx context.Context, uuid string, data []byte) error {
	client, ch, err := c.resolve(uuid)
	if err != nil {
		return device.NewTransportError("write", uuid, err)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	payload := make([]byte, len(data))
	copy(payload, data)
	_, err = c.await(ctx, func() ([]byte, error) {
		return nil, client.WriteCharacteristic(ch, payload, false)
	})
	if err != nil {
		return device.NewTransportError("write", uuid, err)
	}

	c.logger.WithFields(logrus.Fields{
		"char_uuid": device.ShortenUUID(uuid),
		"value":     fmt.Sprintf("%x", payload),
	}).Trace("Characteristic written")
	return nil
}

// Subscribe opens a notification stream. The GATT subscription is shared between
// streams of the same characteristic and released when the last one closes.
func (c *BLEConnection) Subscribe(ctx context.Context, uuid string) (*device.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, device.NewTransportError("subscribe", uuid, err)
	}
	client, ch, err := c.resolve(uuid)
	if err != nil {
		return nil, device.NewTransportError("subscribe", uuid, err)
	}

	key := device.NormalizeUUID(uuid)
	cs := c.lockSubscribers(key, ch)
	defer cs.mu.Unlock()

	if !cs.active {
		if err := client.Subscribe(ch, false, cs.deliver); err != nil {
			if len(cs.subs) == 0 {
				c.subscribers.Del(key)
			}
			return nil, device.NewTransportError("subscribe", uuid, NormalizeError(err))
		}
		cs.char = ch
		cs.active = true
	}

	id := c.nextSubID.Add(1)
	sub := device.NewSubscription(key, device.DefaultSubscriptionBuffer, func() {
		c.release(key, id)
	})
	cs.subs[id] = sub

	c.logger.WithFields(logrus.Fields{
		"char_uuid":   device.ShortenUUID(uuid),
		"subscribers": len(cs.subs),
	}).Debug("Subscribed to characteristic")
	return sub, nil
}

// lockSubscribers returns the table entry for key with its mutex held.
// release may drop an entry between the lookup and the lock, so the lookup is
// repeated until the locked entry is still the one in the table.
func (c *BLEConnection) lockSubscribers(key string, ch *ble.Characteristic) *charSubscribers {
	for {
		cs, _ := c.subscribers.GetOrInsert(key, &charSubscribers{
			char: ch,
			subs: make(map[uint64]*device.Subscription),
		})
		cs.mu.Lock()
		if cur, ok := c.subscribers.Get(key); ok && cur == cs {
			return cs
		}
		cs.mu.Unlock()
	}
}

// release drops one stream and unsubscribes from the peer when it was the last.
func (c *BLEConnection) release(key string, id uint64) {
	cs, ok := c.subscribers.Get(key)
	if !ok {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.subs, id)
	if len(cs.subs) > 0 || !cs.active {
		return
	}
	cs.active = false
	c.subscribers.Del(key)

	c.connMutex.RLock()
	client := c.client
	c.connMutex.RUnlock()
	if client == nil {
		return
	}
	if err := client.Unsubscribe(cs.char, false); err != nil {
		c.logger.WithFields(logrus.Fields{
			"char_uuid": device.ShortenUUID(key),
			"error":     err,
		}).Warn("Failed to unsubscribe from characteristic")
	}
}

// Unsubscribe closes every open stream for the characteristic.
func (c *BLEConnection) Unsubscribe(uuid string) error {
	cs, ok := c.subscribers.Get(device.NormalizeUUID(uuid))
	if !ok {
		return nil
	}

	cs.mu.Lock()
	subs := make([]*device.Subscription, 0, len(cs.subs))
	for _, s := range cs.subs {
		subs = append(subs, s)
	}
	cs.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}
