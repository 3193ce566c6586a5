package desk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
)

// Options configures a desk session.
type Options struct {
	// BaseHeight is the height in mm at raw position 0. Nil means read it from the controller.
	BaseHeight *float64

	MoveCommandPeriod time.Duration
	// MovementTimeout caps a single MoveTo. Zero disables the cap.
	MovementTimeout time.Duration
	// InitTimeout bounds Initialise. Zero means the caller's context only.
	InitTimeout time.Duration
}

// DefaultOptions returns the stock session options.
func DefaultOptions() Options {
	return Options{
		MoveCommandPeriod: 400 * time.Millisecond,
		MovementTimeout:   30 * time.Second,
		InitTimeout:       10 * time.Second,
	}
}

// Desk is a session bound to one connected controller.
type Desk struct {
	conn   device.Connection
	opts   Options
	logger *logrus.Logger

	dpgMu sync.Mutex

	mu   sync.RWMutex
	base float64
	caps Capabilities

	state         atomic.Int32
	disconnecting atomic.Bool
}

// New creates a session over conn. Call Initialise before use.
func New(conn device.Connection, opts Options, logger *logrus.Logger) *Desk {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.MoveCommandPeriod <= 0 {
		opts.MoveCommandPeriod = DefaultOptions().MoveCommandPeriod
	}
	d := &Desk{
		conn:   conn,
		opts:   opts,
		logger: logger,
	}
	if opts.BaseHeight != nil {
		d.base = *opts.BaseHeight
	}
	return d
}

// Initialise reads capabilities, fixes the user id quirk and resolves the base height.
func (d *Desk) Initialise(ctx context.Context) error {
	if d.opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.InitTimeout)
		defer cancel()
	}

	capsPayload, err := d.DPG(ctx, DPGGetCapabilities, nil)
	if err != nil && !errors.Is(err, ErrNoData) {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}
	caps := DecodeCapabilities(capsPayload)
	d.logger.WithField("capabilities", caps.String()).Info("Desk capabilities")

	if err := d.fixUserID(ctx); err != nil {
		return err
	}

	var base float64
	if d.opts.BaseHeight != nil {
		base = *d.opts.BaseHeight
	} else {
		base, err = d.readBaseHeight(ctx)
		if err != nil {
			return err
		}
		d.logger.WithField("base_height", base).Info("Base height read from desk")
	}

	d.mu.Lock()
	d.caps = caps
	d.base = base
	d.mu.Unlock()
	return nil
}

// fixUserID sets the first user id byte to 1; some controllers report a wrong height otherwise.
func (d *Desk) fixUserID(ctx context.Context) error {
	userID, err := d.DPG(ctx, DPGUserID, nil)
	if errors.Is(err, ErrNoData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	if len(userID) == 0 || userID[0] == 0x01 {
		return nil
	}

	fixed := make([]byte, len(userID))
	copy(fixed, userID)
	fixed[0] = 0x01
	d.logger.WithField("user_id", fmt.Sprintf("%x", userID)).Debug("Rewriting user id")
	if _, err := d.DPG(ctx, DPGUserID, fixed); err != nil && !errors.Is(err, ErrNoData) {
		return fmt.Errorf("failed to write user id: %w", err)
	}
	return nil
}

func (d *Desk) readBaseHeight(ctx context.Context) (float64, error) {
	payload, err := d.DPG(ctx, DPGBaseOffset, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to read base height: %w", err)
	}
	if len(payload) < 3 {
		return 0, fmt.Errorf("failed to read base height: %w: %d bytes", ErrShortResponse, len(payload))
	}
	return float64(binary.LittleEndian.Uint16(payload[1:3])) / 10, nil
}

// BaseHeight returns the resolved base height in mm.
func (d *Desk) BaseHeight() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.base
}

// Capabilities returns what Initialise decoded.
func (d *Desk) Capabilities() Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps
}

// HeightFromMM converts mm to device units using the session base height.
func (d *Desk) HeightFromMM(mm float64) Height {
	return HeightFromMM(mm, d.BaseHeight())
}

// MM converts device units to mm using the session base height.
func (d *Desk) MM(h Height) float64 {
	return h.MM(d.BaseHeight())
}

// HeightSpeed reads the current position and speed.
func (d *Desk) HeightSpeed(ctx context.Context) (Height, Speed, error) {
	data, err := d.conn.Read(ctx, ReferenceOutputUUID)
	if err != nil {
		return 0, 0, err
	}
	return DecodeHeightSpeed(data)
}

// Watch calls fn for every height/speed notification until ctx is done or the link drops.
func (d *Desk) Watch(ctx context.Context, fn func(Height, Speed)) error {
	sub, err := d.conn.Subscribe(ctx, ReferenceOutputUUID)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		n, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		h, s, err := DecodeHeightSpeed(n.Data)
		if err != nil {
			d.logger.WithError(err).Warn("Ignoring malformed height notification")
			continue
		}
		fn(h, s)
	}
}

// Wakeup wakes the controller.
func (d *Desk) Wakeup(ctx context.Context) error {
	return d.conn.Write(ctx, CommandUUID, EncodeControl(ControlWakeup))
}

// Stop halts any motion. Platform permission refusals are ignored; the desk stops anyway.
func (d *Desk) Stop(ctx context.Context) error {
	err := d.conn.Write(ctx, CommandUUID, EncodeControl(ControlStop))
	if errors.Is(err, device.ErrNotPermitted) {
		d.logger.WithError(err).Debug("Ignoring refused stop command")
		return nil
	}
	return err
}

// SetDisconnecting marks a clean shutdown in progress, which suppresses auto-reconnect.
func (d *Desk) SetDisconnecting(v bool) {
	d.disconnecting.Store(v)
}

// Disconnecting reports whether a clean shutdown is in progress.
func (d *Desk) Disconnecting() bool {
	return d.disconnecting.Load()
}
