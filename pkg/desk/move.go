package desk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMovementTimeout is returned when a movement exceeds Options.MovementTimeout.
var ErrMovementTimeout = errors.New("movement timed out")

// MoveState is the movement state machine state.
type MoveState int32

const (
	Idle MoveState = iota
	Moving
)

func (s MoveState) String() string {
	if s == Moving {
		return "moving"
	}
	return "idle"
}

// Progress receives every intermediate sample while the desk moves.
type Progress func(Height, Speed)

// State reports whether a movement is in progress.
func (d *Desk) State() MoveState {
	return MoveState(d.state.Load())
}

// MoveTo drives the desk to target and returns when the controller reports zero speed.
//
// The target is rewritten to the reference input every MoveCommandPeriod; the controller
// only keeps moving while it keeps receiving it. Zero speed ends the loop whether the desk
// arrived or was stopped by hand.
func (d *Desk) MoveTo(ctx context.Context, target Height, progress Progress) error {
	ref, err := EncodeHeight(target)
	if err != nil {
		return err
	}

	current, _, err := d.HeightSpeed(ctx)
	if err != nil {
		return err
	}
	if current == target {
		return nil
	}

	if !d.state.CompareAndSwap(int32(Idle), int32(Moving)) {
		return fmt.Errorf("desk is already moving")
	}
	defer d.state.Store(int32(Idle))

	moveCtx := ctx
	if d.opts.MovementTimeout > 0 {
		var cancel context.CancelFunc
		moveCtx, cancel = context.WithTimeout(ctx, d.opts.MovementTimeout)
		defer cancel()
	}

	log := d.logger.WithFields(logrus.Fields{
		"from": d.MM(current),
		"to":   d.MM(target),
	})
	log.Debug("Movement started")

	err = d.moveLoop(moveCtx, ref, progress)
	if err == nil {
		log.Debug("Movement finished")
		return nil
	}

	if moveCtx.Err() != nil {
		// The loop was cut short; make sure the desk does not keep going on its own.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		if stopErr := d.Stop(stopCtx); stopErr != nil {
			log.WithError(stopErr).Warn("Failed to stop desk after interrupted movement")
		}
		cancel()
		if ctx.Err() == nil && errors.Is(moveCtx.Err(), context.DeadlineExceeded) {
			log.WithField("timeout", d.opts.MovementTimeout).Warn("Movement timed out")
			return ErrMovementTimeout
		}
	}
	return err
}

func (d *Desk) moveLoop(ctx context.Context, ref []byte, progress Progress) error {
	if err := d.Wakeup(ctx); err != nil {
		return err
	}
	if err := d.Stop(ctx); err != nil {
		return err
	}

	for {
		if err := d.conn.Write(ctx, ReferenceInputUUID, ref); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.opts.MoveCommandPeriod):
		}

		h, s, err := d.HeightSpeed(ctx)
		if err != nil {
			return err
		}
		if s == 0 {
			return nil
		}
		if progress != nil {
			progress(h, s)
		}
	}
}
