// Package ringchan provides a bounded, overwrite-oldest channel used to deliver
// GATT notifications to a single consumer without ever blocking the BLE stack.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is dropped
// and the Overwritten counter is bumped. The consumer reads from C() like a
// normal channel and sees it closed after Close.
//
//	rc := ringchan.New[device.Notification](16)
//	rc.Send(n)            // never blocks
//	for n := range rc.C() { ... }
type RingChannel[T any] struct {
	ch     chan T
	mu     sync.Mutex // serialises producers against Close
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side of the channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered value if the buffer is full.
// It reports false if the channel has been closed and v was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return true
		default:
		}
		// Full: drop the oldest. The consumer may have drained it concurrently,
		// in which case the next iteration succeeds.
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
		default:
		}
	}
}

// Close closes the channel. It is safe to call more than once; later Sends are dropped.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Written returns how many values were accepted.
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}

// Overwritten returns how many buffered values were discarded to make room.
func (rc *RingChannel[T]) Overwritten() int64 {
	return rc.overwritten.Load()
}
