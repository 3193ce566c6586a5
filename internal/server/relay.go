package server

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// defaultRelayBuffer is the number of log lines kept for a slow WebSocket peer.
const defaultRelayBuffer = 256

// lineRelay is an io.Writer that splits output into lines and hands them to a sender
// goroutine through an overlapped ring buffer. A slow peer loses the oldest lines
// instead of stalling the desk.
type lineRelay struct {
	ring    mpmc.RichOverlappedRingBuffer[string]
	wake    chan struct{}
	send    func(string) error
	partial []byte
	mu      sync.Mutex

	overwritten atomic.Uint64
	failed      atomic.Bool
}

func newLineRelay(size uint32, send func(string) error) *lineRelay {
	return &lineRelay{
		ring: mpmc.NewOverlappedRingBuffer[string](size),
		wake: make(chan struct{}, 1),
		send: send,
	}
}

// Write implements io.Writer. Incomplete trailing lines are held until the next write or Flush.
func (r *lineRelay) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.partial = append(r.partial, p...)
	for {
		i := bytes.IndexByte(r.partial, '\n')
		if i < 0 {
			break
		}
		r.enqueue(string(r.partial[:i]))
		r.partial = r.partial[i+1:]
	}
	r.mu.Unlock()
	return len(p), nil
}

// Flush enqueues any incomplete trailing line.
func (r *lineRelay) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.partial) > 0 {
		r.enqueue(string(r.partial))
		r.partial = nil
	}
}

func (r *lineRelay) enqueue(line string) {
	overwrites, err := r.ring.EnqueueM(line)
	if err != nil {
		return
	}
	r.overwritten.Add(uint64(overwrites))
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pump sends queued lines until ctx is done, then drains what is left.
func (r *lineRelay) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case <-r.wake:
			r.drain()
		}
	}
}

func (r *lineRelay) drain() {
	for !r.ring.IsEmpty() {
		line, err := r.ring.Dequeue()
		if err != nil {
			return
		}
		if r.failed.Load() {
			continue
		}
		if err := r.send(line); err != nil {
			r.failed.Store(true)
		}
	}
}

// Overwritten reports how many lines were dropped for a slow peer.
func (r *lineRelay) Overwritten() uint64 {
	return r.overwritten.Load()
}
