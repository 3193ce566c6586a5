package device

import (
	"context"
	"sync"
	"time"

	"github.com/srg/deskctl/internal/ringchan"
)

// DefaultSubscriptionBuffer is the ring capacity of a subscription stream.
const DefaultSubscriptionBuffer = 64

// Notification is one value pushed by a characteristic.
type Notification struct {
	UUID string
	Data []byte
	TsUs int64
}

// Subscription is a single-consumer stream of notifications for one characteristic.
//
// A slow consumer never stalls the BLE stack: when the buffer is full the oldest
// notification is dropped (see Dropped). The stream channel is closed when the
// subscription is closed or the link drops.
type Subscription struct {
	uuid    string
	stream  *ringchan.RingChannel[Notification]
	onClose func()
	once    sync.Once
}

// NewSubscription creates a subscription stream. onClose runs exactly once on Close
// and is where backends release the underlying GATT subscription.
func NewSubscription(uuid string, buffer int, onClose func()) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Subscription{
		uuid:    uuid,
		stream:  ringchan.New[Notification](buffer),
		onClose: onClose,
	}
}

// UUID returns the normalized characteristic UUID.
func (s *Subscription) UUID() string {
	return s.uuid
}

// C returns the notification stream.
func (s *Subscription) C() <-chan Notification {
	return s.stream.C()
}

// Deliver enqueues a copy of data. Backends call this from their notification handler.
func (s *Subscription) Deliver(data []byte) bool {
	buf := make([]byte, len(data))
	copy(buf, data)
	return s.stream.Send(Notification{UUID: s.uuid, Data: buf, TsUs: time.Now().UnixMicro()})
}

// Next blocks for the next notification. It returns ErrNotConnected when the stream
// ended and the context error when ctx is done first.
func (s *Subscription) Next(ctx context.Context) (Notification, error) {
	select {
	case n, ok := <-s.stream.C():
		if !ok {
			return Notification{}, ErrNotConnected
		}
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

// Dropped reports how many notifications were discarded because the consumer lagged.
func (s *Subscription) Dropped() int64 {
	return s.stream.Overwritten()
}

// Close releases the subscription and ends the stream. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		s.stream.Close()
	})
}

// EndStream closes the stream without running onClose. Backends use it when the
// link dropped and there is nothing left to unsubscribe from.
func (s *Subscription) EndStream() {
	s.once.Do(s.stream.Close)
}
