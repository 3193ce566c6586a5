package device_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/deskctl/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit lowercase", input: "2902", expected: "2902"},
		{name: "16-bit with 0x prefix", input: "0x2A37", expected: "2a37"},
		{name: "128-bit with dashes", input: "99FA0021-338A-1024-8A49-009C0215F78A", expected: "99fa0021338a10248a49009c0215f78a"},
		{name: "surrounding whitespace", input: " 99fa0002-338a-1024-8a49-009c0215f78a ", expected: "99fa0002338a10248a49009c0215f78a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, device.NormalizeUUID(tt.input), "MUST normalize %q", tt.input)
		})
	}
}

func TestTransportError(t *testing.T) {
	// GOAL: Verify transport errors keep the cause reachable and never double-wrap
	//
	// TEST SCENARIO: Wrap sentinel → errors.Is finds it → wrapping again returns the same error

	err := device.NewTransportError("write", "99fa0002-338a-1024-8a49-009c0215f78a", device.ErrNotConnected)

	assert.ErrorIs(t, err, device.ErrNotConnected, "MUST unwrap to the cause")
	assert.Equal(t, "write 99fa0002: not_connected", err.Error())
	assert.Same(t, err, device.NewTransportError("read", "x", err), "MUST NOT wrap twice")
	assert.NoError(t, device.NewTransportError("read", "x", nil))
	assert.True(t, device.IsConnectionState(fmt.Errorf("ctx: %w", err), device.NotConnected))
}

func TestNotFoundError(t *testing.T) {
	single := &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"ffff"}}
	nested := &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a19"}}

	assert.Equal(t, `characteristic "ffff" not found`, single.Error())
	assert.Equal(t, `characteristic "2a19" not found in service "180f"`, nested.Error())
}

func TestSubscription(t *testing.T) {
	t.Run("delivers copies in order", func(t *testing.T) {
		sub := device.NewSubscription("2a37", 4, nil)
		payload := []byte{1, 2}
		sub.Deliver(payload)
		payload[0] = 9
		sub.Deliver([]byte{3})

		n, err := sub.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, n.Data, "MUST NOT alias the producer buffer")
		assert.Equal(t, "2a37", n.UUID)

		n, err = sub.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{3}, n.Data)
	})

	t.Run("close runs release once", func(t *testing.T) {
		var released atomic.Int32
		sub := device.NewSubscription("2a37", 4, func() { released.Add(1) })

		sub.Close()
		sub.Close()

		assert.Equal(t, int32(1), released.Load(), "release MUST run exactly once")
		_, err := sub.Next(context.Background())
		assert.ErrorIs(t, err, device.ErrNotConnected, "closed stream MUST report not connected")
		assert.False(t, sub.Deliver([]byte{1}), "deliver after close MUST be rejected")
	})

	t.Run("end stream skips release", func(t *testing.T) {
		var released atomic.Int32
		sub := device.NewSubscription("2a37", 4, func() { released.Add(1) })

		sub.EndStream()
		sub.Close()

		assert.Zero(t, released.Load(), "release MUST NOT run after the link dropped")
	})

	t.Run("slow consumer drops oldest", func(t *testing.T) {
		sub := device.NewSubscription("2a37", 2, nil)
		for i := byte(0); i < 5; i++ {
			sub.Deliver([]byte{i})
		}

		n, err := sub.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{3}, n.Data, "MUST keep the newest values")
		assert.Equal(t, int64(3), sub.Dropped())
	})

	t.Run("next honours context", func(t *testing.T) {
		sub := device.NewSubscription("2a37", 2, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := sub.Next(ctx)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}
