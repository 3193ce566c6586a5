package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (c *collector) send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestLineRelay(t *testing.T) {
	t.Run("splits writes into lines", func(t *testing.T) {
		// GOAL: Verify arbitrary write boundaries are reassembled into whole lines
		//
		// TEST SCENARIO: Partial writes + trailing fragment → Flush → lines in order

		c := &collector{}
		r := newLineRelay(16, c.send)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			r.Pump(ctx)
		}()

		_, _ = r.Write([]byte("Height:  6"))
		_, _ = r.Write([]byte("20mm\nMoving to height: 650\nFinal"))
		_, _ = r.Write([]byte(" height"))
		r.Flush()

		require.Eventually(t, func() bool { return len(c.Lines()) == 3 }, time.Second, time.Millisecond)
		cancel()
		<-done

		assert.Equal(t, []string{"Height:  620mm", "Moving to height: 650", "Final height"}, c.Lines())
		assert.Zero(t, r.Overwritten())
	})

	t.Run("slow peer loses oldest lines", func(t *testing.T) {
		c := &collector{}
		r := newLineRelay(4, c.send)

		for i := 0; i < 32; i++ {
			_, _ = r.Write([]byte("line\n"))
		}
		r.drain()

		assert.Positive(t, r.Overwritten(), "overflow MUST be counted")
		assert.Less(t, len(c.Lines()), 32, "overflowed lines MUST be dropped")
	})

	t.Run("stops sending after a failure", func(t *testing.T) {
		c := &collector{err: errors.New("broken pipe")}
		r := newLineRelay(16, c.send)

		_, _ = r.Write([]byte("a\nb\n"))
		r.drain()
		c.mu.Lock()
		c.err = nil
		c.mu.Unlock()
		_, _ = r.Write([]byte("c\n"))
		r.drain()

		assert.Empty(t, c.Lines(), "no line MUST be sent after the peer failed")
	})
}
