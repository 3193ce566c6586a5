package desk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/testutils"
	"github.com/srg/deskctl/pkg/desk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func newDesk(t *testing.T, fake *testutils.FakeDesk, opts desk.Options) *desk.Desk {
	t.Helper()
	return desk.New(fake, opts, testutils.NewTestHelper(t).Logger)
}

func baseMM(v float64) *float64 { return &v }

func TestInitialise(t *testing.T) {
	t.Run("reads capabilities and base height", func(t *testing.T) {
		// GOAL: Verify initialisation resolves the base height from the controller
		//
		// TEST SCENARIO: No configured base → DPG BASE_OFFSET → base decoded from bytes [1:3] / 10

		fake := testutils.NewDeskBuilder().WithBaseHeight(640.5).WithCapabilities(0b10010101).Build()
		d := newDesk(t, fake, desk.Options{})

		require.NoError(t, d.Initialise(context.Background()))

		assert.Equal(t, 640.5, d.BaseHeight(), "base height MUST come from the controller")
		assert.Equal(t, 5, d.Capabilities().MemSize)
		assert.Zero(t, fake.ActiveSubscriptions(desk.DPGUUID), "DPG subscriptions MUST be closed")
	})

	t.Run("configured base height wins", func(t *testing.T) {
		fake := testutils.NewDeskBuilder().WithBaseHeight(640).Build()
		d := newDesk(t, fake, desk.Options{BaseHeight: baseMM(600)})

		require.NoError(t, d.Initialise(context.Background()))

		assert.Equal(t, 600.0, d.BaseHeight(), "configured base height MUST be used verbatim")
		for _, w := range fake.WritesTo(desk.DPGUUID) {
			assert.NotEqual(t, byte(desk.DPGBaseOffset), w[1], "BASE_OFFSET MUST NOT be requested")
		}
	})

	t.Run("configured zero base height wins", func(t *testing.T) {
		// GOAL: Verify an explicit base of 0mm is honoured rather than treated as unset
		//
		// TEST SCENARIO: Controller reports 640mm, config says 0mm → base 0, no BASE_OFFSET request

		fake := testutils.NewDeskBuilder().WithBaseHeight(640).Build()
		d := newDesk(t, fake, desk.Options{BaseHeight: baseMM(0)})

		require.NoError(t, d.Initialise(context.Background()))

		assert.Zero(t, d.BaseHeight(), "configured zero base MUST be used verbatim")
		for _, w := range fake.WritesTo(desk.DPGUUID) {
			assert.NotEqual(t, byte(desk.DPGBaseOffset), w[1], "BASE_OFFSET MUST NOT be requested")
		}
	})

	t.Run("user id quirk is fixed", func(t *testing.T) {
		// GOAL: Verify the first user id byte is forced to 1 and the rest is preserved
		//
		// TEST SCENARIO: USER_ID returns {0x00, 0xAA, 0xBB} → DPG write {0x01, 0xAA, 0xBB}

		fake := testutils.NewDeskBuilder().WithUserID(0x00, 0xAA, 0xBB).Build()
		d := newDesk(t, fake, desk.Options{})

		require.NoError(t, d.Initialise(context.Background()))

		assert.Equal(t, []byte{0x01, 0xAA, 0xBB}, fake.UserID(), "user id MUST be rewritten")
		assert.Contains(t, fake.WritesTo(desk.DPGUUID), []byte{0x7F, 0x86, 0x80, 0x01, 0xAA, 0xBB})
	})

	t.Run("correct user id is left alone", func(t *testing.T) {
		fake := testutils.NewDeskBuilder().WithUserID(0x01, 0xAA).Build()
		d := newDesk(t, fake, desk.Options{})

		require.NoError(t, d.Initialise(context.Background()))

		for _, w := range fake.WritesTo(desk.DPGUUID) {
			assert.NotEqual(t, byte(0x80), w[2], "no DPG write MUST happen")
		}
	})

	t.Run("silent controller is bounded by init timeout", func(t *testing.T) {
		fake := testutils.NewDeskBuilder().WithSilentDPG().Build()
		d := newDesk(t, fake, desk.Options{InitTimeout: 20 * time.Millisecond})

		err := d.Initialise(context.Background())

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, fake.ActiveSubscriptions(desk.DPGUUID), "subscription MUST be released on failure")
	})
}

func TestDPG(t *testing.T) {
	t.Run("no data leaves nothing subscribed", func(t *testing.T) {
		// GOAL: Verify a failed DPG response yields "no data" and unsubscribes
		//
		// TEST SCENARIO: Response status 0x00 → ErrNoData → zero DPG subscriptions

		fake := testutils.NewDeskBuilder().WithDPGResponse(desk.DPGGetCapabilities, 0x00, 0x02, 0xFF, 0x00).Build()
		d := newDesk(t, fake, desk.Options{})

		data, err := d.DPG(context.Background(), desk.DPGGetCapabilities, nil)

		assert.ErrorIs(t, err, desk.ErrNoData)
		assert.Nil(t, data)
		assert.Zero(t, fake.ActiveSubscriptions(desk.DPGUUID), "subscription count MUST return to zero")
	})

	t.Run("transport failure propagates", func(t *testing.T) {
		fake := testutils.NewDeskBuilder().Disconnected().Build()
		d := newDesk(t, fake, desk.Options{})

		_, err := d.DPG(context.Background(), desk.DPGUserID, nil)

		var te *device.TransportError
		assert.ErrorAs(t, err, &te)
		assert.ErrorIs(t, err, device.ErrNotConnected)
	})

	t.Run("concurrent transactions are serialised", func(t *testing.T) {
		// GOAL: Verify two DPG calls never overlap on the single subscription
		//
		// TEST SCENARIO: Many goroutines issue DPG reads → each receives its own answer → at most one subscription at a time

		fake := testutils.NewDeskBuilder().
			WithDPGResponse(desk.DPGGetCapabilities, 0x01, 0x02, 0x11, 0x00).
			WithDPGResponse(desk.DPGUserID, 0x01, 0x02, 0x22, 0x00).
			Build()
		d := newDesk(t, fake, desk.Options{})

		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			cmd, want := desk.DPGGetCapabilities, byte(0x11)
			if i%2 == 1 {
				cmd, want = desk.DPGUserID, 0x22
			}
			go func() {
				data, err := d.DPG(context.Background(), cmd, nil)
				if err == nil && data[0] != want {
					err = errors.New("response crossed over to another transaction")
				}
				errs <- err
			}()
		}
		for i := 0; i < 20; i++ {
			assert.NoError(t, <-errs)
		}
		assert.Zero(t, fake.ActiveSubscriptions(desk.DPGUUID))
	})
}

type SessionTestSuite struct {
	testutils.DeskSuite
}

func (s *SessionTestSuite) SetupTest() {
	s.Builder = testutils.NewDeskBuilder().WithBaseHeight(620).WithHeightMM(720)
	s.DeskSuite.SetupTest()
}

func (s *SessionTestSuite) TestHeightSpeed() {
	h, speed, err := s.Desk.HeightSpeed(s.Context())

	s.Require().NoError(err)
	s.Assert().Equal(720.0, s.Desk.MM(h), "MUST report the current height in mm")
	s.Assert().Zero(speed)
}

func (s *SessionTestSuite) TestWatch() {
	// GOAL: Verify Watch delivers every notification until the link drops
	//
	// TEST SCENARIO: Watch running → two notifications → callback called twice → drop → ErrNotConnected

	type sample struct {
		h desk.Height
		s desk.Speed
	}
	samples := make(chan sample, 8)
	result := make(chan error, 1)
	go func() {
		result <- s.Desk.Watch(s.Context(), func(h desk.Height, sp desk.Speed) {
			samples <- sample{h, sp}
		})
	}()

	s.Require().Eventually(func() bool {
		return s.Fake.ActiveSubscriptions(desk.ReferenceOutputUUID) == 1
	}, time.Second, 5*time.Millisecond, "watch MUST subscribe")

	s.Fake.Notify(1000, 3200)
	s.Fake.Notify(1100, 0)
	s.Assert().Equal(sample{1000, 3200}, <-samples)
	s.Assert().Equal(sample{1100, 0}, <-samples)

	s.Fake.Drop()
	select {
	case err := <-result:
		s.Assert().ErrorIs(err, device.ErrNotConnected, "watch MUST end when the connection ends")
	case <-time.After(time.Second):
		s.FailNow("watch MUST return after the link drops")
	}
}

func (s *SessionTestSuite) TestStopSwallowsPermissionQuirk() {
	fake := testutils.NewDeskBuilder().WithStopError(device.ErrNotPermitted).Build()
	d := desk.New(fake, s.Options, s.Logger)

	s.Assert().NoError(d.Stop(s.Context()), "refused stop MUST be ignored")

	fake = testutils.NewDeskBuilder().WithStopError(device.ErrTimeout).Build()
	d = desk.New(fake, s.Options, s.Logger)
	s.Assert().ErrorIs(d.Stop(s.Context()), device.ErrTimeout, "other stop failures MUST propagate")
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
