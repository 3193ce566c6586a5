package testutils

import (
	"encoding/binary"

	"github.com/srg/deskctl/pkg/desk"
)

// DeskBuilder configures a FakeDesk with a fluent API.
//
//	fake := testutils.NewDeskBuilder().
//	    WithBaseHeight(620).
//	    WithHeightMM(720).
//	    WithCapabilities(0b10010101).
//	    Build()
type DeskBuilder struct {
	base        float64
	heightMM    *float64
	raw         desk.Height
	step        desk.Height
	speed       desk.Speed
	speedScript []desk.Speed
	caps        *byte
	userID      []byte
	stopErr     error
	dpgSilent   bool
	connected   bool
	responses   map[desk.DPGCommand][]byte
}

// NewDeskBuilder creates a builder for a connected desk with base height 620mm at its lowest position.
func NewDeskBuilder() *DeskBuilder {
	return &DeskBuilder{
		base:      620,
		step:      100,
		speed:     3200,
		connected: true,
		responses: make(map[desk.DPGCommand][]byte),
	}
}

// WithBaseHeight sets the base height the controller reports through DPG BASE_OFFSET.
func (b *DeskBuilder) WithBaseHeight(mm float64) *DeskBuilder {
	b.base = mm
	return b
}

// WithHeightMM sets the starting position in mm, converted with the base height at Build time.
func (b *DeskBuilder) WithHeightMM(mm float64) *DeskBuilder {
	b.heightMM = &mm
	return b
}

// WithRawHeight sets the starting position in device units.
func (b *DeskBuilder) WithRawHeight(h desk.Height) *DeskBuilder {
	b.raw = h
	b.heightMM = nil
	return b
}

// WithStep sets how far the desk travels per reference output read.
func (b *DeskBuilder) WithStep(step desk.Height) *DeskBuilder {
	b.step = step
	return b
}

// WithSpeedScript overrides the reported speed for the next reads, in order.
func (b *DeskBuilder) WithSpeedScript(speeds ...desk.Speed) *DeskBuilder {
	b.speedScript = speeds
	return b
}

// WithCapabilities sets the capability byte returned by GET_CAPABILITIES.
func (b *DeskBuilder) WithCapabilities(c byte) *DeskBuilder {
	b.caps = &c
	return b
}

// WithUserID sets the user id payload returned by USER_ID.
func (b *DeskBuilder) WithUserID(id ...byte) *DeskBuilder {
	b.userID = id
	return b
}

// WithDPGResponse sets the raw response (status byte included) for a DPG read.
func (b *DeskBuilder) WithDPGResponse(cmd desk.DPGCommand, resp ...byte) *DeskBuilder {
	b.responses[cmd] = resp
	return b
}

// WithStopError makes stop commands fail with err.
func (b *DeskBuilder) WithStopError(err error) *DeskBuilder {
	b.stopErr = err
	return b
}

// WithSilentDPG makes the controller never answer DPG requests.
func (b *DeskBuilder) WithSilentDPG() *DeskBuilder {
	b.dpgSilent = true
	return b
}

// Disconnected builds the desk in the disconnected state.
func (b *DeskBuilder) Disconnected() *DeskBuilder {
	b.connected = false
	return b
}

// Build creates the FakeDesk.
func (b *DeskBuilder) Build() *FakeDesk {
	f := newFakeDesk()
	f.step = b.step
	f.speed = b.speed
	f.speedScript = append([]desk.Speed(nil), b.speedScript...)
	f.stopErr = b.stopErr
	f.dpgSilent = b.dpgSilent
	f.userID = append([]byte(nil), b.userID...)
	if b.userID == nil {
		f.userID = nil
	}

	f.height = b.raw
	if b.heightMM != nil {
		f.height = desk.HeightFromMM(*b.heightMM, b.base)
	}

	offset := make([]byte, 2)
	binary.LittleEndian.PutUint16(offset, uint16(b.base*10))
	f.dpgResponses[desk.DPGBaseOffset] = []byte{0x01, 0x03, 0x00, offset[0], offset[1]}
	if b.caps != nil {
		f.dpgResponses[desk.DPGGetCapabilities] = []byte{0x01, 0x02, *b.caps, 0x00}
	}
	for cmd, resp := range b.responses {
		f.dpgResponses[cmd] = resp
	}

	if b.connected {
		f.connected = true
		f.disconnected = make(chan struct{})
	}
	return f
}
