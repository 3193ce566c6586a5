package testutils

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/pkg/desk"
)

// WriteRecord is one characteristic write observed by FakeDesk.
type WriteRecord struct {
	UUID string
	Data []byte
}

// FakeDesk simulates a Linak controller behind device.Link.
//
// Reference output reads advance the desk towards the last reference input by Step
// device units and report Speed while moving; the read that reaches the target reports
// zero speed. DPG requests are answered with a notification on every open DPG
// subscription.
type FakeDesk struct {
	mu sync.Mutex

	connected    bool
	disconnected chan struct{}
	connectErr   error
	connectCalls int

	height      desk.Height
	target      *desk.Height
	step        desk.Height
	speed       desk.Speed
	speedScript []desk.Speed

	dpgResponses map[desk.DPGCommand][]byte
	dpgSilent    bool
	userID       []byte

	stopErr     error
	readErr     error
	writes      []WriteRecord
	outputReads int

	subs   map[string]map[uint64]*device.Subscription
	nextID uint64
}

func newFakeDesk() *FakeDesk {
	closed := make(chan struct{})
	close(closed)
	return &FakeDesk{
		disconnected: closed,
		step:         100,
		speed:        3200,
		dpgResponses: make(map[desk.DPGCommand][]byte),
		subs:         make(map[string]map[uint64]*device.Subscription),
	}
}

// Connect implements device.Link.
func (f *FakeDesk) Connect(_ context.Context, _ *device.ConnectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connected {
		return device.ErrAlreadyConnected
	}
	f.connected = true
	f.disconnected = make(chan struct{})
	return nil
}

// Disconnect implements device.Link.
func (f *FakeDesk) Disconnect() error {
	f.drop()
	return nil
}

// Drop simulates the peer going away.
func (f *FakeDesk) Drop() {
	f.drop()
}

func (f *FakeDesk) drop() {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return
	}
	f.connected = false
	close(f.disconnected)
	var ended []*device.Subscription
	for uuid, set := range f.subs {
		for _, s := range set {
			ended = append(ended, s)
		}
		delete(f.subs, uuid)
	}
	f.mu.Unlock()

	for _, s := range ended {
		s.EndStream()
	}
}

// IsConnected implements device.Link.
func (f *FakeDesk) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Disconnected implements device.Link.
func (f *FakeDesk) Disconnected() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

// Read implements device.Connection.
func (f *FakeDesk) Read(_ context.Context, uuid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil, device.NewTransportError("read", uuid, device.ErrNotConnected)
	}
	if f.readErr != nil {
		return nil, device.NewTransportError("read", uuid, f.readErr)
	}
	if device.NormalizeUUID(uuid) != device.NormalizeUUID(desk.ReferenceOutputUUID) {
		return nil, device.NewTransportError("read", uuid, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}})
	}

	f.outputReads++
	speed := f.advance()
	if len(f.speedScript) > 0 {
		speed = f.speedScript[0]
		f.speedScript = f.speedScript[1:]
	}
	return desk.EncodeHeightSpeed(f.height, speed), nil
}

// advance moves one step towards the target and returns the speed to report.
func (f *FakeDesk) advance() desk.Speed {
	if f.target == nil {
		return 0
	}
	diff := *f.target - f.height
	switch {
	case diff == 0:
		f.target = nil
		return 0
	case diff > 0 && diff <= f.step, diff < 0 && -diff <= f.step:
		f.height = *f.target
		f.target = nil
		return 0
	case diff > 0:
		f.height += f.step
		return f.speed
	default:
		f.height -= f.step
		return -f.speed
	}
}

// Write implements device.Connection.
func (f *FakeDesk) Write(_ context.Context, uuid string, data []byte) error {
	f.mu.Lock()

	if !f.connected {
		f.mu.Unlock()
		return device.NewTransportError("write", uuid, device.ErrNotConnected)
	}

	payload := append([]byte(nil), data...)
	f.writes = append(f.writes, WriteRecord{UUID: device.NormalizeUUID(uuid), Data: payload})

	var notify []byte
	switch device.NormalizeUUID(uuid) {
	case device.NormalizeUUID(desk.CommandUUID):
		if len(payload) > 0 && desk.ControlCode(payload[0]) == desk.ControlStop {
			f.target = nil
			if f.stopErr != nil {
				f.mu.Unlock()
				return device.NewTransportError("write", uuid, f.stopErr)
			}
		}
	case device.NormalizeUUID(desk.ReferenceInputUUID):
		if len(payload) >= 2 {
			t := desk.Height(binary.LittleEndian.Uint16(payload))
			f.target = &t
		}
	case device.NormalizeUUID(desk.DPGUUID):
		notify = f.answerDPG(payload)
	}

	var targets []*device.Subscription
	if notify != nil {
		for _, s := range f.subs[device.NormalizeUUID(desk.DPGUUID)] {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.Deliver(notify)
	}
	return nil
}

func (f *FakeDesk) answerDPG(req []byte) []byte {
	if f.dpgSilent || len(req) < 3 || req[0] != 0x7F {
		return nil
	}
	cmd := desk.DPGCommand(req[1])
	if req[2] == 0x80 {
		if cmd == desk.DPGUserID {
			f.userID = append([]byte(nil), req[3:]...)
		}
		return []byte{0x01, 0x00}
	}
	if cmd == desk.DPGUserID && f.userID != nil {
		return append([]byte{0x01, byte(len(f.userID))}, f.userID...)
	}
	if resp, ok := f.dpgResponses[cmd]; ok {
		return append([]byte(nil), resp...)
	}
	return []byte{0x00, 0x00}
}

// Subscribe implements device.Connection.
func (f *FakeDesk) Subscribe(_ context.Context, uuid string) (*device.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil, device.NewTransportError("subscribe", uuid, device.ErrNotConnected)
	}

	key := device.NormalizeUUID(uuid)
	f.nextID++
	id := f.nextID
	sub := device.NewSubscription(key, device.DefaultSubscriptionBuffer, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[key], id)
	})
	if f.subs[key] == nil {
		f.subs[key] = make(map[uint64]*device.Subscription)
	}
	f.subs[key][id] = sub
	return sub, nil
}

// Unsubscribe implements device.Connection.
func (f *FakeDesk) Unsubscribe(uuid string) error {
	f.mu.Lock()
	var subs []*device.Subscription
	for _, s := range f.subs[device.NormalizeUUID(uuid)] {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

// Notify pushes a height/speed notification to reference output subscribers.
func (f *FakeDesk) Notify(h desk.Height, s desk.Speed) {
	f.mu.Lock()
	var subs []*device.Subscription
	for _, sub := range f.subs[device.NormalizeUUID(desk.ReferenceOutputUUID)] {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Deliver(desk.EncodeHeightSpeed(h, s))
	}
}

// ActiveSubscriptions returns the number of open streams for uuid.
func (f *FakeDesk) ActiveSubscriptions(uuid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[device.NormalizeUUID(uuid)])
}

// Writes returns every write observed so far.
func (f *FakeDesk) Writes() []WriteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteRecord(nil), f.writes...)
}

// WritesTo returns the payloads written to uuid.
func (f *FakeDesk) WritesTo(uuid string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := device.NormalizeUUID(uuid)
	var out [][]byte
	for _, w := range f.writes {
		if w.UUID == key {
			out = append(out, w.Data)
		}
	}
	return out
}

// ResetWrites clears the write log.
func (f *FakeDesk) ResetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// OutputReads returns how many times the reference output was read.
func (f *FakeDesk) OutputReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputReads
}

// Height returns the simulated position.
func (f *FakeDesk) Height() desk.Height {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height
}

// UserID returns the stored user id bytes.
func (f *FakeDesk) UserID() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.userID...)
}

// ConnectCalls returns how many times Connect was called.
func (f *FakeDesk) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// SetConnectError makes subsequent Connect calls fail.
func (f *FakeDesk) SetConnectError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// SetReadError makes subsequent reads fail.
func (f *FakeDesk) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}
