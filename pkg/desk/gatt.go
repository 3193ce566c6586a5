package desk

import (
	"encoding/binary"
	"fmt"
)

// Linak GATT services and characteristics.
const (
	ControlServiceUUID = "99fa0001-338a-1024-8a49-009c0215f78a"
	CommandUUID        = "99fa0002-338a-1024-8a49-009c0215f78a"
	ErrorUUID          = "99fa0003-338a-1024-8a49-009c0215f78a"

	DPGServiceUUID = "99fa0010-338a-1024-8a49-009c0215f78a"
	DPGUUID        = "99fa0011-338a-1024-8a49-009c0215f78a"

	ReferenceOutputServiceUUID = "99fa0020-338a-1024-8a49-009c0215f78a"
	ReferenceOutputUUID        = "99fa0021-338a-1024-8a49-009c0215f78a"

	ReferenceInputServiceUUID = "99fa0030-338a-1024-8a49-009c0215f78a"
	ReferenceInputUUID        = "99fa0031-338a-1024-8a49-009c0215f78a"
)

// ControlCode is a command accepted by the control characteristic.
type ControlCode byte

const (
	ControlMoveDown ControlCode = 0x46
	ControlMoveUp   ControlCode = 0x47
	ControlWakeup   ControlCode = 0xFE
	ControlStop     ControlCode = 0xFF
)

func (c ControlCode) String() string {
	switch c {
	case ControlMoveDown:
		return "move_down"
	case ControlMoveUp:
		return "move_up"
	case ControlWakeup:
		return "wakeup"
	case ControlStop:
		return "stop"
	default:
		return fmt.Sprintf("control(0x%02x)", byte(c))
	}
}

// EncodeControl builds the two byte control payload.
func EncodeControl(code ControlCode) []byte {
	return []byte{byte(code), 0x00}
}

// EncodeHeight builds the reference input payload. Heights outside the uint16 wire
// range are rejected with ErrHeightOutOfRange.
func EncodeHeight(h Height) ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("%w: raw height %d", ErrHeightOutOfRange, int(h))
	}
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(h))
	return buf, nil
}

// EncodeHeightSpeed builds a reference output payload.
func EncodeHeightSpeed(h Height, s Speed) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(int16(s)))
	return buf
}

// DecodeHeightSpeed parses a reference output payload: <uint16 height, int16 speed>.
func DecodeHeightSpeed(data []byte) (Height, Speed, error) {
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("%w: height/speed payload has %d bytes, want 4", ErrShortResponse, len(data))
	}
	h := Height(binary.LittleEndian.Uint16(data[0:2]))
	s := Speed(int16(binary.LittleEndian.Uint16(data[2:4])))
	return h, s, nil
}
