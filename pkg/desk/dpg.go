package desk

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DPGCommand is a DPG configuration command.
type DPGCommand byte

const (
	DPGGetCapabilities DPGCommand = 0x80
	DPGBaseOffset      DPGCommand = 0x81
	DPGUserID          DPGCommand = 0x86
)

const (
	dpgPrefix    = 0x7F
	dpgFlagRead  = 0x00
	dpgFlagWrite = 0x80
	dpgStatusOK  = 0x01
)

// Protocol errors.
var (
	// ErrNoData is returned when the controller answered a DPG request without the success marker.
	ErrNoData = errors.New("dpg: no data")

	ErrShortResponse = errors.New("short response")
)

func (c DPGCommand) String() string {
	switch c {
	case DPGGetCapabilities:
		return "get_capabilities"
	case DPGBaseOffset:
		return "base_offset"
	case DPGUserID:
		return "user_id"
	default:
		return fmt.Sprintf("dpg(0x%02x)", byte(c))
	}
}

// EncodeDPGRequest frames a DPG request. A nil payload makes it a read.
func EncodeDPGRequest(cmd DPGCommand, payload []byte) []byte {
	if payload == nil {
		return []byte{dpgPrefix, byte(cmd), dpgFlagRead}
	}
	req := make([]byte, 0, 3+len(payload))
	req = append(req, dpgPrefix, byte(cmd), dpgFlagWrite)
	return append(req, payload...)
}

// DecodeDPGResponse validates a DPG response and returns its payload.
func DecodeDPGResponse(resp []byte) ([]byte, error) {
	if len(resp) == 0 || resp[0] != dpgStatusOK {
		return nil, ErrNoData
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: dpg response has %d bytes", ErrShortResponse, len(resp))
	}
	return resp[2:], nil
}

// DPG runs one DPG transaction: subscribe, write the request, wait for one notification,
// unsubscribe. Transactions are serialised per session. There is no timeout besides ctx.
func (d *Desk) DPG(ctx context.Context, cmd DPGCommand, payload []byte) ([]byte, error) {
	d.dpgMu.Lock()
	defer d.dpgMu.Unlock()

	sub, err := d.conn.Subscribe(ctx, DPGUUID)
	if err != nil {
		return nil, fmt.Errorf("dpg %s: %w", cmd, err)
	}
	defer sub.Close()

	if err := d.conn.Write(ctx, DPGUUID, EncodeDPGRequest(cmd, payload)); err != nil {
		return nil, fmt.Errorf("dpg %s: %w", cmd, err)
	}

	n, err := sub.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("dpg %s: %w", cmd, err)
	}

	data, err := DecodeDPGResponse(n.Data)
	d.logger.WithFields(logrus.Fields{
		"command":  cmd.String(),
		"response": fmt.Sprintf("%x", n.Data),
	}).Debug("DPG response")
	if err != nil {
		return nil, fmt.Errorf("dpg %s: %w", cmd, err)
	}
	return data, nil
}
