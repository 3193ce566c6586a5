package desk

import (
	"fmt"
	"strings"
)

// Capabilities describes the controller features reported by DPG GET_CAPABILITIES.
type Capabilities struct {
	Known      bool
	MemSize    int
	AutoUp     bool
	AutoDown   bool
	BLEAllow   bool
	HasDisplay bool
	HasLight   bool
}

// DecodeCapabilities decodes a DPG capabilities payload (response header already stripped).
// Payloads shorter than two bytes yield an empty set.
func DecodeCapabilities(payload []byte) Capabilities {
	if len(payload) < 2 {
		return Capabilities{}
	}
	b := payload[0]
	return Capabilities{
		Known:      true,
		MemSize:    int(b & 0x07),
		AutoUp:     b&0x08 != 0,
		AutoDown:   b&0x10 != 0,
		BLEAllow:   b&0x20 != 0,
		HasDisplay: b&0x40 != 0,
		HasLight:   b&0x80 != 0,
	}
}

func (c Capabilities) String() string {
	if !c.Known {
		return "unknown"
	}
	flags := []string{fmt.Sprintf("memSize=%d", c.MemSize)}
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"autoUp", c.AutoUp},
		{"autoDown", c.AutoDown},
		{"bleAllow", c.BLEAllow},
		{"hasDisplay", c.HasDisplay},
		{"hasLight", c.HasLight},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return strings.Join(flags, " ")
}
