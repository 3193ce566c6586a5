package desk

import (
	"errors"
	"fmt"
	"math"
)

// MaxHeight is the largest position the reference input can carry.
const MaxHeight Height = math.MaxUint16

// ErrHeightOutOfRange is returned for targets below the base height or above MaxHeight.
var ErrHeightOutOfRange = errors.New("height out of range")

// Height is a desk position in device units: tenths of a millimetre above the base height.
// Two heights are equal when their raw values are equal; the base height is context.
type Height int

// Speed is a signed velocity in hundredths of a millimetre per second.
// Positive moves up. Zero is the controller's "motion stopped" signal.
type Speed int

// HeightFromMM converts a human height in millimetres to device units.
func HeightFromMM(mm, base float64) Height {
	return Height(math.Round((mm - base) * 10))
}

// Valid reports whether h fits the reference input, i.e. 0 <= h <= MaxHeight.
func (h Height) Valid() bool {
	return h >= 0 && h <= MaxHeight
}

// MM converts the height to millimetres above the floor.
func (h Height) MM(base float64) float64 {
	return float64(h)/10 + base
}

// MMPerSec converts the speed to millimetres per second.
func (s Speed) MMPerSec() float64 {
	return float64(s) / 100
}

func (s Speed) String() string {
	return fmt.Sprintf("%.0fmm/s", s.MMPerSec())
}
