package pointcloud

import (
	"fmt"
	"strings"
)

// Mode selects the per-shape rescaling rule applied to every cloud in a batch.
type Mode string

const (
	// ModeNone leaves coordinates untouched.
	ModeNone Mode = "none"
	// ModeShapeUnit centres each cloud on its mean and divides by the
	// standard deviation of all of its coordinates taken together.
	ModeShapeUnit Mode = "shape_unit"
	// ModeShapeBBox centres each cloud on its bounding box and scales the
	// largest axis extent to 2.
	ModeShapeBBox Mode = "shape_bbox"
)

// Modes lists every supported normalization mode.
var Modes = []Mode{ModeNone, ModeShapeUnit, ModeShapeBBox}

// UnsupportedModeError reports a normalization mode outside the supported set.
type UnsupportedModeError struct {
	Mode string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported normalization mode %q (want one of none, shape_unit, shape_bbox)", e.Mode)
}

// ParseMode converts a user supplied string into a Mode. The empty string
// and "none" both select ModeNone.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(s)); m {
	case "", ModeNone:
		return ModeNone, nil
	case ModeShapeUnit, ModeShapeBBox:
		return m, nil
	default:
		return "", &UnsupportedModeError{Mode: s}
	}
}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	_, err := ParseMode(string(m))
	return err == nil
}

func (m Mode) String() string {
	if m == "" {
		return string(ModeNone)
	}
	return string(m)
}
