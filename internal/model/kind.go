package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind names the decoder variant a checkpoint was trained with.
type Kind string

const (
	// KindGaussian decodes the latent directly as the shape code.
	KindGaussian Kind = "gaussian"
	// KindFlow treats the latent as a prior sample that is passed through
	// the normalizing flow before decoding.
	KindFlow Kind = "flow"
)

// ParseKind validates a model kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindGaussian, KindFlow:
		return k, nil
	default:
		return "", configErrorf("model", "unrecognized model kind %q", s)
	}
}

// Device selects the compute device the backend loads the weights onto.
type Device string

// DeviceCPU is the fallback device.
const DeviceCPU Device = "cpu"

// ParseDevice accepts "cpu", "cuda" and "cuda:<index>".
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "cpu" || s == "cuda":
		return Device(s), nil
	case strings.HasPrefix(s, "cuda:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(s, "cuda:"))
		if err != nil || idx < 0 {
			return "", configErrorf("device", "invalid device index in %q", s)
		}
		return Device(fmt.Sprintf("cuda:%d", idx)), nil
	default:
		return "", configErrorf("device", "unknown device %q (want cpu, cuda or cuda:<n>)", s)
	}
}
