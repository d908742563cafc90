// Package npy reads and writes float32 arrays in the NumPy .npy format.
package npy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
)

var magic = []byte("\x93NUMPY")

// headerAlign is the alignment of the data section required by format v1.0.
const headerAlign = 64

// Write encodes data as a little-endian float32 C-order array of shape.
// npyio.Write takes its shape from the Go value, so the header is built here
// to carry a runtime (clouds, points, 3) shape.
func Write(w io.Writer, shape []int, data []float32) error {
	count, err := elements(shape)
	if err != nil {
		return err
	}
	if count != len(data) {
		return fmt.Errorf("shape %v holds %d values, got %d", shape, count, len(data))
	}

	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", formatShape(shape))
	// magic(6) + version(2) + header length(2) + header + newline
	pad := headerAlign - (len(magic)+4+len(header)+1)%headerAlign
	if pad == headerAlign {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("header too long: %d bytes", len(header))
	}

	bw := bufio.NewWriter(w)
	bw.Write(magic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)

	var buf [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(shape) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// MaxElements bounds the number of values Read will allocate for.
const MaxElements = 1 << 28

// Read decodes a little-endian float32 C-order array. The header shape is
// checked for overflow, against MaxElements and, when r can seek, against
// the bytes actually present before anything is allocated.
func Read(r io.Reader) (shape []int, data []float32, err error) {
	var avail int64 = -1
	if s, ok := r.(io.Seeker); ok {
		if avail, err = remaining(s); err != nil {
			return nil, nil, err
		}
	}

	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read npy header: %w", err)
	}
	descr := nr.Header.Descr
	if descr.Type != "<f4" {
		return nil, nil, fmt.Errorf("unsupported dtype %q", descr.Type)
	}
	if descr.Fortran {
		return nil, nil, errors.New("fortran-ordered arrays are not supported")
	}

	count, err := elements(descr.Shape)
	if err != nil {
		return nil, nil, err
	}
	if avail >= 0 && int64(count)*4 > avail {
		return nil, nil, fmt.Errorf("shape %v needs %d bytes, file holds %d", descr.Shape, int64(count)*4, avail)
	}

	if err := nr.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("read data: %w", err)
	}
	if len(data) != count {
		return nil, nil, fmt.Errorf("shape %v holds %d values, read %d", descr.Shape, count, len(data))
	}
	return append([]int(nil), descr.Shape...), data, nil
}

// elements multiplies out shape, rejecting negative dimensions and products
// above MaxElements.
func elements(shape []int) (int, error) {
	count := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension in shape %v", shape)
		}
		if d != 0 && count > MaxElements/d {
			return 0, fmt.Errorf("shape %v exceeds %d values", shape, MaxElements)
		}
		count *= d
	}
	return count, nil
}

// remaining reports the bytes between the current offset and the end of s,
// restoring the offset.
func remaining(s io.Seeker) (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end - cur, nil
}
