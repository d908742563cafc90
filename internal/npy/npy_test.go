package npy

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_HeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []int{2, 1, 3}, []float32{1, 2, 3, 4, 5, 6}))

	b := buf.Bytes()
	assert.Equal(t, []byte("\x93NUMPY\x01\x00"), b[:8])

	headerLen := int(b[8]) | int(b[9])<<8
	dataStart := 10 + headerLen
	assert.Zero(t, dataStart%64, "data section must be 64-byte aligned")
	assert.Equal(t, byte('\n'), b[dataStart-1])
	assert.Contains(t, string(b[10:dataStart]), "'shape': (2, 1, 3)")
	assert.Equal(t, 6*4, len(b)-dataStart)
}

func TestReadWrite(t *testing.T) {
	data := []float32{0.5, -1.25, 3, 1e-7, -0, 42}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []int{1, 2, 3}, data))

	shape, got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, shape)
	assert.Equal(t, data, got)
}

func TestWrite_OneDimensionalShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []int{3}, []float32{1, 2, 3}))
	assert.Contains(t, buf.String(), "'shape': (3,)")

	shape, _, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, shape)
}

func TestWrite_ShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, []int{2, 3}, []float32{1}))
	assert.Error(t, Write(&buf, []int{-1}, nil))
}

func TestRead_Rejects(t *testing.T) {
	_, _, err := Read(bytes.NewReader([]byte("PK\x03\x04 not numpy")))
	assert.Error(t, err)

	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (1,), }\n"
	raw := append([]byte("\x93NUMPY\x01\x00"), byte(len(header)), 0)
	raw = append(raw, header...)
	raw = append(raw, make([]byte, 8)...)
	_, _, err = Read(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "unsupported dtype")
}

func rawArray(shape string, payload int) []byte {
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': " + shape + ", }"
	header += strings.Repeat(" ", 64-(10+len(header)+1)%64) + "\n"
	raw := append([]byte("\x93NUMPY\x01\x00"), byte(len(header)), byte(len(header)>>8))
	raw = append(raw, header...)
	return append(raw, make([]byte, payload)...)
}

func TestRead_RejectsOversizedShape(t *testing.T) {
	for _, shape := range []string{
		"(4611686018427387904,)",
		"(4294967296, 4294967296, 3)",
		"(65536, 65536)",
	} {
		t.Run(shape, func(t *testing.T) {
			// io.MultiReader hides Seek so only the header bounds apply.
			r := io.MultiReader(bytes.NewReader(rawArray(shape, 16)))
			var err error
			assert.NotPanics(t, func() { _, _, err = Read(r) })
			assert.ErrorContains(t, err, "exceeds")
		})
	}
}

func TestRead_RejectsShapeLargerThanFile(t *testing.T) {
	_, _, err := Read(bytes.NewReader(rawArray("(1000, 3)", 12)))
	assert.ErrorContains(t, err, "needs 12000 bytes")
}

func TestRead_EmptyArray(t *testing.T) {
	shape, data, err := Read(bytes.NewReader(rawArray("(0, 4, 3)", 0)))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 3}, shape)
	assert.Empty(t, data)
}
