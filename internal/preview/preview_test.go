package preview

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointgen/internal/pointcloud"
)

func testBatch() pointcloud.Batch {
	return pointcloud.Batch{
		{{X: -1, Y: 0, Z: 0.5}, {X: 1, Y: 0.5, Z: -0.5}, {X: 0, Y: -1, Z: 0}},
		{{X: 0.2, Y: 0.1, Z: 0}, {X: -0.3, Y: 0.4, Z: 1}, {X: 0, Y: 0, Z: -1}},
		{{X: 2, Y: 2, Z: 2}, {X: -2, Y: -2, Z: -2}, {X: 0, Y: 0, Z: 0}},
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, testBatch(), 2, "airplane"))

	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "cloud 0")
	assert.Contains(t, html, "cloud 1")
	assert.NotContains(t, html, "cloud 2")
}

func TestWriteHTML_EmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteHTML(&buf, nil, 0, "x"))
}

func TestWritePNG(t *testing.T) {
	for _, proj := range Projections {
		t.Run(string(proj), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WritePNG(&buf, testBatch()[0], proj, "cloud 0"))

			img, err := png.Decode(&buf)
			require.NoError(t, err)
			assert.Positive(t, img.Bounds().Dx())
			assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())
		})
	}
}

func TestWritePNG_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WritePNG(&buf, nil, ProjectXY, "empty"))
	assert.Error(t, WritePNG(&buf, testBatch()[0], Projection("xw"), "bad"))
}
