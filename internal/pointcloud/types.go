package pointcloud

import "fmt"

// Point is a single 3D coordinate.
type Point struct {
	X, Y, Z float64
}

// Cloud is an ordered set of points. Order carries no meaning but the
// point count is exact.
type Cloud []Point

// Batch is an ordered sequence of clouds that all share the same point count.
type Batch []Cloud

// Clone returns a deep copy of the cloud.
func (c Cloud) Clone() Cloud {
	out := make(Cloud, len(c))
	copy(out, c)
	return out
}

// NumPoints returns the point count of the first cloud, or 0 for an empty batch.
func (b Batch) NumPoints() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Shape returns the dense array shape [clouds, points, 3].
func (b Batch) Shape() [3]int {
	return [3]int{len(b), b.NumPoints(), 3}
}

// Validate checks that every cloud is non-empty and has the same point count.
func (b Batch) Validate() error {
	n := b.NumPoints()
	for i, c := range b {
		if len(c) == 0 {
			return fmt.Errorf("cloud %d is empty", i)
		}
		if len(c) != n {
			return fmt.Errorf("cloud %d has %d points, want %d", i, len(c), n)
		}
	}
	return nil
}

// Clone returns a deep copy of the batch.
func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for i, c := range b {
		out[i] = c.Clone()
	}
	return out
}

// Float32s flattens the batch into a row-major [clouds, points, 3] buffer.
func (b Batch) Float32s() []float32 {
	shape := b.Shape()
	out := make([]float32, 0, shape[0]*shape[1]*3)
	for _, c := range b {
		for _, p := range c {
			out = append(out, float32(p.X), float32(p.Y), float32(p.Z))
		}
	}
	return out
}

// FromFloat32s rebuilds a batch from a row-major [clouds, points, 3] buffer.
func FromFloat32s(shape []int, data []float32) (Batch, error) {
	if len(shape) != 3 || shape[2] != 3 {
		return nil, fmt.Errorf("expected shape [clouds, points, 3], got %v", shape)
	}
	clouds, points := shape[0], shape[1]
	if clouds < 0 || points < 0 || len(data) != clouds*points*3 {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}

	b := make(Batch, clouds)
	for i := range b {
		c := make(Cloud, points)
		for j := range c {
			off := (i*points + j) * 3
			c[j] = Point{X: float64(data[off]), Y: float64(data[off+1]), Z: float64(data[off+2])}
		}
		b[i] = c
	}
	return b, nil
}
