package pointcloud

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pointgen/internal/monitoring"
)

// Transform is the rescaling applied to one cloud: p' = (p - Shift) / Scale.
type Transform struct {
	Shift Point
	Scale float64
}

// Apply maps p into the normalized frame.
func (t Transform) Apply(p Point) Point {
	return Point{
		X: (p.X - t.Shift.X) / t.Scale,
		Y: (p.Y - t.Shift.Y) / t.Scale,
		Z: (p.Z - t.Shift.Z) / t.Scale,
	}
}

// Invert maps a normalized point back into the original frame.
func (t Transform) Invert(p Point) Point {
	return Point{
		X: p.X*t.Scale + t.Shift.X,
		Y: p.Y*t.Scale + t.Shift.Y,
		Z: p.Z*t.Scale + t.Shift.Z,
	}
}

// DegenerateShapeError reports a cloud that cannot be rescaled: every point
// is identical, or the scale is zero or not finite.
type DegenerateShapeError struct {
	Index  int     // position of the cloud in its batch, -1 when normalized alone
	Mode   Mode
	Scale  float64
	Extent float64 // largest axis range of the cloud
}

func (e *DegenerateShapeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("degenerate shape: %s scale %v, extent %v", e.Mode, e.Scale, e.Extent)
	}
	return fmt.Sprintf("degenerate shape at cloud %d: %s scale %v, extent %v", e.Index, e.Mode, e.Scale, e.Extent)
}

// NormalizeCloud rescales c in place according to mode and returns the
// transform it applied. On error c is left untouched.
func NormalizeCloud(c Cloud, mode Mode) (Transform, error) {
	identity := Transform{Scale: 1}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return identity, err
	}
	if mode == ModeNone {
		return identity, nil
	}
	if len(c) == 0 {
		return identity, fmt.Errorf("cannot normalize an empty cloud")
	}

	xs, ys, zs := axes(c)
	minX, maxX := floats.Min(xs), floats.Max(xs)
	minY, maxY := floats.Min(ys), floats.Max(ys)
	minZ, maxZ := floats.Min(zs), floats.Max(zs)
	extent := math.Max(maxX-minX, math.Max(maxY-minY, maxZ-minZ))

	var t Transform
	switch mode {
	case ModeShapeUnit:
		t.Shift = Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
		flat := make([]float64, 0, 3*len(c))
		flat = append(flat, xs...)
		flat = append(flat, ys...)
		flat = append(flat, zs...)
		t.Scale = stat.StdDev(flat, nil)
	case ModeShapeBBox:
		t.Shift = Point{X: (minX + maxX) / 2, Y: (minY + maxY) / 2, Z: (minZ + maxZ) / 2}
		t.Scale = extent / 2
	}

	// The flattened deviation of a collapsed cloud is non-zero whenever its
	// axes differ, so zero extent is checked on its own.
	if extent == 0 || t.Scale == 0 || math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) || math.IsNaN(extent) || math.IsInf(extent, 0) {
		return identity, &DegenerateShapeError{Index: -1, Mode: mode, Scale: t.Scale, Extent: extent}
	}

	for i, p := range c {
		c[i] = t.Apply(p)
	}
	return t, nil
}

// axes splits a cloud into per-axis coordinate slices.
func axes(c Cloud) (xs, ys, zs []float64) {
	xs = make([]float64, len(c))
	ys = make([]float64, len(c))
	zs = make([]float64, len(c))
	for i, p := range c {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return xs, ys, zs
}

// Normalizer rescales every cloud of a batch independently.
type Normalizer struct {
	// Workers bounds the number of clouds normalized concurrently.
	// Zero or negative uses GOMAXPROCS.
	Workers int
}

// Normalize rewrites batch in place and returns it. The first failing cloud
// aborts the whole batch; clouds already rewritten stay rewritten, so callers
// must discard the batch on error.
func (n Normalizer) Normalize(ctx context.Context, batch Batch, mode Mode) (Batch, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return batch, err
	}
	if mode == ModeNone {
		monitoring.Diagf("Will not normalize point clouds.")
		return batch, nil
	}
	monitoring.Diagf("Normalization mode: %s (%d clouds)", mode, len(batch))

	workers := n.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range batch {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := NormalizeCloud(batch[i], mode)
			if err != nil {
				var degenerate *DegenerateShapeError
				if errors.As(err, &degenerate) {
					degenerate.Index = i
				}
				return fmt.Errorf("normalize cloud %d: %w", i, err)
			}
			monitoring.Tracef("cloud %d: shift=(%.4f, %.4f, %.4f) scale=%.6f", i, t.Shift.X, t.Shift.Y, t.Shift.Z, t.Scale)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return batch, err
	}
	return batch, ctx.Err()
}

// Normalize rewrites batch in place using a default Normalizer.
func Normalize(ctx context.Context, batch Batch, mode Mode) (Batch, error) {
	return Normalizer{}.Normalize(ctx, batch, mode)
}
