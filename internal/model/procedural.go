package model

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// ErrNotAcquired is returned by Decode outside an Acquire/Release window.
var ErrNotAcquired = errors.New("backend not acquired")

// ProceduralBackend is an in-process stand-in for the trained network. Each
// latent row deterministically describes a jittered ellipsoid: identical
// rows always decode to identical clouds. It is used in dev mode and tests.
type ProceduralBackend struct {
	mu     sync.RWMutex
	device Device
	ckpt   *Checkpoint
	loaded bool
}

// NewProceduralBackend returns an unloaded procedural backend.
func NewProceduralBackend() *ProceduralBackend {
	return &ProceduralBackend{}
}

// Acquire marks the backend loaded on device.
func (b *ProceduralBackend) Acquire(ctx context.Context, device Device, ckpt *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return fmt.Errorf("backend already acquired on %s", b.device)
	}
	b.device = device
	b.ckpt = ckpt
	b.loaded = true
	return nil
}

// Release unloads the backend. Releasing twice is a no-op.
func (b *ProceduralBackend) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = false
	b.ckpt = nil
	return nil
}

// Loaded reports whether the backend is between Acquire and Release.
func (b *ProceduralBackend) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

// Decode builds one cloud per latent row.
func (b *ProceduralBackend) Decode(ctx context.Context, req Request) (pointcloud.Batch, error) {
	if !b.Loaded() {
		return nil, ErrNotAcquired
	}
	if req.Latent == nil {
		return nil, fmt.Errorf("nil latent")
	}
	if req.NumPoints < 1 {
		return nil, fmt.Errorf("num_points must be positive, got %d", req.NumPoints)
	}

	rows, cols := req.Latent.Dims()
	if cols == 0 {
		return nil, fmt.Errorf("latent has no columns")
	}
	out := make(pointcloud.Batch, rows)
	for i := 0; i < rows; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		z := req.Latent.RawRowView(i)
		if req.Kind == KindFlow {
			z = flowForward(z)
		}
		out[i] = decodeEllipsoid(z, req.NumPoints, req.Flexibility)
	}
	return out, nil
}

// flowForward maps a prior sample into shape-code space with a fixed
// monotonic transform, standing in for the learned flow.
func flowForward(w []float64) []float64 {
	z := make([]float64, len(w))
	for i, v := range w {
		z[i] = v + 0.5*math.Tanh(v)
	}
	return z
}

func decodeEllipsoid(z []float64, numPoints int, flexibility float64) pointcloud.Cloud {
	at := func(k int) float64 { return z[k%len(z)] }
	softplus := func(v float64) float64 { return math.Log1p(math.Exp(v)) }

	radius := pointcloud.Point{X: 0.5 + softplus(at(0)), Y: 0.5 + softplus(at(1)), Z: 0.5 + softplus(at(2))}
	centre := pointcloud.Point{X: 0.1 * at(3), Y: 0.1 * at(4), Z: 0.1 * at(5)}
	jitter := 0.01 + 0.04*flexibility

	seed := latentSeed(z, numPoints)
	r := rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))

	c := make(pointcloud.Cloud, numPoints)
	for j := range c {
		var dx, dy, dz, norm float64
		for norm < 1e-12 {
			dx, dy, dz = r.NormFloat64(), r.NormFloat64(), r.NormFloat64()
			norm = math.Sqrt(dx*dx + dy*dy + dz*dz)
		}
		c[j] = pointcloud.Point{
			X: centre.X + radius.X*dx/norm + jitter*r.NormFloat64(),
			Y: centre.Y + radius.Y*dy/norm + jitter*r.NormFloat64(),
			Z: centre.Z + radius.Z*dz/norm + jitter*r.NormFloat64(),
		}
	}
	return c
}

func latentSeed(z []float64, numPoints int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range z {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(numPoints))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
