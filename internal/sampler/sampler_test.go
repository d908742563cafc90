package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// fixedModel returns the same deterministic clouds for every latent row and
// records how it was driven.
type fixedModel struct {
	mu        sync.Mutex
	acquired  int
	released  int
	calls     int
	latents   []*mat.Dense
	failCall  int // 1-based call that fails, 0 for never
	dropPoint bool
}

func (f *fixedModel) Kind() model.Kind { return model.KindGaussian }

func (f *fixedModel) Acquire(context.Context, model.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	return nil
}

func (f *fixedModel) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fixedModel) Sample(_ context.Context, latent *mat.Dense, numPoints int, _ float64) (pointcloud.Batch, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.latents = append(f.latents, latent)
	f.mu.Unlock()

	if call == f.failCall {
		return nil, errors.New("device out of memory")
	}
	rows, _ := latent.Dims()
	out := make(pointcloud.Batch, rows)
	for i := range out {
		c := make(pointcloud.Cloud, numPoints)
		for j := range c {
			c[j] = pointcloud.Point{X: float64(j), Y: 2 * float64(j%2), Z: -float64(i)}
		}
		if f.dropPoint {
			c = c[:len(c)-1]
		}
		out[i] = c
	}
	return out, nil
}

var testConfig = model.Config{Kind: model.KindGaussian, LatentDim: 5}

func TestGenerate_EndToEndThenBBox(t *testing.T) {
	ctx := context.Background()
	m := &fixedModel{}
	gc := NewGenerationContext(9, model.DeviceCPU, m)

	batch, err := Generate(ctx, gc, testConfig, Options{BatchSize: 2, NumPoints: 4, Rounds: 3})
	require.NoError(t, err)

	require.Len(t, batch, 6)
	for _, c := range batch {
		assert.Len(t, c, 4)
	}
	assert.Equal(t, 3, m.calls)
	for _, latent := range m.latents {
		r, c := latent.Dims()
		assert.Equal(t, 2, r)
		assert.Equal(t, 5, c)
	}

	_, err = pointcloud.Normalize(ctx, batch, pointcloud.ModeShapeBBox)
	require.NoError(t, err)
	require.Len(t, batch, 6)
	for i, c := range batch {
		lo, hi := c[0], c[0]
		for _, p := range c {
			lo = pointcloud.Point{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
			hi = pointcloud.Point{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
		}
		assert.InDelta(t, 0, (lo.X+hi.X)/2, 1e-12, "cloud %d", i)
		assert.InDelta(t, 0, (lo.Y+hi.Y)/2, 1e-12, "cloud %d", i)
		assert.InDelta(t, 0, (lo.Z+hi.Z)/2, 1e-12, "cloud %d", i)
		assert.InDelta(t, 2.0, math.Max(hi.X-lo.X, math.Max(hi.Y-lo.Y, hi.Z-lo.Z)), 1e-12, "cloud %d", i)
	}
}

func TestGenerate_AcquiresOnceAndReleasesOnFailure(t *testing.T) {
	m := &fixedModel{failCall: 2}
	gc := NewGenerationContext(1, model.DeviceCPU, m)

	_, err := Generate(context.Background(), gc, testConfig, Options{BatchSize: 3, NumPoints: 2, Rounds: 4, Workers: 1})

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 1, decodeErr.Round)
	assert.Contains(t, err.Error(), "device out of memory")
	assert.Equal(t, 2, m.calls, "no retry and no further rounds")
	assert.Equal(t, 1, m.acquired)
	assert.Equal(t, 1, m.released)
}

func TestGenerate_MalformedOutput(t *testing.T) {
	m := &fixedModel{dropPoint: true}
	gc := NewGenerationContext(1, model.DeviceCPU, m)

	_, err := Generate(context.Background(), gc, testConfig, Options{BatchSize: 1, NumPoints: 3, Rounds: 2})
	assert.ErrorIs(t, err, ErrMalformedOutput)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 1, m.released)
}

func TestGenerate_DeterministicAcrossWorkers(t *testing.T) {
	ckpt := &model.Checkpoint{Args: model.Args{Model: "flow", LatentDim: 8, Flexibility: 0.1}}
	cfg, err := ckpt.Config()
	require.NoError(t, err)

	run := func(seed uint64, workers int) pointcloud.Batch {
		m, err := model.New(ckpt, model.NewProceduralBackend())
		require.NoError(t, err)
		gc := NewGenerationContext(seed, "cuda", m)
		b, err := Generate(context.Background(), gc, cfg, Options{BatchSize: 4, NumPoints: 16, Rounds: 5, Workers: workers})
		require.NoError(t, err)
		return b
	}

	seq := run(9, 1)
	par := run(9, 4)
	assert.Equal(t, seq, par)
	assert.Len(t, seq, 20)
	assert.NotEqual(t, seq, run(10, 1), "seed changes output")
}

func TestGenerate_LatentsFollowSeededNormal(t *testing.T) {
	m := &fixedModel{}
	gc := NewGenerationContext(42, model.DeviceCPU, m)
	_, err := Generate(context.Background(), gc, testConfig, Options{BatchSize: 3, NumPoints: 2, Rounds: 2})
	require.NoError(t, err)
	require.Len(t, m.latents, 2)

	ref := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(42, 42)}
	for r, latent := range m.latents {
		rows, cols := latent.Dims()
		require.Equal(t, 3, rows, "round %d", r)
		require.Equal(t, testConfig.LatentDim, cols, "round %d", r)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				assert.Equal(t, ref.Rand(), latent.At(i, j), "round %d latent (%d,%d)", r, i, j)
			}
		}
	}
}

func TestGenerate_RequiresSeededSource(t *testing.T) {
	gc := &GenerationContext{Device: model.DeviceCPU, Model: &fixedModel{}}
	_, err := Generate(context.Background(), gc, testConfig, Options{BatchSize: 1, NumPoints: 1, Rounds: 1})
	assert.Error(t, err)
}

func TestGenerate_RejectsInvalidInput(t *testing.T) {
	gc := NewGenerationContext(1, model.DeviceCPU, &fixedModel{})

	for _, opts := range []Options{
		{BatchSize: 0, NumPoints: 1, Rounds: 1},
		{BatchSize: 1, NumPoints: 0, Rounds: 1},
		{BatchSize: 1, NumPoints: 1, Rounds: 0},
	} {
		_, err := Generate(context.Background(), gc, testConfig, opts)
		assert.Error(t, err, "%+v", opts)
	}

	_, err := Generate(context.Background(), gc, model.Config{Kind: model.KindFlow}, Options{BatchSize: 1, NumPoints: 1, Rounds: 1})
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Generate(context.Background(), nil, testConfig, Options{BatchSize: 1, NumPoints: 1, Rounds: 1})
	assert.Error(t, err)
}

func TestGenerate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &fixedModel{}

	_, err := Generate(ctx, NewGenerationContext(1, model.DeviceCPU, m), testConfig, Options{BatchSize: 1, NumPoints: 1, Rounds: 3})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.calls)
}
