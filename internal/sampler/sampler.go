package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/monitoring"
	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// ErrMalformedOutput is wrapped by DecodeError when the decoder returns the
// wrong number of clouds or points.
var ErrMalformedOutput = errors.New("malformed decoder output")

// DecodeError reports a failed decode round. It aborts the whole run.
type DecodeError struct {
	Round int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode round %d: %v", e.Round, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Options sizes a generation run.
type Options struct {
	BatchSize int // latents decoded per round
	NumPoints int // points per cloud
	Rounds    int // independent rounds to accumulate
	// Workers bounds concurrently decoded rounds. Zero or one decodes
	// rounds sequentially.
	Workers int
}

// Validate checks that every size is positive.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", o.BatchSize)
	}
	if o.NumPoints < 1 {
		return fmt.Errorf("num points must be at least 1, got %d", o.NumPoints)
	}
	if o.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", o.Rounds)
	}
	return nil
}

// Total is the number of clouds a successful run returns.
func (o Options) Total() int {
	return o.BatchSize * o.Rounds
}

// Generate runs opts.Rounds decode rounds of opts.BatchSize latents each and
// returns all Rounds x BatchSize clouds in round order.
//
// The model is acquired once before the first round and released once after
// the last, on every exit path. All latents are drawn up front from gc.Latent,
// so the output depends on the seed alone, whatever the worker count.
func Generate(ctx context.Context, gc *GenerationContext, cfg model.Config, opts Options) (batch pointcloud.Batch, err error) {
	if gc == nil || gc.Model == nil || gc.Latent.Src == nil {
		return nil, errors.New("generation context needs a model and a seeded latent source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	latents := make([]*mat.Dense, opts.Rounds)
	for r := range latents {
		latents[r] = drawLatent(gc, opts.BatchSize, cfg.LatentDim)
	}

	if err := gc.Model.Acquire(ctx, gc.Device); err != nil {
		return nil, err
	}
	defer func() {
		if relErr := gc.Model.Release(); relErr != nil {
			monitoring.Opsf("release model: %v", relErr)
			if err == nil {
				batch, err = nil, fmt.Errorf("release model: %w", relErr)
			}
		}
	}()

	start := time.Now()
	results := make([]pointcloud.Batch, opts.Rounds)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := range latents {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := decodeRound(gctx, gc.Model, latents[r], cfg, opts)
			if err != nil {
				return &DecodeError{Round: r, Err: err}
			}
			results[r] = out
			monitoring.Diagf("Generate: round %d/%d decoded %d clouds", r+1, opts.Rounds, len(out))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch = make(pointcloud.Batch, 0, opts.Total())
	for _, out := range results {
		batch = append(batch, out...)
	}
	monitoring.Opsf("Generated %d point clouds of %d points in %v", len(batch), opts.NumPoints, time.Since(start).Round(time.Millisecond))
	return batch, nil
}

// drawLatent fills a rows x dim matrix with independent standard normal draws.
func drawLatent(gc *GenerationContext, rows, dim int) *mat.Dense {
	data := make([]float64, rows*dim)
	for i := range data {
		data[i] = gc.Latent.Rand()
	}
	return mat.NewDense(rows, dim, data)
}

func decodeRound(ctx context.Context, dec model.Decoder, latent *mat.Dense, cfg model.Config, opts Options) (pointcloud.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := dec.Sample(ctx, latent, opts.NumPoints, cfg.Flexibility)
	if err != nil {
		return nil, err
	}
	if len(out) != opts.BatchSize {
		return nil, fmt.Errorf("%w: got %d clouds, want %d", ErrMalformedOutput, len(out), opts.BatchSize)
	}
	for i, c := range out {
		if len(c) != opts.NumPoints {
			return nil, fmt.Errorf("%w: cloud %d has %d points, want %d", ErrMalformedOutput, i, len(c), opts.NumPoints)
		}
	}
	return out, nil
}
