package model

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// Decoder maps a batch of latent vectors to point clouds.
type Decoder interface {
	Sample(ctx context.Context, latent *mat.Dense, numPoints int, flexibility float64) (pointcloud.Batch, error)
}

// Model is a decoder bound to a checkpoint and the device it runs on.
type Model interface {
	Decoder
	Kind() Kind
	Acquire(ctx context.Context, device Device) error
	Release() error
}

// New selects the decoder variant for the checkpoint's model kind.
func New(ckpt *Checkpoint, backend Backend) (Model, error) {
	if ckpt == nil {
		return nil, &ConfigurationError{Reason: "nil checkpoint"}
	}
	if backend == nil {
		return nil, &ConfigurationError{Field: "backend", Reason: "no model backend configured"}
	}
	cfg, err := ckpt.Config()
	if err != nil {
		return nil, err
	}

	b := binding{backend: backend, ckpt: ckpt}
	switch cfg.Kind {
	case KindGaussian:
		return &GaussianDecoder{binding: b}, nil
	case KindFlow:
		return &FlowDecoder{binding: b}, nil
	default:
		return nil, configErrorf("model", "unrecognized model kind %q", cfg.Kind)
	}
}

type binding struct {
	backend Backend
	ckpt    *Checkpoint
}

func (b binding) Acquire(ctx context.Context, device Device) error {
	if err := b.backend.Acquire(ctx, device, b.ckpt); err != nil {
		return fmt.Errorf("acquire model on %s: %w", device, err)
	}
	return nil
}

func (b binding) Release() error {
	return b.backend.Release()
}

// GaussianDecoder decodes latents that are already shape codes.
type GaussianDecoder struct {
	binding
}

// Kind returns KindGaussian.
func (d *GaussianDecoder) Kind() Kind { return KindGaussian }

// Sample decodes one cloud per latent row.
func (d *GaussianDecoder) Sample(ctx context.Context, latent *mat.Dense, numPoints int, flexibility float64) (pointcloud.Batch, error) {
	return d.backend.Decode(ctx, Request{Kind: KindGaussian, Latent: latent, NumPoints: numPoints, Flexibility: flexibility})
}

// FlowDecoder decodes prior samples through the normalizing flow.
type FlowDecoder struct {
	binding
}

// Kind returns KindFlow.
func (d *FlowDecoder) Kind() Kind { return KindFlow }

// Sample decodes one cloud per latent row.
func (d *FlowDecoder) Sample(ctx context.Context, latent *mat.Dense, numPoints int, flexibility float64) (pointcloud.Batch, error) {
	return d.backend.Decode(ctx, Request{Kind: KindFlow, Latent: latent, NumPoints: numPoints, Flexibility: flexibility})
}
