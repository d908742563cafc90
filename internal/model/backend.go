package model

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// Request is a single decode call: one point cloud per latent row.
type Request struct {
	Kind        Kind
	Latent      *mat.Dense // rows x latent_dim
	NumPoints   int
	Flexibility float64
}

// Backend hosts the network weights on a compute device. Acquire and
// Release bracket a whole generation run; Decode may be called concurrently
// between them.
type Backend interface {
	Acquire(ctx context.Context, device Device, ckpt *Checkpoint) error
	Decode(ctx context.Context, req Request) (pointcloud.Batch, error)
	Release() error
}
