// Package sampler draws latent vectors and decodes them into point clouds
// over repeated rounds, accumulating one batch per run.
package sampler
