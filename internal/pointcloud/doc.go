// Package pointcloud owns the point cloud data model used by the generator
// and the per-shape normalization that maps raw decoder output into a
// canonical frame.
//
// Key types: Point, Cloud, Batch, Mode.
//
// Normalization is strictly per cloud: no statistics cross shape
// boundaries, so clouds may be processed in any order or in parallel.
package pointcloud
