// Package datasets presents the pre-aggregated BAHAMAS simulation stacks as a
// random-access sample space for baryon painting models.
//
// The archives store, per physical field and redshift, two independently
// indexed families of 2D grids ("100" and "150"). The dataset combines every
// tile of every "100" stack with every tile of every "150" stack by
// elementwise addition, which multiplies the effective sample count without
// materializing anything: the stacks stay memory-mapped on disk and each
// sample is composed on demand from a flat integer index.
package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Layout and intended usage:
//
// StackDataset
//   - Built once from a list of FileRecord entries (or a YAML manifest)
//     naming the stack files and their precomputed mean/variance per family.
//   - Decodes a flat index into a redshift plus a 6-tuple of
//     (stack, tile-row, tile-col) per family, reads both tiles from the
//     memory-mapped arrays and sums them.
//   - Applies a per-(field, redshift) transform pair lazily, parameterized by
//     the aggregate statistics of the pair.
//
// The dataset implements this interface so it can drive gomlx training loops
// and batching utilities while staying lazy.
type Dataset interface {
	Len() int
	Sample(idx int) ([]*Tile, int, error)
	Shuffle(seed int64)

	// To implement gomlx's train.Dataset interface. Yield returns io.EOF
	// once the epoch is exhausted; Reset rewinds for the next epoch.
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
	Reset()
}
