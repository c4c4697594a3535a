package datasets

import (
	"fmt"
	"math"
)

// Stats holds the aggregate statistics for one field at one redshift: the sum
// of the two families' precomputed means and variances. They are dataset-level
// scalars, not per-tile values.
type Stats struct {
	Mean float64
	Var  float64
}

// TransformFunc maps a tile to its transformed counterpart. Implementations
// must be pure: the dataset calls them lazily on every sample access, closed
// over the stats of the sample's (field, redshift) pair. The input tile may be
// modified and returned in place.
type TransformFunc func(x *Tile, field string, z float64, stats Stats) *Tile

// Identity is the default transform strategy: it returns the tile unchanged.
//
// The default inverse strategy is Identity as well; the bookkeeping the
// legacy pipeline smuggled through its inverse (field, redshift, mean,
// variance) is exposed directly on the BoundTransform value instead.
func Identity(x *Tile, _ string, _ float64, _ Stats) *Tile { return x }

// Normalize shifts by the aggregate mean and scales by the aggregate standard
// deviation. Its inverse is Denormalize.
func Normalize(x *Tile, _ string, _ float64, stats Stats) *Tile {
	mean, sd := float32(stats.Mean), float32(math.Sqrt(stats.Var))
	for i, v := range x.Data {
		x.Data[i] = (v - mean) / sd
	}
	return x
}

// Denormalize is the inverse of Normalize.
func Denormalize(x *Tile, _ string, _ float64, stats Stats) *Tile {
	mean, sd := float32(stats.Mean), float32(math.Sqrt(stats.Var))
	for i, v := range x.Data {
		x.Data[i] = v*sd + mean
	}
	return x
}

// BoundTransform binds a TransformFunc to one (field, redshift) pair and its
// aggregate statistics, yielding a unary function on tiles. The binding
// metadata is exported so consumers can recover which transform produced a
// sample.
type BoundTransform struct {
	Field string
	Z     float64
	Stats Stats

	fn TransformFunc
}

// Apply runs the bound transform on x.
func (b BoundTransform) Apply(x *Tile) *Tile {
	return b.fn(x, b.Field, b.Z, b.Stats)
}

// Ref selects a sample location either by flat index or by redshift. Build it
// with ByIndex or ByRedshift; the zero Ref selects nothing and is rejected.
type Ref struct {
	idx *int
	z   *float64
}

// ByIndex selects the redshift the flat sample index idx decodes to.
func ByIndex(idx int) Ref { return Ref{idx: &idx} }

// ByRedshift selects the redshift z directly.
func ByRedshift(z float64) Ref { return Ref{z: &z} }

func (r Ref) String() string {
	switch {
	case r.idx != nil:
		return fmt.Sprintf("index %d", *r.idx)
	case r.z != nil:
		return fmt.Sprintf("z=%g", *r.z)
	default:
		return "unset"
	}
}
