package datasets

import (
	"fmt"
	"math"
)

// FieldSummary holds empirical pixel statistics of composite tiles for one
// field at one redshift, alongside the stats recorded in the manifest.
type FieldSummary struct {
	Field string
	Z     float64

	// Mean and Var are measured over the sampled tile pixels.
	Mean float64
	Var  float64
	Min  float32
	Max  float32

	// Recorded carries the precomputed stack statistics for comparison.
	Recorded Stats

	// NTiles is the number of tiles the measurement covered.
	NTiles int
}

// Summarize measures pixel statistics over up to maxTiles composite tiles of
// one field at one redshift. A maxTiles of zero or less covers every tile of
// the redshift. The recorded manifest statistics are returned alongside so
// callers can check them against the data.
func (d *StackDataset) Summarize(field string, z float64, maxTiles int) (FieldSummary, error) {
	n := d.nSamplePerZ
	if maxTiles > 0 && maxTiles < n {
		n = maxTiles
	}

	recorded, err := d.StackStats(field, z)
	if err != nil {
		return FieldSummary{}, err
	}

	var (
		sum, sumSq float64
		count      int
		minV       = float32(math.Inf(1))
		maxV       = float32(math.Inf(-1))
	)
	for i := 0; i < n; i++ {
		tile, _, err := d.Stack(field, z, i)
		if err != nil {
			return FieldSummary{}, fmt.Errorf("failed to read tile %d of %s at z=%g: %w", i, field, z, err)
		}
		for _, v := range tile.Data {
			f := float64(v)
			sum += f
			sumSq += f * f
			count++
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}
	if count == 0 {
		return FieldSummary{}, fmt.Errorf("%w: no tiles to summarize for %s at z=%g", ErrConfiguration, field, z)
	}

	mean := sum / float64(count)
	return FieldSummary{
		Field:    field,
		Z:        z,
		Mean:     mean,
		Var:      sumSq/float64(count) - mean*mean,
		Min:      minV,
		Max:      maxV,
		Recorded: recorded,
		NTiles:   n,
	}, nil
}
