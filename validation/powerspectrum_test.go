package validation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baryonpaint/bahamas/datasets"
)

func sineTile(n, mode int) *datasets.Tile {
	t := datasets.NewTile(n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			t.Set(r, c, float32(math.Sin(2*math.Pi*float64(mode*c)/float64(n))))
		}
	}
	return t
}

func TestPseudoPofk_SineModeLocalized(t *testing.T) {
	const (
		n    = 32
		mode = 4
		l    = 1.0
	)
	tile := sineTile(n, mode)

	s, err := PseudoPofk(tile, tile, l, n/2, false)
	require.NoError(t, err)
	require.Len(t, s.Pk, n/2)

	best := 0
	for i := range s.Pk {
		if s.Pk[i] > s.Pk[best] {
			best = i
		}
	}
	wantK := 2 * math.Pi / l * float64(mode)
	binWidth := 2 * math.Pi / l * (float64(n)/2 - 1) / float64(n/2)
	assert.InDelta(t, wantK, s.K[best], binWidth,
		"peak bin k=%g, want near %g", s.K[best], wantK)

	var peak, rest float64
	for i := range s.Pk {
		p := s.Pk[i] * float64(s.NModes[i])
		if i == best {
			peak = p
		} else {
			rest += p
		}
	}
	assert.Greater(t, peak, 100*rest, "sine power leaked out of its bin")
}

func TestPseudoPofk_ConstantTileHasNoPower(t *testing.T) {
	tile := datasets.NewTile(16)
	for i := range tile.Data {
		tile.Data[i] = 7.5
	}

	s, err := PseudoPofk(tile, tile, 1.0, 8, true)
	require.NoError(t, err)
	for i, p := range s.Pk {
		assert.InDelta(t, 0, p, 1e-8, "bin %d", i)
	}
}

func TestPseudoPofk_CrossEqualsAutoForIdenticalTiles(t *testing.T) {
	tile := sineTile(16, 3)
	other := tile.Clone()

	auto, err := PseudoPofk(tile, tile, 2.0, 8, true)
	require.NoError(t, err)
	cross, err := PseudoPofk(tile, other, 2.0, 8, true)
	require.NoError(t, err)

	for i := range auto.Pk {
		assert.InDelta(t, auto.Pk[i], cross.Pk[i], 1e-10*math.Abs(auto.Pk[i])+1e-12)
	}
}

func TestPseudoPofk_Errors(t *testing.T) {
	a := datasets.NewTile(8)
	b := datasets.NewTile(4)

	_, err := PseudoPofk(a, b, 1.0, 4, false)
	assert.Error(t, err)

	_, err = PseudoPofk(a, a, 0, 4, false)
	assert.Error(t, err)

	_, err = PseudoPofk(datasets.NewTile(1), datasets.NewTile(1), 1.0, 4, false)
	assert.Error(t, err)
}
