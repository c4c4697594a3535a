package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/baryonpaint/bahamas/datasets"
)

// SpectrumMode selects auto or cross power spectra.
type SpectrumMode string

const (
	// Auto correlates each field with itself.
	Auto SpectrumMode = "auto"
	// Cross correlates each field with the input field.
	Cross SpectrumMode = "cross"
)

// Spectrum is a binned pseudo power spectrum.
type Spectrum struct {
	// K holds the bin centers.
	K []float64
	// Pk holds the binned mean power.
	Pk []float64
	// PkVar holds the variance of the binned mean.
	PkVar []float64
	// NModes counts the Fourier modes contributing to each bin.
	NModes []int
}

// PseudoPofk estimates the cross power spectrum of two square tiles of
// physical size l, binned radially in |k| over [2π/l, 2π/l · N/2] with nKBin
// bins (log-spaced when logBins is set). For the auto spectrum pass the same
// tile twice.
//
// The estimate uses the flat-sky convention P(k) = l² Re(F_a F_b*) / N⁴ and
// ignores the DC mode.
func PseudoPofk(a, b *datasets.Tile, l float64, nKBin int, logBins bool) (Spectrum, error) {
	n := a.Size
	if b.Size != n {
		return Spectrum{}, fmt.Errorf("tile sizes %d and %d differ", n, b.Size)
	}
	if n < 2 {
		return Spectrum{}, fmt.Errorf("tile size %d too small for a spectrum", n)
	}
	if nKBin <= 0 {
		nKBin = 20
	}
	if l <= 0 {
		return Spectrum{}, fmt.Errorf("physical size %g must be positive", l)
	}

	fa := fft2(a)
	fb := fa
	if b != a {
		fb = fft2(b)
	}

	kMin := 2 * math.Pi / l
	kMax := kMin * float64(n) / 2
	edges := binEdges(kMin, kMax, nKBin, logBins)

	sum := make([]float64, nKBin)
	sumSq := make([]float64, nKBin)
	count := make([]int, nKBin)
	norm := l * l / float64(n*n) / float64(n*n)

	for i := 0; i < n; i++ {
		ki := kMin * float64(freq(i, n))
		for j := 0; j < n; j++ {
			if i == 0 && j == 0 {
				continue
			}
			kj := kMin * float64(freq(j, n))
			kMag := math.Hypot(ki, kj)

			bin := findBin(edges, kMag)
			if bin < 0 {
				continue
			}
			p := real(fa[i][j]*complexConj(fb[i][j])) * norm
			sum[bin] += p
			sumSq[bin] += p * p
			count[bin]++
		}
	}

	out := Spectrum{
		K:      make([]float64, nKBin),
		Pk:     make([]float64, nKBin),
		PkVar:  make([]float64, nKBin),
		NModes: count,
	}
	for i := 0; i < nKBin; i++ {
		if logBins {
			out.K[i] = math.Sqrt(edges[i] * edges[i+1])
		} else {
			out.K[i] = 0.5 * (edges[i] + edges[i+1])
		}
		if count[i] == 0 {
			continue
		}
		mean := sum[i] / float64(count[i])
		out.Pk[i] = mean
		out.PkVar[i] = (sumSq[i]/float64(count[i]) - mean*mean) / float64(count[i])
	}
	return out, nil
}

func complexConj(c complex128) complex128 { return complex(real(c), -imag(c)) }

// freq maps a DFT index to its signed frequency in grid units.
func freq(i, n int) int {
	if i <= n/2 {
		return i
	}
	return i - n
}

func binEdges(kMin, kMax float64, nBin int, logBins bool) []float64 {
	edges := make([]float64, nBin+1)
	if logBins {
		ratio := math.Log(kMax / kMin)
		for i := range edges {
			edges[i] = kMin * math.Exp(ratio*float64(i)/float64(nBin))
		}
	} else {
		for i := range edges {
			edges[i] = kMin + (kMax-kMin)*float64(i)/float64(nBin)
		}
	}
	return edges
}

func findBin(edges []float64, k float64) int {
	if k < edges[0] || k > edges[len(edges)-1] {
		return -1
	}
	lo, hi := 0, len(edges)-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if k < edges[mid] {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo
}

// fft2 computes the unnormalized 2D DFT of a tile: rows first, then columns.
func fft2(t *datasets.Tile) [][]complex128 {
	n := t.Size
	fft := fourier.NewCmplxFFT(n)

	rows := make([][]complex128, n)
	buf := make([]complex128, n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			buf[c] = complex(float64(t.At(r, c)), 0)
		}
		rows[r] = fft.Coefficients(nil, buf)
	}

	col := make([]complex128, n)
	for c := 0; c < n; c++ {
		for r := 0; r < n; r++ {
			col[r] = rows[r][c]
		}
		out := fft.Coefficients(nil, col)
		for r := 0; r < n; r++ {
			rows[r][c] = out[r]
		}
	}
	return rows
}

// SpectraOptions controls PlotPowerSpectra.
type SpectraOptions struct {
	Mode         SpectrumMode
	OutputLabels []string
	NKBin        int
	LogBins      bool
	// InverseTransforms, input field first, are applied to copies of the
	// tiles before the spectra are computed. Optional; they must all be bound
	// to the redshift the plotted samples came from.
	InverseTransforms []datasets.BoundTransform
}

// PlotPowerSpectra writes a two-row figure per label field: truth and
// predicted k²P(k) overlays on top, the per-sample fractional deviation of
// the prediction below, with the mean deviation drawn bold.
func PlotPowerSpectra(input []*datasets.Tile, truth, pred [][]*datasets.Tile, l float64, opts SpectraOptions, path string) error {
	if opts.Mode == "" {
		opts.Mode = Auto
	}
	if opts.Mode != Auto && opts.Mode != Cross {
		return fmt.Errorf("invalid spectrum mode %q", opts.Mode)
	}
	if opts.NKBin <= 0 {
		opts.NKBin = 20
	}
	if len(truth) == 0 || len(truth) != len(pred) || len(truth) != len(input) {
		return fmt.Errorf("got %d input, %d truth, %d prediction samples, want equal nonzero counts",
			len(input), len(truth), len(pred))
	}

	cols := len(truth[0])
	topRow := make([]*plot.Plot, cols)
	devRow := make([]*plot.Plot, cols)

	for j := 0; j < cols; j++ {
		top := plot.New()
		top.X.Scale = plot.LogScale{}
		top.Y.Scale = plot.LogScale{}
		top.X.Tick.Marker = plot.LogTicks{Prec: -1}
		top.Y.Tick.Marker = plot.LogTicks{Prec: -1}
		top.Y.Label.Text = "k² P(k)"
		if j < len(opts.OutputLabels) {
			top.Title.Text = opts.OutputLabels[j]
		}

		dev := plot.New()
		dev.X.Scale = plot.LogScale{}
		dev.X.Tick.Marker = plot.LogTicks{Prec: -1}
		dev.X.Label.Text = "k [h/Mpc]"
		dev.Y.Label.Text = "Fractional difference"
		dev.Y.Min, dev.Y.Max = -0.5, 0.5

		var meanDev []float64
		var kBins []float64
		for i := range truth {
			tTile := opts.restore(truth[i][j], j+1)
			pTile := opts.restore(pred[i][j], j+1)

			against, againstPred := tTile, pTile
			if opts.Mode == Cross {
				in := opts.restore(input[i], 0)
				against, againstPred = in, in
			}

			st, err := PseudoPofk(tTile, against, l, opts.NKBin, opts.LogBins)
			if err != nil {
				return fmt.Errorf("truth spectrum of sample %d field %d: %w", i, j, err)
			}
			sp, err := PseudoPofk(pTile, againstPred, l, opts.NKBin, opts.LogBins)
			if err != nil {
				return fmt.Errorf("prediction spectrum of sample %d field %d: %w", i, j, err)
			}

			if err := addSpectrumLine(top, st, truthColor); err != nil {
				return err
			}
			if err := addSpectrumLine(top, sp, predColor); err != nil {
				return err
			}

			if meanDev == nil {
				meanDev = make([]float64, len(st.K))
				kBins = st.K
			}
			devPts := make(plotter.XYs, 0, len(st.K))
			for b := range st.K {
				if st.Pk[b] == 0 {
					continue
				}
				frac := sp.Pk[b]/st.Pk[b] - 1
				meanDev[b] += frac / float64(len(truth))
				devPts = append(devPts, plotter.XY{X: st.K[b], Y: frac})
			}
			line, err := plotter.NewLine(devPts)
			if err != nil {
				return fmt.Errorf("failed to build deviation line: %w", err)
			}
			line.Color = color50(truthColor)
			dev.Add(line)
		}

		meanPts := make(plotter.XYs, 0, len(kBins))
		for b := range kBins {
			meanPts = append(meanPts, plotter.XY{X: kBins[b], Y: meanDev[b]})
		}
		meanLine, err := plotter.NewLine(meanPts)
		if err != nil {
			return fmt.Errorf("failed to build mean deviation line: %w", err)
		}
		meanLine.Color = truthColor
		meanLine.Width = 2 * vg.Points(1)
		dev.Add(meanLine)

		topRow[j] = top
		devRow[j] = dev
	}

	return saveGrid([][]*plot.Plot{topRow, devRow}, 8*vg.Centimeter, path)
}

// restore applies the inverse transform of field position i (0 = input) to a
// copy of the tile, when one was supplied.
func (o SpectraOptions) restore(t *datasets.Tile, i int) *datasets.Tile {
	if i >= len(o.InverseTransforms) {
		return t
	}
	return o.InverseTransforms[i].Apply(t.Clone())
}

func addSpectrumLine(p *plot.Plot, s Spectrum, c interface{ RGBA() (r, g, b, a uint32) }) error {
	pts := make(plotter.XYs, 0, len(s.K))
	for b := range s.K {
		if s.Pk[b] <= 0 || s.NModes[b] == 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: s.K[b], Y: s.K[b] * s.K[b] * s.Pk[b]})
	}
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build spectrum line: %w", err)
	}
	line.Color = color50(c)
	p.Add(line)
	return nil
}

// color50 halves the opacity of a color for overlaid per-sample lines.
func color50(c interface{ RGBA() (r, g, b, a uint32) }) plotColor {
	r, g, b, _ := c.RGBA()
	return plotColor{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 128}
}

type plotColor struct{ R, G, B, A uint8 }

func (c plotColor) RGBA() (r, g, b, a uint32) {
	return uint32(c.R) * 0x101, uint32(c.G) * 0x101, uint32(c.B) * 0x101, uint32(c.A) * 0x101
}

// PlotSpectra writes the auto power spectra of a set of tiles (typically one
// sample's input plus labels) on a single log-log plot.
func PlotSpectra(tiles []*datasets.Tile, labels []string, l float64, nKBin int, path string) error {
	if len(tiles) == 0 {
		return fmt.Errorf("no tiles to plot")
	}

	p := plot.New()
	p.Title.Text = "Auto power spectrum"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.X.Label.Text = "k [h/Mpc]"
	p.Y.Label.Text = "k² P(k)"

	for i, tile := range tiles {
		s, err := PseudoPofk(tile, tile, l, nKBin, true)
		if err != nil {
			return fmt.Errorf("spectrum of tile %d: %w", i, err)
		}
		pts := make(plotter.XYs, 0, len(s.K))
		for b := range s.K {
			if s.Pk[b] <= 0 || s.NModes[b] == 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: s.K[b], Y: s.K[b] * s.K[b] * s.Pk[b]})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build spectrum line: %w", err)
		}
		line.Color = plotutilColor(i)
		p.Add(line)
		if i < len(labels) {
			p.Legend.Add(labels[i], line)
		}
	}
	p.Legend.Top = true

	return p.Save(16*vg.Centimeter, 12*vg.Centimeter, path)
}

var linePalette = []plotColor{
	{0x1f, 0x77, 0xb4, 0xff},
	{0xff, 0x7f, 0x0e, 0xff},
	{0x2c, 0xa0, 0x2c, 0xff},
	{0xd6, 0x27, 0x28, 0xff},
	{0x94, 0x67, 0xbd, 0xff},
	{0x8c, 0x56, 0x4b, 0xff},
}

func plotutilColor(i int) plotColor {
	return linePalette[i%len(linePalette)]
}
