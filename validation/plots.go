// Package validation renders diagnostic figures for painted baryon fields:
// sample grids, pixel histograms, and power spectra comparing model
// predictions against the truth tiles served by the datasets package. It is a
// consumer of dataset output, not part of the dataset contract.
package validation

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/baryonpaint/bahamas/datasets"
)

var (
	truthColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	predColor  = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
)

// tileGrid adapts a Tile to plotter.GridXYZ with physical axis coordinates.
type tileGrid struct {
	tile *datasets.Tile
	l    float64
}

func (g tileGrid) Dims() (c, r int) { return g.tile.Size, g.tile.Size }

func (g tileGrid) Z(c, r int) float64 { return float64(g.tile.At(r, c)) }

func (g tileGrid) X(c int) float64 { return g.l * float64(c) / float64(g.tile.Size) }

func (g tileGrid) Y(r int) float64 { return g.l * float64(r) / float64(g.tile.Size) }

func heatPlot(tile *datasets.Tile, l float64, title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()
	p.Add(plotter.NewHeatMap(tileGrid{tile: tile, l: l}, moreland.SmoothBlueRed().Palette(255)))
	return p
}

// SampleGridOptions controls PlotSamples.
type SampleGridOptions struct {
	// InputLabel titles the input column.
	InputLabel string
	// OutputLabels title the label-field columns, in sample order.
	OutputLabels []string
	// MaxSamples caps the number of samples drawn (default 4).
	MaxSamples int
	// TileDim is the drawn size of one tile (default 5cm).
	TileDim vg.Length
	// TileL is the physical tile size used for axis scaling (default 1).
	TileL float64
}

func (o *SampleGridOptions) defaults() {
	if o.MaxSamples <= 0 {
		o.MaxSamples = 4
	}
	if o.TileDim <= 0 {
		o.TileDim = 5 * vg.Centimeter
	}
	if o.TileL <= 0 {
		o.TileL = 1
	}
}

// PlotSamples writes a PNG grid comparing truth and prediction tiles for up
// to MaxSamples samples. Each sample occupies two rows: the first holds the
// input tile and the truth tiles of every label field, the second the
// predicted tiles.
func PlotSamples(input []*datasets.Tile, truth, pred [][]*datasets.Tile, opts SampleGridOptions, path string) error {
	opts.defaults()
	if len(truth) != len(pred) || len(truth) != len(input) {
		return fmt.Errorf("got %d input, %d truth, %d prediction samples, want equal counts",
			len(input), len(truth), len(pred))
	}
	if len(truth) == 0 {
		return fmt.Errorf("no samples to plot")
	}

	n := min(len(truth), opts.MaxSamples)
	cols := 1 + len(truth[0])
	plots := make([][]*plot.Plot, 2*n)

	for i := 0; i < n; i++ {
		top := make([]*plot.Plot, cols)
		bottom := make([]*plot.Plot, cols)

		inputTitle := ""
		if i == 0 {
			inputTitle = opts.InputLabel
		}
		top[0] = heatPlot(input[i], opts.TileL, inputTitle)

		if len(truth[i]) != cols-1 || len(pred[i]) != cols-1 {
			return fmt.Errorf("sample %d has %d truth and %d prediction tiles, want %d",
				i, len(truth[i]), len(pred[i]), cols-1)
		}
		for j := range truth[i] {
			title := ""
			if i == 0 && j < len(opts.OutputLabels) {
				title = opts.OutputLabels[j]
			}
			top[j+1] = heatPlot(truth[i][j], opts.TileL, title)
			bottom[j+1] = heatPlot(pred[i][j], opts.TileL, "")
		}
		plots[2*i] = top
		plots[2*i+1] = bottom
	}

	return saveGrid(plots, opts.TileDim, path)
}

// PlotSampleTiles writes a single row of heatmaps, one per tile. Used to
// visualize one dataset sample (input plus labels) without predictions.
func PlotSampleTiles(tiles []*datasets.Tile, labels []string, tileL float64, path string) error {
	if len(tiles) == 0 {
		return fmt.Errorf("no tiles to plot")
	}
	if tileL <= 0 {
		tileL = 1
	}

	row := make([]*plot.Plot, len(tiles))
	for i, tile := range tiles {
		title := ""
		if i < len(labels) {
			title = labels[i]
		}
		row[i] = heatPlot(tile, tileL, title)
	}
	return saveGrid([][]*plot.Plot{row}, 5*vg.Centimeter, path)
}

// PlotHistograms writes per-field pixel histograms of truth versus predicted
// tiles, normalized to unit area.
func PlotHistograms(truth, pred [][]*datasets.Tile, labels []string, nBin int, path string) error {
	if len(truth) != len(pred) || len(truth) == 0 {
		return fmt.Errorf("got %d truth and %d prediction samples, want equal nonzero counts",
			len(truth), len(pred))
	}
	if nBin <= 0 {
		nBin = 100
	}

	cols := len(truth[0])
	row := make([]*plot.Plot, cols)
	for j := 0; j < cols; j++ {
		var truthVals, predVals plotter.Values
		for i := range truth {
			for _, v := range truth[i][j].Data {
				truthVals = append(truthVals, float64(v))
			}
			for _, v := range pred[i][j].Data {
				predVals = append(predVals, float64(v))
			}
		}

		p := plot.New()
		if j < len(labels) {
			p.Title.Text = labels[j]
		}

		ht, err := plotter.NewHist(truthVals, nBin)
		if err != nil {
			return fmt.Errorf("failed to build truth histogram: %w", err)
		}
		ht.Normalize(1)
		ht.FillColor = truthColor
		ht.LineStyle.Width = 0

		hp, err := plotter.NewHist(predVals, nBin)
		if err != nil {
			return fmt.Errorf("failed to build prediction histogram: %w", err)
		}
		hp.Normalize(1)
		hp.FillColor = predColor
		hp.LineStyle.Width = 0

		p.Add(ht, hp)
		p.Legend.Add("Truth", ht)
		p.Legend.Add("Predicted", hp)
		p.Legend.Top = true
		row[j] = p
	}

	return saveGrid([][]*plot.Plot{row}, 8*vg.Centimeter, path)
}

// saveGrid aligns the plot matrix on one canvas and writes it as PNG.
func saveGrid(plots [][]*plot.Plot, cell vg.Length, path string) error {
	rows := len(plots)
	cols := 0
	for _, row := range plots {
		cols = max(cols, len(row))
	}

	img := vgimg.New(vg.Length(cols)*cell, vg.Length(rows)*cell)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows, Cols: cols,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Millimeter, PadBottom: vg.Millimeter,
		PadLeft: vg.Millimeter, PadRight: vg.Millimeter,
	}

	canvases := plot.Align(plots, tiles, dc)
	for r := range plots {
		for c := range plots[r] {
			if plots[r][c] != nil {
				plots[r][c].Draw(canvases[r][c])
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
