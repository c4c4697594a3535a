package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baryonpaint/bahamas/datasets"
	"github.com/baryonpaint/bahamas/validation"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "stacks",
		Short: "Inspect and visualize BAHAMAS stack datasets",
		Long: `stacks works with directories of memory-mapped BAHAMAS slice stacks.

It opens a dataset described by a manifest, reports its geometry and
per-field statistics, and renders samples and power spectra for visual
inspection.`,
	}

	rootCmd.PersistentFlags().String("manifest", "stacks.yaml", "Manifest describing the stack files")
	rootCmd.PersistentFlags().String("root", ".", "Directory holding the stack files")
	rootCmd.PersistentFlags().String("input-field", "dm", "Input field name")
	rootCmd.PersistentFlags().StringSlice("label-fields", nil, "Label field names (default: all non-input fields)")
	rootCmd.PersistentFlags().Float64Slice("redshifts", nil, "Redshifts to serve (default: all in the manifest)")
	rootCmd.PersistentFlags().Int("n-tile", 4, "Tiles per stack side")
	rootCmd.PersistentFlags().Float64("box-size", 400, "Physical slice size in Mpc/h")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInspectCmd(),
		newSampleCmd(),
		newSpectraCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stacks version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// openDataset builds a StackDataset from the persistent flags of cmd.
func openDataset(cmd *cobra.Command) (*datasets.StackDataset, error) {
	flags := cmd.Flags()
	manifest, _ := flags.GetString("manifest")
	root, _ := flags.GetString("root")
	inputField, _ := flags.GetString("input-field")
	labelFields, _ := flags.GetStringSlice("label-fields")
	redshifts, _ := flags.GetFloat64Slice("redshifts")
	nTile, _ := flags.GetInt("n-tile")
	boxSize, _ := flags.GetFloat64("box-size")
	verbose, _ := flags.GetBool("verbose")

	log := zap.NewNop()
	if verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		log = dev
	}

	manifest, err := datasets.ResolveManifest(manifest)
	if err != nil {
		return nil, err
	}
	records, err := datasets.LoadManifest(manifest)
	if err != nil {
		return nil, err
	}

	opts := []datasets.Option{
		datasets.WithRootPath(root),
		datasets.WithInputField(inputField),
		datasets.WithTileCount(nTile),
		datasets.WithBoxSize(boxSize),
		datasets.WithLogger(log),
	}
	if len(labelFields) > 0 {
		opts = append(opts, datasets.WithLabelFields(labelFields...))
	}
	if len(redshifts) > 0 {
		opts = append(opts, datasets.WithRedshifts(redshifts...))
	}
	return datasets.New(records, opts...)
}

func newInspectCmd() *cobra.Command {
	var (
		checkIndex bool
		empirical  int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report dataset geometry and per-field statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := openDataset(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			fmt.Printf("samples:              %d\n", ds.Len())
			fmt.Printf("samples per redshift: %d\n", ds.SamplesPerRedshift())
			fmt.Printf("grid:                 %d px\n", ds.GridSize())
			fmt.Printf("tiles per side:       %d\n", ds.TileCount())
			fmt.Printf("tile:                 %d px, %.2f Mpc/h\n", ds.TileSize(), ds.TileL())
			fmt.Printf("input field:          %s\n", ds.InputField())
			fmt.Printf("label fields:         %v\n", ds.LabelFields())
			fmt.Printf("redshifts:            %v\n", ds.Redshifts())

			fields := append([]string{ds.InputField()}, ds.LabelFields()...)
			for _, z := range ds.Redshifts() {
				for _, field := range fields {
					stats, err := ds.StackStats(field, z)
					if err != nil {
						return err
					}
					fmt.Printf("  z=%-6g %-12s mean=%-12g var=%g\n", z, field, stats.Mean, stats.Var)
					if empirical > 0 {
						s, err := ds.Summarize(field, z, empirical)
						if err != nil {
							return err
						}
						fmt.Printf("           measured (%d tiles): mean=%-12g var=%-12g range=[%g, %g]\n",
							s.NTiles, s.Mean, s.Var, s.Min, s.Max)
					}
				}
			}

			if checkIndex {
				if err := verifyIndexing(ds); err != nil {
					return err
				}
				fmt.Println("index check:          ok")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkIndex, "check-index", false, "Verify the flat index decodes to unique coordinates")
	cmd.Flags().IntVar(&empirical, "empirical", 0, "Measure pixel statistics over up to this many tiles per field")
	return cmd
}

// verifyIndexing decodes every flat index and confirms the mapping is a
// bijection onto the coordinate space.
func verifyIndexing(ds *datasets.StackDataset) error {
	seen := make(map[datasets.Coord]int, ds.Len())
	for idx := 0; idx < ds.Len(); idx++ {
		c, err := ds.Decode(idx)
		if err != nil {
			return fmt.Errorf("decode of %d failed: %w", idx, err)
		}
		if prev, dup := seen[c]; dup {
			return fmt.Errorf("indices %d and %d decode to the same coordinate %+v", prev, idx, c)
		}
		seen[c] = idx
	}
	return nil
}

func newSampleCmd() *cobra.Command {
	var (
		idx       int
		out       string
		transform bool
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Render one sample as a row of heatmaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := openDataset(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			input, err := ds.InputSample(idx, transform)
			if err != nil {
				return err
			}
			labelTiles, err := ds.LabelSample(idx, transform)
			if err != nil {
				return err
			}

			tiles := append([]*datasets.Tile{input}, labelTiles...)
			labels := append([]string{ds.InputField()}, ds.LabelFields()...)
			if err := validation.PlotSampleTiles(tiles, labels, ds.TileL(), out); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().IntVar(&idx, "idx", 0, "Flat sample index")
	cmd.Flags().StringVar(&out, "out", "sample.png", "Output PNG path")
	cmd.Flags().BoolVar(&transform, "transform", false, "Apply the configured field transforms")
	return cmd
}

func newSpectraCmd() *cobra.Command {
	var (
		idx  int
		out  string
		bins int
	)
	cmd := &cobra.Command{
		Use:   "spectra",
		Short: "Plot auto power spectra of one sample's tiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := openDataset(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			tiles, _, err := ds.Sample(idx)
			if err != nil {
				return err
			}
			labels := append([]string{ds.InputField()}, ds.LabelFields()...)
			if err := validation.PlotSpectra(tiles, labels, ds.TileL(), bins, out); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().IntVar(&idx, "idx", 0, "Flat sample index")
	cmd.Flags().StringVar(&out, "out", "spectra.png", "Output PNG path")
	cmd.Flags().IntVar(&bins, "bins", 20, "Number of k bins")
	return cmd
}
