package datasets

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/baryonpaint/bahamas/npy"
)

// fieldZ is the composite key of the stack table: every retained
// (field, redshift) pair has exactly one entry.
type fieldZ struct {
	field string
	z     float64
}

// stackEntry holds the two memory-mapped family arrays for one (field, z)
// pair plus their precomputed aggregate statistics.
type stackEntry struct {
	a100, a150       *npy.Array
	mean100, mean150 float64
	var100, var150   float64
}

// StackDataset presents the virtual sample space formed by combining the
// "100" and "150" stack families of the BAHAMAS archives through tiling and
// additive composition. Nothing is materialized: each flat sample index is
// decoded into a pair of (stack, tile-row, tile-col) coordinates, the two
// tiles are read from the memory-mapped arrays and summed on demand.
//
// The stack table is immutable after construction, so the lookup API
// (Sample, Decode, Stack, the transform accessors) is a pure function of
// (field, redshift, index) and safe for concurrent readers. The epoch
// traversal state behind Shuffle, Yield and Reset is not synchronized;
// drive it from a single goroutine.
type StackDataset struct {
	// BatchSize controls how many samples Yield produces per call.
	BatchSize int

	inputField  string
	labelFields []string
	redshifts   []float64
	data        map[fieldZ]*stackEntry

	nStack100, nStack150 int
	nGrid, nTile         int
	tileSize             int
	boxSize, tileL       float64
	nSamplePerZ          int

	transform        TransformFunc
	inverseTransform TransformFunc
	nFeaturePerField int
	indexMode        IndexMode

	cursor int
	perm   []int

	log *zap.Logger
}

// New builds a dataset from the given file records. All referenced stack
// files are opened as memory-mapped, read-only arrays up front; construction
// fails entirely on the first invalid record, missing field or redshift, or
// geometry inconsistency.
func New(records []FileRecord, opts ...Option) (*StackDataset, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.nTile < 1 {
		return nil, fmt.Errorf("tile count %d: %w", cfg.nTile, ErrConfiguration)
	}
	if cfg.nFeaturePerField < 1 {
		return nil, fmt.Errorf("feature channels %d: %w", cfg.nFeaturePerField, ErrConfiguration)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no file records: %w", ErrConfiguration)
	}

	// Scan the records for the available fields and redshifts.
	availFields := map[string]bool{}
	availZ := map[float64]bool{}
	for _, rec := range records {
		if err := rec.validate(); err != nil {
			return nil, err
		}
		availFields[rec.Field] = true
		availZ[rec.Z] = true
	}

	fields, err := selectFields(availFields, cfg.inputField, cfg.labelFields)
	if err != nil {
		return nil, err
	}
	redshifts, err := selectRedshifts(availZ, cfg.redshifts)
	if err != nil {
		return nil, err
	}

	labelFields := make([]string, 0, len(fields)-1)
	for f := range fields {
		if f != cfg.inputField {
			labelFields = append(labelFields, f)
		}
	}
	sort.Strings(labelFields)

	d := &StackDataset{
		BatchSize:        32,
		inputField:       cfg.inputField,
		labelFields:      labelFields,
		redshifts:        redshifts,
		data:             make(map[fieldZ]*stackEntry),
		nTile:            cfg.nTile,
		boxSize:          cfg.boxSize,
		transform:        cfg.transform,
		inverseTransform: cfg.inverseTransform,
		nFeaturePerField: cfg.nFeaturePerField,
		indexMode:        cfg.indexMode,
		log:              cfg.log,
	}

	if err := d.load(records, fields, cfg.rootPath); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.deriveGeometry(); err != nil {
		d.Close()
		return nil, err
	}

	d.log.Info("stack dataset ready",
		zap.String("input_field", d.inputField),
		zap.Strings("label_fields", d.labelFields),
		zap.Float64s("redshifts", d.redshifts),
		zap.Int("n_grid", d.nGrid),
		zap.Int("n_tile", d.nTile),
		zap.Int("tile_size", d.tileSize),
		zap.Int("samples_per_redshift", d.nSamplePerZ),
		zap.Int("len", d.Len()),
	)
	return d, nil
}

// selectFields intersects the available fields with the requested ones. With
// no label allow-list every available field except the input becomes a label.
func selectFields(avail map[string]bool, inputField string, labelFields []string) (map[string]bool, error) {
	if len(labelFields) == 0 {
		if !avail[inputField] {
			return nil, fmt.Errorf("requested fields are not in the file list: field(s) %s missing: %w",
				inputField, ErrConfiguration)
		}
		return avail, nil
	}

	required := append([]string{inputField}, labelFields...)
	var missing []string
	for _, f := range required {
		if !avail[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("requested fields are not in the file list: field(s) %s missing: %w",
			strings.Join(missing, ", "), ErrConfiguration)
	}

	keep := map[string]bool{}
	for _, f := range required {
		keep[f] = true
	}
	return keep, nil
}

// selectRedshifts intersects the available redshifts with the requested ones
// and sorts them ascending; the resulting order defines the redshift index.
func selectRedshifts(avail map[float64]bool, requested []float64) ([]float64, error) {
	keep := avail
	if len(requested) > 0 {
		var missing []float64
		for _, z := range requested {
			if !avail[z] {
				missing = append(missing, z)
			}
		}
		if len(missing) > 0 {
			sort.Float64s(missing)
			parts := make([]string, len(missing))
			for i, z := range missing {
				parts[i] = fmt.Sprintf("%g", z)
			}
			return nil, fmt.Errorf("requested redshifts are not in the file list: redshift(s) %s missing: %w",
				strings.Join(parts, ", "), ErrConfiguration)
		}
		keep = map[float64]bool{}
		for _, z := range requested {
			keep[z] = true
		}
	}

	out := make([]float64, 0, len(keep))
	for z := range keep {
		out = append(out, z)
	}
	sort.Float64s(out)
	return out, nil
}

// load opens the stack files of every retained (field, redshift) pair and
// validates that all of them agree on grid size and per-family stack counts.
func (d *StackDataset) load(records []FileRecord, fields map[string]bool, rootPath string) error {
	zKept := map[float64]bool{}
	for _, z := range d.redshifts {
		zKept[z] = true
	}

	for _, rec := range records {
		if !fields[rec.Field] || !zKept[rec.Z] {
			continue
		}
		key := fieldZ{rec.Field, rec.Z}
		if _, dup := d.data[key]; dup {
			return fmt.Errorf("duplicate entry for field %q z=%g: %w", rec.Field, rec.Z, ErrConfiguration)
		}

		fn100, fn150 := rec.File100, rec.File150
		if rootPath != "" {
			fn100 = filepath.Join(rootPath, fn100)
			fn150 = filepath.Join(rootPath, fn150)
		}

		a100, err := npy.Open(fn100)
		if err != nil {
			return fmt.Errorf("field %q z=%g family 100: %w", rec.Field, rec.Z, err)
		}
		a150, err := npy.Open(fn150)
		if err != nil {
			a100.Close()
			return fmt.Errorf("field %q z=%g family 150: %w", rec.Field, rec.Z, err)
		}
		d.data[key] = &stackEntry{
			a100: a100, a150: a150,
			mean100: rec.Mean100, mean150: rec.Mean150,
			var100: rec.Var100, var150: rec.Var150,
		}

		if err := d.checkGrids(rec, a100, a150); err != nil {
			return err
		}
		d.log.Debug("loaded stack pair",
			zap.String("field", rec.Field),
			zap.Float64("z", rec.Z),
			zap.String("file_100", fn100),
			zap.String("file_150", fn150),
			zap.Int("n_stack_100", a100.Stacks()),
			zap.Int("n_stack_150", a150.Stacks()),
		)
	}

	// Every retained field must exist at every retained redshift.
	for f := range fields {
		for _, z := range d.redshifts {
			if _, ok := d.data[fieldZ{f, z}]; !ok {
				return fmt.Errorf("no entry for field %q z=%g: %w", f, z, ErrConfiguration)
			}
		}
	}
	return nil
}

// checkGrids enforces one grid resolution and one pair of stack counts across
// the whole dataset.
func (d *StackDataset) checkGrids(rec FileRecord, a100, a150 *npy.Array) error {
	for _, a := range []*npy.Array{a100, a150} {
		if a.Rows() != a.Cols() {
			return fmt.Errorf("field %q z=%g stack grid is %dx%d, want square: %w",
				rec.Field, rec.Z, a.Rows(), a.Cols(), ErrConfiguration)
		}
	}
	if a150.Rows() != a100.Rows() {
		return fmt.Errorf("field %q z=%g families disagree on grid size (%d vs %d): %w",
			rec.Field, rec.Z, a100.Rows(), a150.Rows(), ErrConfiguration)
	}

	if d.nGrid == 0 {
		d.nGrid = a100.Rows()
		d.nStack100 = a100.Stacks()
		d.nStack150 = a150.Stacks()
		return nil
	}
	if a100.Rows() != d.nGrid {
		return fmt.Errorf("field %q z=%g grid size %d differs from %d: %w",
			rec.Field, rec.Z, a100.Rows(), d.nGrid, ErrConfiguration)
	}
	if a100.Stacks() != d.nStack100 || a150.Stacks() != d.nStack150 {
		return fmt.Errorf("field %q z=%g stack counts (%d, %d) differ from (%d, %d): %w",
			rec.Field, rec.Z, a100.Stacks(), a150.Stacks(), d.nStack100, d.nStack150, ErrConfiguration)
	}
	return nil
}

func (d *StackDataset) deriveGeometry() error {
	if d.nGrid%d.nTile != 0 {
		return fmt.Errorf("grid size %d is not divisible by tile count %d: %w",
			d.nGrid, d.nTile, ErrConfiguration)
	}
	d.tileSize = d.nGrid / d.nTile
	d.tileL = d.boxSize / float64(d.nTile)
	d.nSamplePerZ = (d.nStack100 * d.nTile * d.nTile) * (d.nStack150 * d.nTile * d.nTile)
	return nil
}

// Close releases every memory mapping. The dataset must not be used after.
func (d *StackDataset) Close() error {
	var first error
	for _, e := range d.data {
		for _, a := range []*npy.Array{e.a100, e.a150} {
			if a == nil {
				continue
			}
			if err := a.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Geometry accessors.

// Len returns the total number of composite samples across all redshifts.
func (d *StackDataset) Len() int { return d.nSamplePerZ * len(d.redshifts) }

// SamplesPerRedshift returns the number of composite samples per redshift:
// (n_stack_100 * n_tile^2) * (n_stack_150 * n_tile^2).
func (d *StackDataset) SamplesPerRedshift() int { return d.nSamplePerZ }

// GridSize returns the side length of a raw stack grid.
func (d *StackDataset) GridSize() int { return d.nGrid }

// TileCount returns the number of tiles per stack axis.
func (d *StackDataset) TileCount() int { return d.nTile }

// TileSize returns the side length of a tile in pixels.
func (d *StackDataset) TileSize() int { return d.tileSize }

// BoxSize returns the physical size of a full stack.
func (d *StackDataset) BoxSize() float64 { return d.boxSize }

// TileL returns the physical size of a tile.
func (d *StackDataset) TileL() float64 { return d.tileL }

// FeatureChannels returns the configured feature channels per field.
func (d *StackDataset) FeatureChannels() int { return d.nFeaturePerField }

// InputField returns the name of the input field.
func (d *StackDataset) InputField() string { return d.inputField }

// LabelFields returns the label field names in sample order.
func (d *StackDataset) LabelFields() []string {
	out := make([]string, len(d.labelFields))
	copy(out, d.labelFields)
	return out
}

// Redshifts returns the retained redshifts in ascending order.
func (d *StackDataset) Redshifts() []float64 {
	out := make([]float64, len(d.redshifts))
	copy(out, d.redshifts)
	return out
}

// Index decoding.

// Coord is the fully decoded location of a composite sample: the redshift
// index plus the stack slice and tile position within each family.
type Coord struct {
	ZIndex           int
	S100, R100, C100 int
	S150, R150, C150 int
}

// SampleRedshift maps a flat sample index to its redshift. Indices outside
// [0, Len()) are rejected with ErrIndexRange.
func (d *StackDataset) SampleRedshift(idx int) (float64, error) {
	if idx < 0 || idx >= d.Len() {
		return 0, fmt.Errorf("index %d outside [0, %d): %w", idx, d.Len(), ErrIndexRange)
	}
	return d.redshifts[idx/d.nSamplePerZ], nil
}

// Decode maps a flat sample index to its 6-dimensional tile-pair coordinate.
// The local part is unraveled in row-major order against the shape
// (n_stack_100, n_tile, n_tile, n_stack_150, n_tile, n_tile).
func (d *StackDataset) Decode(idx int) (Coord, error) {
	if idx < 0 || idx >= d.Len() {
		return Coord{}, fmt.Errorf("index %d outside [0, %d): %w", idx, d.Len(), ErrIndexRange)
	}
	c := d.unravel(idx % d.nSamplePerZ)
	c.ZIndex = idx / d.nSamplePerZ
	return c, nil
}

func (d *StackDataset) unravel(local int) Coord {
	dims := [6]int{d.nStack100, d.nTile, d.nTile, d.nStack150, d.nTile, d.nTile}
	var out [6]int
	for i := 5; i >= 0; i-- {
		out[i] = local % dims[i]
		local /= dims[i]
	}
	return Coord{
		S100: out[0], R100: out[1], C100: out[2],
		S150: out[3], R150: out[4], C150: out[5],
	}
}

// Sample retrieval.

// StackStats returns the aggregate statistics of a (field, redshift) pair:
// the sums of the two families' precomputed means and variances. These are
// dataset-level scalars, identical for every tile of the pair.
func (d *StackDataset) StackStats(field string, z float64) (Stats, error) {
	e, ok := d.data[fieldZ{field, z}]
	if !ok {
		return Stats{}, fmt.Errorf("no stacks for field %q z=%g: %w", field, z, ErrConfiguration)
	}
	return Stats{Mean: e.mean100 + e.mean150, Var: e.var100 + e.var150}, nil
}

// Stack composes one sample of the given field and redshift from the
// per-redshift flat index: the "100" tile and the "150" tile selected by the
// decoded coordinate are summed elementwise. In IndexWrap mode the index is
// reduced modulo SamplesPerRedshift, so any integer is valid; in IndexStrict
// mode out-of-range indices are rejected.
func (d *StackDataset) Stack(field string, z float64, flatIdx int) (*Tile, Stats, error) {
	e, ok := d.data[fieldZ{field, z}]
	if !ok {
		return nil, Stats{}, fmt.Errorf("no stacks for field %q z=%g: %w", field, z, ErrConfiguration)
	}

	switch d.indexMode {
	case IndexWrap:
		flatIdx = ((flatIdx % d.nSamplePerZ) + d.nSamplePerZ) % d.nSamplePerZ
	case IndexStrict:
		if flatIdx < 0 || flatIdx >= d.nSamplePerZ {
			return nil, Stats{}, fmt.Errorf("per-redshift index %d outside [0, %d): %w",
				flatIdx, d.nSamplePerZ, ErrIndexRange)
		}
	}

	c := d.unravel(flatIdx)
	tile := NewTile(d.tileSize)
	if err := e.a100.ReadTile(c.S100, c.R100*d.tileSize, c.C100*d.tileSize, d.tileSize, tile.Data); err != nil {
		return nil, Stats{}, fmt.Errorf("field %q z=%g family 100: %w", field, z, err)
	}
	other := make([]float32, d.tileSize*d.tileSize)
	if err := e.a150.ReadTile(c.S150, c.R150*d.tileSize, c.C150*d.tileSize, d.tileSize, other); err != nil {
		return nil, Stats{}, fmt.Errorf("field %q z=%g family 150: %w", field, z, err)
	}
	for i, v := range other {
		tile.Data[i] += v
	}

	return tile, Stats{Mean: e.mean100 + e.mean150, Var: e.var100 + e.var150}, nil
}

// InputSample returns the composite sample of the input field at idx. With
// applyTransform the forward transform is applied using the input field's
// aggregate statistics.
func (d *StackDataset) InputSample(idx int, applyTransform bool) (*Tile, error) {
	z, err := d.SampleRedshift(idx)
	if err != nil {
		return nil, err
	}
	tile, stats, err := d.Stack(d.inputField, z, idx%d.nSamplePerZ)
	if err != nil {
		return nil, err
	}
	if applyTransform {
		tile = d.transform(tile, d.inputField, z, stats)
	}
	return tile, nil
}

// LabelSample returns the composite samples of every label field at idx, in
// the order established at construction.
func (d *StackDataset) LabelSample(idx int, applyTransform bool) ([]*Tile, error) {
	z, err := d.SampleRedshift(idx)
	if err != nil {
		return nil, err
	}

	labels := make([]*Tile, 0, len(d.labelFields))
	for _, field := range d.labelFields {
		tile, stats, err := d.Stack(field, z, idx%d.nSamplePerZ)
		if err != nil {
			return nil, err
		}
		if applyTransform {
			tile = d.transform(tile, field, z, stats)
		}
		labels = append(labels, tile)
	}
	return labels, nil
}

// Sample returns the ordered sequence [input, label_1, ..., label_k] for the
// flat index, with transforms applied, together with the index itself so the
// caller can later recover the exact transform pair via Transforms or
// InverseTransforms.
func (d *StackDataset) Sample(idx int) ([]*Tile, int, error) {
	input, err := d.InputSample(idx, true)
	if err != nil {
		return nil, 0, err
	}
	labels, err := d.LabelSample(idx, true)
	if err != nil {
		return nil, 0, err
	}
	return append([]*Tile{input}, labels...), idx, nil
}

// Transform access.

func (d *StackDataset) resolveRef(ref Ref) (float64, error) {
	switch {
	case ref.idx != nil:
		return d.SampleRedshift(*ref.idx)
	case ref.z != nil:
		z := *ref.z
		if _, ok := d.data[fieldZ{d.inputField, z}]; !ok {
			return 0, fmt.Errorf("redshift %g is not in the dataset: %w", z, ErrConfiguration)
		}
		return z, nil
	default:
		return 0, fmt.Errorf("either an index or a redshift must be supplied: %w", ErrConfiguration)
	}
}

func (d *StackDataset) bindTransforms(fn TransformFunc, ref Ref) ([]BoundTransform, error) {
	z, err := d.resolveRef(ref)
	if err != nil {
		return nil, err
	}

	fields := append([]string{d.inputField}, d.labelFields...)
	out := make([]BoundTransform, 0, len(fields))
	for _, field := range fields {
		stats, err := d.StackStats(field, z)
		if err != nil {
			return nil, err
		}
		out = append(out, BoundTransform{Field: field, Z: z, Stats: stats, fn: fn})
	}
	return out, nil
}

// Transforms returns the forward transforms bound to the (field, redshift)
// statistics of the referenced sample, input field first.
func (d *StackDataset) Transforms(ref Ref) ([]BoundTransform, error) {
	return d.bindTransforms(d.transform, ref)
}

// InverseTransforms returns the inverse transforms bound to the referenced
// sample, input field first.
func (d *StackDataset) InverseTransforms(ref Ref) ([]BoundTransform, error) {
	return d.bindTransforms(d.inverseTransform, ref)
}
