package datasets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeNPY writes a version 1.0 .npy file with float32 data of the given
// shape, filling element (s, r, c) from fill.
func writeNPY(t *testing.T, path string, stacks, grid int, fill func(s, r, c int) float32) {
	t.Helper()

	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d, %d), }",
		stacks, grid, grid)
	pad := 64 - (10+len(header)+1)%64
	header += strings.Repeat(" ", pad) + "\n"

	buf := make([]byte, 0, 10+len(header)+stacks*grid*grid*4)
	buf = append(buf, "\x93NUMPY\x01\x00"...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	for s := 0; s < stacks; s++ {
		for r := 0; r < grid; r++ {
			for c := 0; c < grid; c++ {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(fill(s, r, c)))
			}
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", path, err)
	}
}

// fixture geometry shared by most tests: two fields at two redshifts,
// 2 "100" stacks and 3 "150" stacks of 8x8 grids.
const (
	testGrid = 8
	testN100 = 2
	testN150 = 3
)

// fieldBase gives each (field, family) pair a distinct value offset so a
// composite pixel uniquely identifies where it came from.
func fieldBase(field string, family int) float32 {
	base := float32(family)
	if field == "pressure" {
		base += 100000
	}
	return base
}

// ramp fills element (s, r, c) with base + s*10000 + r*100 + c.
func ramp(base float32) func(s, r, c int) float32 {
	return func(s, r, c int) float32 {
		return base + float32(s*10000+r*100+c)
	}
}

// newTestRecords writes the fixture stack files into dir and returns their
// records. Statistics are arbitrary but distinct per field and redshift.
func newTestRecords(t *testing.T, dir string) []FileRecord {
	t.Helper()

	var records []FileRecord
	for _, field := range []string{"dm", "pressure"} {
		for _, z := range []float64{0.0, 1.0} {
			fn100 := fmt.Sprintf("%s_z%.1f_100.npy", field, z)
			fn150 := fmt.Sprintf("%s_z%.1f_150.npy", field, z)
			writeNPY(t, filepath.Join(dir, fn100), testN100, testGrid, ramp(fieldBase(field, 100)))
			writeNPY(t, filepath.Join(dir, fn150), testN150, testGrid, ramp(fieldBase(field, 150)))
			records = append(records, FileRecord{
				Field: field, Z: z,
				File100: fn100, File150: fn150,
				Mean100: 1.0 + z, Mean150: 2.0 + z,
				Var100: 0.25, Var150: 0.5,
			})
		}
	}
	return records
}

func newTestDataset(t *testing.T, opts ...Option) *StackDataset {
	t.Helper()
	dir := t.TempDir()
	records := newTestRecords(t, dir)
	ds, err := New(records, append([]Option{WithRootPath(dir), WithTileCount(2)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestNew_Geometry(t *testing.T) {
	ds := newTestDataset(t)

	if got := ds.GridSize(); got != testGrid {
		t.Fatalf("grid size: got %d, want %d", got, testGrid)
	}
	if got := ds.TileSize(); got != 4 {
		t.Fatalf("tile size: got %d, want 4", got)
	}
	// (2 stacks * 2^2 tiles) * (3 stacks * 2^2 tiles) = 8 * 12 = 96 per redshift.
	if got := ds.SamplesPerRedshift(); got != 96 {
		t.Fatalf("samples per redshift: got %d, want 96", got)
	}
	if got := ds.Len(); got != 192 {
		t.Fatalf("len: got %d, want 192", got)
	}
	if got := ds.TileL(); got != 200 {
		t.Fatalf("tile L: got %g, want 200", got)
	}
	if got := ds.InputField(); got != "dm" {
		t.Fatalf("input field: got %q", got)
	}
	if got := ds.LabelFields(); len(got) != 1 || got[0] != "pressure" {
		t.Fatalf("label fields: got %v, want [pressure]", got)
	}
	if got := ds.Redshifts(); len(got) != 2 || got[0] != 0.0 || got[1] != 1.0 {
		t.Fatalf("redshifts: got %v, want [0 1]", got)
	}
}

// Doubling the tile count per axis multiplies the per-redshift sample count
// by 2^4 = 16: each family contributes a factor 4.
func TestNew_TileCountScaling(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)

	ds2, err := New(records, WithRootPath(dir), WithTileCount(2))
	if err != nil {
		t.Fatalf("New(nTile=2) failed: %v", err)
	}
	defer ds2.Close()

	ds4, err := New(records, WithRootPath(dir), WithTileCount(4))
	if err != nil {
		t.Fatalf("New(nTile=4) failed: %v", err)
	}
	defer ds4.Close()

	if got, want := ds4.SamplesPerRedshift(), 16*ds2.SamplesPerRedshift(); got != want {
		t.Fatalf("samples per redshift: got %d, want %d", got, want)
	}
}

func TestNew_MissingFieldNamed(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)

	_, err := New(records, WithRootPath(dir), WithTileCount(2), WithLabelFields("pressure", "xray"))
	if err == nil {
		t.Fatal("expected error for missing field, got nil")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "xray") {
		t.Fatalf("error does not name the missing field: %v", err)
	}
	if strings.Contains(err.Error(), "pressure") {
		t.Fatalf("error names a field that is present: %v", err)
	}
}

func TestNew_MissingRedshiftNamed(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)

	_, err := New(records, WithRootPath(dir), WithTileCount(2), WithRedshifts(0.0, 99.9))
	if err == nil {
		t.Fatal("expected error for missing redshift, got nil")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "99.9") {
		t.Fatalf("error does not name the missing redshift: %v", err)
	}
}

func TestNew_NonIntegralTileSize(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)

	_, err := New(records, WithRootPath(dir), WithTileCount(3))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for 8/3 tiles, got %v", err)
	}
}

func TestNew_InconsistentGridsRejected(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)

	// Rewrite one file with a different grid size.
	writeNPY(t, filepath.Join(dir, records[0].File100), testN100, 16, ramp(0))
	_, err := New(records, WithRootPath(dir), WithTileCount(2))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for mixed grid sizes, got %v", err)
	}
}

func TestNew_InconsistentStackCountsRejected(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)

	writeNPY(t, filepath.Join(dir, records[0].File100), testN100+1, testGrid, ramp(0))
	_, err := New(records, WithRootPath(dir), WithTileCount(2))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for mixed stack counts, got %v", err)
	}
}

func TestNew_DuplicateEntryRejected(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)
	records = append(records, records[0])

	_, err := New(records, WithRootPath(dir), WithTileCount(2))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for duplicate entry, got %v", err)
	}
}

func TestNew_IncompleteTableRejected(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)

	// Drop the pressure entry at z=1.0: pressure would then be missing at one
	// of the retained redshifts.
	var pruned []FileRecord
	for _, rec := range records {
		if rec.Field == "pressure" && rec.Z == 1.0 {
			continue
		}
		pruned = append(pruned, rec)
	}

	_, err := New(pruned, WithRootPath(dir), WithTileCount(2))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for incomplete table, got %v", err)
	}
}

func TestNew_MalformedRecordRejected(t *testing.T) {
	dir := t.TempDir()
	records := newTestRecords(t, dir)
	records[0].File150 = ""

	_, err := New(records, WithRootPath(dir), WithTileCount(2))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for malformed record, got %v", err)
	}
}

func TestDecode_Bijection(t *testing.T) {
	ds := newTestDataset(t)

	nTile := ds.TileCount()
	for idx := 0; idx < ds.Len(); idx++ {
		c, err := ds.Decode(idx)
		if err != nil {
			t.Fatalf("Decode(%d) error: %v", idx, err)
		}
		// Re-encode through the mixed-radix formula.
		local := ((((c.S100*nTile+c.R100)*nTile+c.C100)*testN150+c.S150)*nTile+c.R150)*nTile + c.C150
		if got := c.ZIndex*ds.SamplesPerRedshift() + local; got != idx {
			t.Fatalf("re-encoded %d to %d via %+v", idx, got, c)
		}
	}
}

func TestDecode_FirstIndexIsOrigin(t *testing.T) {
	ds := newTestDataset(t)

	c, err := ds.Decode(0)
	if err != nil {
		t.Fatalf("Decode(0) error: %v", err)
	}
	if c != (Coord{}) {
		t.Fatalf("Decode(0) = %+v, want all zeros", c)
	}

	z, err := ds.SampleRedshift(0)
	if err != nil {
		t.Fatalf("SampleRedshift(0) error: %v", err)
	}
	if z != 0.0 {
		t.Fatalf("index 0 maps to z=%g, want the lowest redshift", z)
	}
}

func TestDecode_StrictTopLevelBounds(t *testing.T) {
	ds := newTestDataset(t)

	for _, idx := range []int{-1, ds.Len(), ds.Len() + 7} {
		if _, err := ds.Decode(idx); !errors.Is(err, ErrIndexRange) {
			t.Fatalf("Decode(%d): expected ErrIndexRange, got %v", idx, err)
		}
		if _, err := ds.SampleRedshift(idx); !errors.Is(err, ErrIndexRange) {
			t.Fatalf("SampleRedshift(%d): expected ErrIndexRange, got %v", idx, err)
		}
		if _, _, err := ds.Sample(idx); !errors.Is(err, ErrIndexRange) {
			t.Fatalf("Sample(%d): expected ErrIndexRange, got %v", idx, err)
		}
	}
}

func TestStack_WrapVersusStrict(t *testing.T) {
	wrap := newTestDataset(t)

	// In wrap mode an out-of-range per-redshift index is cyclic.
	base, _, err := wrap.Stack("dm", 0.0, 5)
	if err != nil {
		t.Fatalf("Stack(5) error: %v", err)
	}
	wrapped, _, err := wrap.Stack("dm", 0.0, 5+wrap.SamplesPerRedshift())
	if err != nil {
		t.Fatalf("wrapped Stack error: %v", err)
	}
	for i := range base.Data {
		if base.Data[i] != wrapped.Data[i] {
			t.Fatalf("wrapped read differs at %d: %v vs %v", i, base.Data[i], wrapped.Data[i])
		}
	}
	neg, _, err := wrap.Stack("dm", 0.0, 5-wrap.SamplesPerRedshift())
	if err != nil {
		t.Fatalf("negative wrapped Stack error: %v", err)
	}
	if neg.Data[0] != base.Data[0] {
		t.Fatalf("negative index did not wrap to the same tile")
	}

	strict := newTestDataset(t, WithIndexMode(IndexStrict))
	if _, _, err := strict.Stack("dm", 0.0, strict.SamplesPerRedshift()); !errors.Is(err, ErrIndexRange) {
		t.Fatalf("strict mode accepted out-of-range index: %v", err)
	}
	if _, _, err := strict.Stack("dm", 0.0, -1); !errors.Is(err, ErrIndexRange) {
		t.Fatalf("strict mode accepted negative index: %v", err)
	}
}
