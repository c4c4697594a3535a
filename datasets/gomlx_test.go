package datasets

import (
	"errors"
	"io"
	"testing"
)

func TestBatch_MatchesScalarSamples(t *testing.T) {
	ds := newTestDataset(t)

	indices := []int{0, 5, 100}
	inputs, labels, err := ds.Batch(indices)
	if err != nil {
		t.Fatalf("Batch error: %v", err)
	}
	if len(inputs) != len(indices) || len(labels) != len(indices) {
		t.Fatalf("Batch sizes: inputs=%d labels=%d, want %d", len(inputs), len(labels), len(indices))
	}

	for i, idx := range indices {
		sample, _, err := ds.Sample(idx)
		if err != nil {
			t.Fatalf("Sample(%d) error: %v", idx, err)
		}
		for j := range sample[0].Data {
			if inputs[i].Data[j] != sample[0].Data[j] {
				t.Fatalf("batch input %d differs from Sample(%d) at %d", i, idx, j)
			}
		}
		if len(labels[i]) != len(sample)-1 {
			t.Fatalf("batch labels %d: got %d tiles, want %d", i, len(labels[i]), len(sample)-1)
		}
	}
}

func TestTensors_NonNil(t *testing.T) {
	ds := newTestDataset(t)

	in, lab, err := ds.Tensors([]int{0, 1, 2})
	if err != nil {
		t.Fatalf("Tensors error: %v", err)
	}
	if in == nil || lab == nil {
		t.Fatalf("Tensors returned nil tensor(s)")
	}
}

func TestYield_TraversesEpoch(t *testing.T) {
	ds := newTestDataset(t)
	ds.BatchSize = 64

	seen := 0
	for {
		_, inputs, labels, err := ds.Yield()
		if err != nil {
			// Training loops end the epoch on io.EOF; anything else is a
			// failure.
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Yield error at epoch end: %v, want io.EOF", err)
			}
			break
		}
		if len(inputs) != 1 || len(labels) != 1 {
			t.Fatalf("Yield returned %d input and %d label tensors", len(inputs), len(labels))
		}
		seen++
		if seen > 10 {
			t.Fatal("Yield did not terminate the epoch")
		}
	}
	// 192 samples in batches of 64.
	if seen != 3 {
		t.Fatalf("epoch took %d yields, want 3", seen)
	}

	ds.Reset()
	if _, _, _, err := ds.Yield(); err != nil {
		t.Fatalf("Yield after Reset error: %v", err)
	}

	if err := ds.Restart(); err != nil {
		t.Fatalf("Restart error: %v", err)
	}
	if _, _, _, err := ds.Yield(); err != nil {
		t.Fatalf("Yield after Restart error: %v", err)
	}
}

// The dataset must satisfy its own consumer interface, including the gomlx
// train.Dataset surface.
func TestStackDataset_ImplementsDataset(t *testing.T) {
	ds := newTestDataset(t)
	var _ Dataset = ds
}

func TestShuffle_PermutesTraversal(t *testing.T) {
	ds := newTestDataset(t)
	ds.BatchSize = ds.Len()

	ds.Shuffle(42)
	if len(ds.perm) != ds.Len() {
		t.Fatalf("Shuffle built a permutation of %d, want %d", len(ds.perm), ds.Len())
	}
	seen := make([]bool, ds.Len())
	for _, idx := range ds.perm {
		if idx < 0 || idx >= ds.Len() || seen[idx] {
			t.Fatalf("permutation is not a bijection at %d", idx)
		}
		seen[idx] = true
	}
}
