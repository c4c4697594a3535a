package datasets

import (
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// This file adapts StackDataset to the gomlx train.Dataset surface. The core
// access model stays scalar: batching is repeated scalar Sample calls, so no
// composed tile is ever cached.

// Batch retrieves the samples at the given flat indices. Inputs and labels
// are transformed the same way Sample transforms them.
func (d *StackDataset) Batch(indices []int) (inputs []*Tile, labels [][]*Tile, err error) {
	inputs = make([]*Tile, len(indices))
	labels = make([][]*Tile, len(indices))
	for i, idx := range indices {
		sample, _, err := d.Sample(idx)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = sample[0]
		labels[i] = sample[1:]
	}
	return inputs, labels, nil
}

// Tensors retrieves a batch and converts it into gomlx tensors: inputs with
// shape (batch, tile, tile) and labels with shape (batch, fields, tile, tile).
func (d *StackDataset) Tensors(indices []int) (inputs, labels *tensors.Tensor, err error) {
	in, lab, err := d.Batch(indices)
	if err != nil {
		return nil, nil, err
	}

	inData := make([][][]float32, len(in))
	for i, tile := range in {
		inData[i] = tile.Rows()
	}
	labData := make([][][][]float32, len(lab))
	for i, tiles := range lab {
		labData[i] = make([][][]float32, len(tiles))
		for j, tile := range tiles {
			labData[i][j] = tile.Rows()
		}
	}
	return tensors.FromAnyValue(inData), tensors.FromAnyValue(labData), nil
}

// Name returns the dataset name for gomlx training loops.
func (d *StackDataset) Name() string { return "BAHAMASStackDataset" }

// Shuffle reorders the epoch traversal used by Yield.
func (d *StackDataset) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	d.perm = rng.Perm(d.Len())
	d.cursor = 0
}

// Restart resets the epoch traversal for Yield.
func (d *StackDataset) Restart() error {
	d.cursor = 0
	return nil
}

// Reset implements the train.Dataset epoch restart.
func (d *StackDataset) Reset() {
	_ = d.Restart()
}

// Yield produces the next batch of BatchSize samples as gomlx tensors,
// traversing the dataset in order (or in the order set by Shuffle). Once the
// epoch is exhausted it returns io.EOF, which training loops treat as a
// normal end of epoch.
func (d *StackDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	n := d.BatchSize
	if n <= 0 {
		n = 32
	}
	if d.cursor >= d.Len() {
		return nil, nil, nil, io.EOF
	}
	if d.cursor+n > d.Len() {
		n = d.Len() - d.cursor
	}

	indices := make([]int, n)
	for i := range indices {
		if d.perm != nil {
			indices[i] = d.perm[d.cursor+i]
		} else {
			indices[i] = d.cursor + i
		}
	}
	d.cursor += n

	in, lab, err := d.Tensors(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{lab}, nil
}
