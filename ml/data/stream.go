// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"math/rand"
	"sync/atomic"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Batch is one mini-batch of images, and optionally their labels.
type Batch struct {
	// Images shaped [Size, height, width, channels], dtype Float32.
	Images *tensors.Tensor

	// Labels shaped [Size, 1], dtype Int32. Nil for unlabeled datasets.
	Labels *tensors.Tensor

	// LabelValues is a host copy of the labels, used to accumulate metrics.
	LabelValues []int32

	// Size is the number of examples in the batch: the last batch of a pass may be smaller.
	Size int
}

// Finalize frees the on-device memory of the batch tensors immediately.
func (b *Batch) Finalize() {
	b.Images.FinalizeAll()
	if b.Labels != nil {
		b.Labels.FinalizeAll()
	}
}

// makeBatch copies the examples at indices into a new Batch.
func makeBatch(ds Dataset, indices []int) *Batch {
	dims := ds.ImageDims()
	exampleSize := ExampleSize(ds)
	n := len(indices)
	flat := make([]float32, n*exampleSize)
	var labels []int32
	if ds.HasLabels() {
		labels = make([]int32, n)
	}
	for ii, idx := range indices {
		label := ds.Example(idx, flat[ii*exampleSize:(ii+1)*exampleSize])
		if labels != nil {
			labels[ii] = label
		}
	}
	batch := &Batch{
		Images:      tensors.FromFlatDataAndDimensions(flat, n, dims[0], dims[1], dims[2]),
		LabelValues: labels,
		Size:        n,
	}
	if labels != nil {
		batch.Labels = tensors.FromFlatDataAndDimensions(labels, n, 1)
	}
	return batch
}

func (b *Batch) asYield() (inputs, labels []*tensors.Tensor) {
	inputs = []*tensors.Tensor{b.Images}
	if b.Labels != nil {
		labels = []*tensors.Tensor{b.Labels}
	}
	return
}

// BatchStream turns a finite Dataset into an infinite sequence of shuffled mini-batches.
//
// Each full traversal of the dataset uses a new permutation. After the last batch of a pass (which
// may be smaller than batchSize) it transparently starts a new pass: Next never reports end of data.
//
// BatchStream also implements train.Dataset, so it can be fed to GoMLX tooling; in that role Yield
// never returns io.EOF either.
//
// Batches can be assembled ahead of time in a background goroutine, see Prefetch.
//
// It is not safe for concurrent use.
type BatchStream struct {
	name      string
	ds        Dataset
	batchSize int
	rng       *rand.Rand

	perm     []int
	position int
	pass     atomic.Int64

	prefetch *prefetcher
}

var _ train.Dataset = (*BatchStream)(nil)

// NewBatchStream creates a stream over ds. The rng drives the shuffling, and is owned by the stream
// from there on.
func NewBatchStream(ds Dataset, batchSize int, rng *rand.Rand) (*BatchStream, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d for dataset %q", batchSize, ds.Name())
	}
	if ds.Len() == 0 {
		return nil, errors.Errorf("dataset %q is empty, can't stream batches from it", ds.Name())
	}
	s := &BatchStream{
		name:      ds.Name(),
		ds:        ds,
		batchSize: batchSize,
		rng:       rng,
	}
	s.newPass()
	s.pass.Store(0)
	return s, nil
}

func (s *BatchStream) newPass() {
	s.perm = s.rng.Perm(s.ds.Len())
	s.position = 0
	s.pass.Add(1)
}

// Next returns the next batch, starting a new shuffled pass if the current one is exhausted.
func (s *BatchStream) Next() *Batch {
	if s.prefetch == nil {
		return s.assemble()
	}
	batch, ok := <-s.prefetch.batches
	if !ok {
		// The prefetcher stops at the end of each pass: the next permutation is drawn here.
		bufferSize := cap(s.prefetch.batches)
		s.stopPrefetch()
		s.newPass()
		s.Prefetch(bufferSize)
		batch = <-s.prefetch.batches
	}
	return batch
}

// assemble builds the next batch from the current pass.
func (s *BatchStream) assemble() *Batch {
	if s.position >= len(s.perm) {
		s.newPass()
	}
	end := min(s.position+s.batchSize, len(s.perm))
	batch := makeBatch(s.ds, s.perm[s.position:end])
	s.position = end
	return batch
}

// Take calls fn with exactly n batches, stopping early only if fn returns an error.
// The stream keeps its position, so a following Take continues where this one stopped.
func (s *BatchStream) Take(n int, fn func(batchIdx int, batch *Batch) error) error {
	for batchIdx := range n {
		if err := fn(batchIdx, s.Next()); err != nil {
			return err
		}
	}
	return nil
}

// Pass returns the number of completed passes over the dataset.
func (s *BatchStream) Pass() int { return int(s.pass.Load()) }

// BatchSize used by the stream.
func (s *BatchStream) BatchSize() int { return s.batchSize }

// PassBatches returns the number of batches in one full pass over the dataset.
func (s *BatchStream) PassBatches() int {
	return (s.ds.Len() + s.batchSize - 1) / s.batchSize
}

// Name implements train.Dataset.
func (s *BatchStream) Name() string { return s.name }

// Yield implements train.Dataset. It never returns io.EOF.
func (s *BatchStream) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	inputs, labels = s.Next().asYield()
	return s, inputs, labels, nil
}

// Reset implements train.Dataset: it discards the rest of the current pass and starts a new shuffled one,
// so the following batches are whole until the end of that pass.
// Prefetched batches are discarded, and prefetching restarts on the new pass. The permutation of the
// new pass is the same with or without prefetching.
func (s *BatchStream) Reset() {
	bufferSize := 0
	if s.prefetch != nil {
		bufferSize = cap(s.prefetch.batches)
		s.stopPrefetch()
	}
	s.newPass()
	if bufferSize > 0 {
		s.Prefetch(bufferSize)
	}
}

// Sequential yields one ordered pass over a Dataset, in batches. It is used for evaluation.
type Sequential struct {
	ds        Dataset
	batchSize int
	position  int
}

var _ train.Dataset = (*Sequential)(nil)

// NewSequential creates a single ordered pass over ds.
func NewSequential(ds Dataset, batchSize int) (*Sequential, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d for dataset %q", batchSize, ds.Name())
	}
	return &Sequential{ds: ds, batchSize: batchSize}, nil
}

// Next returns the next batch, or io.EOF at the end of the pass.
func (s *Sequential) Next() (*Batch, error) {
	n := s.ds.Len()
	if s.position >= n {
		return nil, io.EOF
	}
	end := min(s.position+s.batchSize, n)
	indices := make([]int, 0, end-s.position)
	for ii := s.position; ii < end; ii++ {
		indices = append(indices, ii)
	}
	s.position = end
	return makeBatch(s.ds, indices), nil
}

// Dataset returns the underlying dataset.
func (s *Sequential) Dataset() Dataset { return s.ds }

// Name implements train.Dataset.
func (s *Sequential) Name() string { return s.ds.Name() }

// Yield implements train.Dataset.
func (s *Sequential) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	var batch *Batch
	batch, err = s.Next()
	if err != nil {
		return
	}
	inputs, labels = batch.asYield()
	return s, inputs, labels, nil
}

// Reset implements train.Dataset, restarting the pass.
func (s *Sequential) Reset() { s.position = 0 }

// ForEach runs fn on every batch of one full pass, from the start. The pass is reset at the end.
func (s *Sequential) ForEach(fn func(batch *Batch) error) error {
	s.Reset()
	defer s.Reset()
	for {
		batch, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err = fn(batch); err != nil {
			return err
		}
	}
}
