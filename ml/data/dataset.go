// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package data holds the image datasets used by the trainers and the batch streams that feed them.
//
// A Dataset is a finite, indexable collection of images (optionally labeled). Trainers never read a
// Dataset directly: they consume it through a BatchStream (infinite, reshuffled on every pass) or a
// Sequential (one ordered pass, used for validation).
package data

import (
	"math/rand"
	"os"
	"os/user"
	"path"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// NoLabel is returned by Dataset.Example for unlabeled datasets.
const NoLabel int32 = -1

// Dataset is a finite collection of images, all with the same dimensions.
type Dataset interface {
	// Name used in logs and progress bars.
	Name() string

	// Len returns the number of examples.
	Len() int

	// ImageDims returns the height, width and number of channels of each image.
	ImageDims() [3]int

	// HasLabels reports whether Example returns meaningful labels.
	HasLabels() bool

	// Example copies the i-th image (flattened, height-major, channels last) into dst, which must
	// have length height*width*channels, and returns its label (NoLabel if the dataset is unlabeled).
	Example(i int, dst []float32) (label int32)
}

// ExampleSize returns the number of float32 values of one image of ds.
func ExampleSize(ds Dataset) int {
	dims := ds.ImageDims()
	return dims[0] * dims[1] * dims[2]
}

// InMemory is a Dataset fully loaded in memory.
type InMemory struct {
	name string
	dims [3]int

	// Images holds all the images flattened, one after the other, with values in [0, 1].
	Images []float32

	// Labels has one entry per image, or is nil for an unlabeled dataset.
	Labels []int32
}

var _ Dataset = (*InMemory)(nil)

// NewInMemory creates an InMemory dataset. labels may be nil.
// It panics if the sizes don't match.
func NewInMemory(name string, dims [3]int, images []float32, labels []int32) *InMemory {
	exampleSize := dims[0] * dims[1] * dims[2]
	if exampleSize <= 0 || len(images)%exampleSize != 0 {
		exceptions.Panicf("data.NewInMemory(%q): %d values is not a multiple of the image size %v", name, len(images), dims)
	}
	if labels != nil && len(labels) != len(images)/exampleSize {
		exceptions.Panicf("data.NewInMemory(%q): %d labels for %d images", name, len(labels), len(images)/exampleSize)
	}
	return &InMemory{name: name, dims: dims, Images: images, Labels: labels}
}

// Name implements Dataset.
func (ds *InMemory) Name() string { return ds.name }

// Len implements Dataset.
func (ds *InMemory) Len() int {
	return len(ds.Images) / ExampleSize(ds)
}

// ImageDims implements Dataset.
func (ds *InMemory) ImageDims() [3]int { return ds.dims }

// HasLabels implements Dataset.
func (ds *InMemory) HasLabels() bool { return ds.Labels != nil }

// Example implements Dataset.
func (ds *InMemory) Example(i int, dst []float32) int32 {
	size := len(dst)
	copy(dst, ds.Images[i*size:(i+1)*size])
	if ds.Labels == nil {
		return NoLabel
	}
	return ds.Labels[i]
}

// subset is a view over a selection of indices of another Dataset.
type subset struct {
	name    string
	base    Dataset
	indices []int
}

// Subset returns a view of ds restricted to the given indices.
func Subset(name string, ds Dataset, indices []int) Dataset {
	return &subset{name: name, base: ds, indices: indices}
}

func (s *subset) Name() string      { return s.name }
func (s *subset) Len() int          { return len(s.indices) }
func (s *subset) ImageDims() [3]int { return s.base.ImageDims() }
func (s *subset) HasLabels() bool   { return s.base.HasLabels() }
func (s *subset) Example(i int, dst []float32) int32 {
	return s.base.Example(s.indices[i], dst)
}

// Split shuffles the indices of ds with rng and returns consecutive, disjoint subsets, each taking
// the given fraction of ds. Fractions are truncated to whole examples; if they add up to more than 1,
// the last subsets are cut short.
func Split(ds Dataset, rng *rand.Rand, names []string, fractions ...float64) []Dataset {
	if len(names) != len(fractions) {
		exceptions.Panicf("data.Split: %d names for %d fractions", len(names), len(fractions))
	}
	perm := rng.Perm(ds.Len())
	parts := make([]Dataset, len(fractions))
	start := 0
	for ii, fraction := range fractions {
		n := int(fraction * float64(ds.Len()))
		end := min(start+n, len(perm))
		parts[ii] = Subset(names[ii], ds, perm[start:end])
		start = end
	}
	return parts
}

// Labels returns all labels of ds, in order. It returns nil for unlabeled datasets.
func Labels(ds Dataset) []int32 {
	if !ds.HasLabels() {
		return nil
	}
	labels := make([]int32, ds.Len())
	buf := make([]float32, ExampleSize(ds))
	for ii := range labels {
		labels[ii] = ds.Example(ii, buf)
	}
	return labels
}

// FileExists returns true if file or directory exists.
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	panic(err)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
func ReplaceTildeInDir(dir string) string {
	if len(dir) == 0 || dir[0] != '~' {
		return dir
	}
	usr, _ := user.Current()
	homeDir := usr.HomeDir
	return path.Join(homeDir, dir[1:])
}

// unlabeled hides the labels of another Dataset.
type unlabeled struct {
	Dataset
}

// Unlabeled returns a view of ds without labels.
func Unlabeled(ds Dataset) Dataset {
	return unlabeled{ds}
}

func (u unlabeled) HasLabels() bool { return false }

func (u unlabeled) Example(i int, dst []float32) int32 {
	_ = u.Dataset.Example(i, dst)
	return NoLabel
}
