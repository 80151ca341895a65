// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package clustering implements the clustering of the embeddings (k-means and Gaussian mixtures) and
// the deep clustering mixture-of-autoencoders model (DAMIC).
package clustering

import (
	"math"
	"slices"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Clusterer is a clustering algorithm fit on a matrix of embeddings shaped [numExamples, dim].
type Clusterer interface {
	// Fit the clusters to x.
	Fit(x mat.Matrix) error

	// Predict returns the cluster of each row of x.
	Predict(x mat.Matrix) ([]int, error)

	// NumClusters returns the number of clusters.
	NumClusters() int
}

// KMeans clustering backed by github.com/muesli/kmeans. Fit runs NumInit partitions and keeps the one
// with the lowest inertia.
//
// The library seeds its initial centers uniformly in the unit cube, so the embeddings are mapped
// into [0, 1] with one global affine transform, which preserves the k-means objective. The centroids
// are sorted, so equal partitions yield equal centroids whatever the initialization.
type KMeans struct {
	NumInit int

	// DeltaThreshold stops a partition when less than this fraction of the examples changed clusters
	// in the last iteration. It must be in (0, 1).
	DeltaThreshold float64

	numClusters int
	offset      float64
	scale       float64
	centroids   [][]float64
	inertia     float64
}

var _ Clusterer = (*KMeans)(nil)

// NewKMeans creates a KMeans with numClusters clusters.
func NewKMeans(numClusters int) *KMeans {
	return &KMeans{
		NumInit:        10,
		DeltaThreshold: 0.001,
		numClusters:    numClusters,
	}
}

// NumClusters implements Clusterer.
func (km *KMeans) NumClusters() int { return km.numClusters }

// Centroids returns the cluster centers, after Fit.
func (km *KMeans) Centroids() [][]float64 { return km.centroids }

// Inertia returns the sum of squared distances of the examples to their closest centroid, after Fit.
func (km *KMeans) Inertia() float64 { return km.inertia }

// rows returns the rows of x as slices.
func rows(x mat.Matrix) [][]float64 {
	numRows, _ := x.Dims()
	result := make([][]float64, numRows)
	for ii := range numRows {
		result[ii] = mat.Row(nil, ii, x)
	}
	return result
}

// observations maps the points to the unit cube used by the partitions.
func (km *KMeans) observations(points [][]float64) clusters.Observations {
	obs := make(clusters.Observations, len(points))
	for ii, p := range points {
		c := make(clusters.Coordinates, len(p))
		for d, v := range p {
			c[d] = (v - km.offset) / km.scale
		}
		obs[ii] = c
	}
	return obs
}

// Fit implements Clusterer.
func (km *KMeans) Fit(x mat.Matrix) error {
	points := rows(x)
	if len(points) < km.numClusters || km.numClusters <= 0 {
		return errors.Errorf("k-means with %d clusters requires at least as many examples, got %d", km.numClusters, len(points))
	}
	partitioner, err := kmeans.NewWithOptions(km.DeltaThreshold, nil)
	if err != nil {
		return errors.Wrapf(err, "k-means configuration")
	}

	all := slices.Concat(points...)
	km.offset = floats.Min(all)
	km.scale = floats.Max(all) - km.offset
	if km.scale == 0 {
		km.scale = 1
	}
	dataset := km.observations(points)

	var best clusters.Clusters
	bestInertia := math.Inf(1)
	for run := range max(km.NumInit, 1) {
		cc, err := partitioner.Partition(dataset, km.numClusters)
		if err != nil {
			return errors.Wrapf(err, "k-means partition %d", run)
		}
		// A partition that converged on its first assignment keeps its random centers.
		cc.Recenter()
		var inertia float64
		for _, c := range cc {
			for _, o := range c.Observations {
				inertia += o.Distance(c.Center)
			}
		}
		klog.V(2).Infof("k-means run %d: inertia=%g", run, inertia*km.scale*km.scale)
		if inertia < bestInertia {
			best, bestInertia = cc, inertia
		}
	}

	km.inertia = bestInertia * km.scale * km.scale
	km.centroids = make([][]float64, len(best))
	for ii, c := range best {
		centroid := make([]float64, len(c.Center))
		for d, v := range c.Center {
			centroid[d] = v*km.scale + km.offset
		}
		km.centroids[ii] = centroid
	}
	slices.SortFunc(km.centroids, slices.Compare[[]float64])
	return nil
}

// Predict implements Clusterer: each row goes to the nearest centroid.
func (km *KMeans) Predict(x mat.Matrix) ([]int, error) {
	if km.centroids == nil {
		return nil, errors.New("KMeans.Predict called before Fit")
	}
	centers := make(clusters.Clusters, len(km.centroids))
	for ii, c := range km.centroids {
		centers[ii].Center = km.observations([][]float64{c})[0].Coordinates()
	}
	points := rows(x)
	predictions := make([]int, len(points))
	for ii, obs := range km.observations(points) {
		if len(obs.Coordinates()) != len(km.centroids[0]) {
			return nil, errors.Errorf("KMeans.Predict: embeddings have dimension %d, but the model was fit with dimension %d",
				len(obs.Coordinates()), len(km.centroids[0]))
		}
		predictions[ii] = centers.Nearest(obs)
	}
	return predictions, nil
}
