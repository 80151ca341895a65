// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package clustering

import (
	"math/rand"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// blobs returns 3 well separated 2D Gaussian blobs of n points each, and the blob of each point.
func blobs(n int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	centers := [][2]float64{{0, 0}, {10, 10}, {-10, 10}}
	x := mat.NewDense(3*n, 2, nil)
	truth := make([]int, 3*n)
	for c, center := range centers {
		for ii := range n {
			row := c*n + ii
			x.Set(row, 0, center[0]+rng.NormFloat64()*0.5)
			x.Set(row, 1, center[1]+rng.NormFloat64()*0.5)
			truth[row] = c
		}
	}
	return x, truth
}

// assertSamePartition checks that the predicted clusters match the truth up to a permutation.
func assertSamePartition(t *testing.T, truth, predicted []int) {
	mapping := make(map[int]int)
	for ii, c := range truth {
		if p, found := mapping[c]; found {
			require.Equalf(t, p, predicted[ii], "example %d", ii)
		} else {
			mapping[c] = predicted[ii]
		}
	}
	seen := make(map[int]bool)
	for _, p := range mapping {
		require.False(t, seen[p], "two true clusters mapped to the same predicted cluster")
		seen[p] = true
	}
}

func TestKMeans(t *testing.T) {
	x, truth := blobs(20, 1)
	km := NewKMeans(3)
	require.NoError(t, km.Fit(x))
	predicted, err := km.Predict(x)
	require.NoError(t, err)
	assertSamePartition(t, truth, predicted)
	assert.Len(t, km.Centroids(), 3)
	assert.Less(t, km.Inertia(), 60.0*2)
	for _, c := range km.Centroids() {
		assert.Len(t, c, 2)
	}

	// Refitting finds the same partition, with the centroids in the same order.
	km2 := NewKMeans(3)
	require.NoError(t, km2.Fit(x))
	assert.Equal(t, km.Centroids(), km2.Centroids())
	predicted2, err := km2.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, predicted, predicted2)

	// Points far from the data are still assigned to the closest centroid.
	far := mat.NewDense(1, 2, []float64{100, 100})
	p, err := km.Predict(far)
	require.NoError(t, err)
	assert.Equal(t, predicted[20], p[0], "blob centered at (10, 10)")

	require.Error(t, NewKMeans(100).Fit(x))
	_, err = NewKMeans(3).Predict(x)
	require.Error(t, err)
	_, err = km.Predict(mat.NewDense(1, 3, nil))
	require.Error(t, err)
}

func TestGMM(t *testing.T) {
	x, truth := blobs(20, 2)
	gmm := NewGMM(3)
	require.NoError(t, gmm.Fit(x))
	predicted, err := gmm.Predict(x)
	require.NoError(t, err)
	assertSamePartition(t, truth, predicted)
	var total float64
	for _, w := range gmm.Weights() {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestLabeling(t *testing.T) {
	clusters := []int{0, 0, 0, 1, 1, 2}
	labels := []int32{3, 3, 5, 7, 7, -1}
	l := NewLabeling(4, 17, clusters, labels, 16)
	assert.Equal(t, []int32{3, 7, 16, 16}, l.ClusterToLabel)
	assert.Equal(t, []int32{7, 3, 16, 16}, l.Labels([]int{1, 0, 3, 9}))
}

func TestDAMIC(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	dims := [3]int{8, 8, 3}
	damic, err := NewDAMIC(3, dims, "ae", 4)
	require.NoError(t, err)
	require.Equal(t, 3, damic.NumClusters())

	ctx := context.New().Checked(false)
	exec := context.NewExec(backend, ctx.In(DAMICScope), func(ctx *context.Context, images *Node) []*Node {
		loss, gateLogits := damic.Loss(ctx, images, 0)
		return []*Node{loss, gateLogits, damic.PerClusterErrors(ctx, images), damic.PredictCluster(ctx, images)}
	})
	images := tensors.FromShape(shapes.Make(dtypes.Float32, 5, 8, 8, 3))
	outputs := exec.Call(images)
	assert.True(t, outputs[0].Shape().IsScalar())
	assert.Equal(t, []int{5, 3}, outputs[1].Shape().Dimensions)
	assert.Equal(t, []int{5, 3}, outputs[2].Shape().Dimensions)
	assert.Equal(t, []int{5}, outputs[3].Shape().Dimensions)
	for _, c := range tensors.CopyFlatData[int32](outputs[3]) {
		assert.True(t, c >= 0 && c < 3)
	}

	// Each expert has its own variables.
	for ii := range 3 {
		found := false
		ctx.EnumerateVariables(func(v *context.Variable) {
			if v.Scope() == "/"+DAMICScope+"/"+ExpertScope(ii)+"/encoder/dense_0" {
				found = true
			}
		})
		assert.Truef(t, found, "expert %d variables not found", ii)
	}

	_, err = NewDAMIC(0, dims, "ae", 4)
	require.Error(t, err)
	_, err = NewDAMIC(2, dims, "pca", 4)
	require.Error(t, err)
}
