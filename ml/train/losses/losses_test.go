// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"math"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deltaForTests = 1e-3

func TestVariationalLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	// With a zero mean and zero log-variance the KL term vanishes and the loss is the sum of squared errors.
	got := ExecOnce(backend, func(inputs, reconstruction, mean, logVar *Node) *Node {
		return VariationalLoss(inputs, reconstruction, mean, logVar)
	}, [][]float32{{1, 2}, {0, 0}}, [][]float32{{1, 0}, {1, 1}}, [][]float32{{0, 0, 0}, {0, 0, 0}}, [][]float32{{0, 0, 0}, {0, 0, 0}})
	assert.InDelta(t, float32(6), got.Value(), deltaForTests)

	// KL with mean=1, logVar=0: -0.5*(1+0-1-1) = 0.5 per element.
	got = ExecOnce(backend, KLDivergence, [][]float32{{1, 1}}, [][]float32{{0, 0}})
	assert.InDelta(t, float32(1), got.Value(), deltaForTests)

	// The loss is non-negative for a perfect reconstruction.
	got = ExecOnce(backend, func(inputs, mean, logVar *Node) *Node {
		return VariationalLoss(inputs, inputs, mean, logVar)
	}, [][]float32{{0.3, 0.7}}, [][]float32{{0.2, -1}}, [][]float32{{1.5, -0.5}})
	assert.GreaterOrEqual(t, got.Value().(float32), float32(0))

	require.Panics(t, func() {
		_ = ExecOnce(backend, SumSquaredError, []float32{1, 2}, []float32{1, 2, 3})
	})
}

func TestPerExampleMeanSquaredError(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	got := ExecOnce(backend, PerExampleMeanSquaredError,
		[][][]float32{{{0, 0}, {0, 0}}, {{1, 1}, {1, 1}}},
		[][][]float32{{{1, 1}, {1, 1}}, {{1, 1}, {1, 3}}})
	assert.InDeltaSlice(t, []float32{1, 1}, got.Value(), deltaForTests)
}

func TestClampLabels(t *testing.T) {
	assert.Equal(t, []int32{16, 16, 7, 0, 16}, ClampLabels([]int{-5, 99, 7, 0, 16}))
	assert.Equal(t, int32(16), ClampLabel(int64(17)))
	assert.Equal(t, int32(16), ClampLabel(uint8(200)))

	backend := graphtest.BuildTestBackend()
	got := ExecOnce(backend, ClampLabelsGraph, []int32{-5, 99, 7})
	assert.Equal(t, []int32{16, 16, 7}, got.Value())
}

func TestSparseCrossEntropySum(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	// Uniform logits: each example costs log(17).
	logits := make([][]float32, 2)
	for ii := range logits {
		logits[ii] = make([]float32, NumClasses)
	}
	got := ExecOnce(backend, SparseCrossEntropySum, [][]int32{{3}, {-1}}, logits)
	assert.InDelta(t, float32(2*math.Log(NumClasses)), got.Value(), deltaForTests)

	// Out-of-range labels are collapsed into the unknown class.
	logits[0][UnknownClass] = 100
	got = ExecOnce(backend, SparseCrossEntropySum, [][]int32{{42}}, logits[:1])
	assert.InDelta(t, float32(0), got.Value(), deltaForTests)

	predictions := ExecOnce(backend, PredictedLabels, logits)
	assert.Equal(t, []int32{UnknownClass, 0}, predictions.Value())
}

func TestMixtureNegLogLikelihood(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	// A single cluster reduces to half the sum of the errors.
	got := ExecOnce(backend, func(logits, mse *Node) *Node {
		return MixtureNegLogLikelihood(logits, mse, 0)
	}, [][]float32{{3}, {-7}}, [][]float32{{0.4}, {1.2}})
	assert.InDelta(t, float32(0.8), got.Value(), deltaForTests)

	// Two equally likely clusters with the same error: log(0.5+0.5)=0, so again 0.5*mse.
	got = ExecOnce(backend, func(logits, mse *Node) *Node {
		return MixtureNegLogLikelihood(logits, mse, 0)
	}, [][]float32{{0, 0}}, [][]float32{{2, 2}})
	assert.InDelta(t, float32(1), got.Value(), deltaForTests)

	// Very large logits remain finite.
	got = ExecOnce(backend, func(logits, mse *Node) *Node {
		return MixtureNegLogLikelihood(logits, mse, 0)
	}, [][]float32{{1e4, -1e4}}, [][]float32{{0.1, 0.2}})
	value := float64(got.Value().(float32))
	require.False(t, math.IsNaN(value) || math.IsInf(value, 0))
	assert.InDelta(t, 0.05, value, deltaForTests)

	// Huge errors are floored by epsilon: -log(1e-12) = 27.63 per example.
	got = ExecOnce(backend, func(logits, mse *Node) *Node {
		return MixtureNegLogLikelihood(logits, mse, DefaultMixtureEpsilon)
	}, [][]float32{{0, 0}, {1, 2}}, [][]float32{{1e6, 1e6}, {1e5, 1e7}})
	assert.InDelta(t, float32(2*27.631021), got.Value(), 1e-2)

	probs := ExecOnce(backend, GateProbabilities, [][]float32{{0, 0, 0, 0}})
	assert.InDeltaSlice(t, []float32{0.25, 0.25, 0.25, 0.25}, probs.Value().([][]float32)[0], deltaForTests)
}

func TestMixtureGradient(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	// With equal errors the gating receives no gradient; with different errors it moves towards
	// the cluster with the smaller error.
	outputs := ExecOnceN(backend, func(logits, mse *Node) []*Node {
		loss := MixtureNegLogLikelihood(logits, mse, 0)
		return Gradient(loss, logits)
	}, [][]float32{{0, 0}}, [][]float32{{0.1, 4}})
	grad := outputs[0].Value().([][]float32)
	assert.Less(t, grad[0][0], float32(0))
	assert.Greater(t, grad[0][1], float32(0))
}

func TestStackPerClusterErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	got := ExecOnce(backend, func(a, b *Node) *Node {
		return StackPerClusterErrors(a, b)
	}, []float32{1, 2}, []float32{3, 4})
	assert.Equal(t, [][]float32{{1, 3}, {2, 4}}, got.Value())
}
