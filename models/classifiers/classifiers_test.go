// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifiers

import (
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMLP(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	ctx.SetParam(ParamHiddenDims, []int{16})
	model := New(MLPName)
	require.Equal(t, 17, model.NumClasses())
	exec := context.NewExec(backend, ctx.In(Scope), func(ctx *context.Context, embeddings *Node) *Node {
		return model.Logits(ctx, embeddings)
	})
	logits := exec.Call([][]float32{{1, 2, 3}, {0, 0, 0}, {-1, 5, 2}})[0]
	assert.Equal(t, []int{3, 17}, logits.Shape().Dimensions)

	var numVars int
	ctx.EnumerateVariables(func(v *context.Variable) { numVars++ })
	assert.Equal(t, 4, numVars) // One hidden layer and the output layer, with biases.

	assert.Panics(t, func() { New("SVM") })
}
