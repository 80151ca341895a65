// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoders

import (
	"strings"
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

var testImageDims = [3]int{32, 32, 3}

func TestModels(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const batchSize, latentDim = 2, 8
	images := tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, 32, 32, 3))
	wantKinds := map[string]Kind{"ae": Plain, "vae": Variational, "cae": Plain, "cvae": Variational, "convae": SelfReportingLoss}
	for name, wantKind := range wantKinds {
		t.Run(name, func(t *testing.T) {
			model, found := New(name, testImageDims, latentDim)
			require.True(t, found)
			require.Equal(t, wantKind, model.Kind())
			ctx := context.New().Checked(false)
			exec := context.NewExec(backend, ctx.In(Scope), func(ctx *context.Context, images *Node) []*Node {
				out := model.Forward(ctx, images)
				outputs := []*Node{out.Reconstruction, model.Encode(ctx, images)}
				switch model.Kind() {
				case Variational:
					outputs = append(outputs, out.Mean, out.LogVar)
				case SelfReportingLoss:
					outputs = append(outputs, out.Loss)
				}
				return outputs
			})
			outputs := exec.Call(images)
			assert.Equal(t, []int{batchSize, 32, 32, 3}, outputs[0].Shape().Dimensions)
			assert.Equal(t, []int{batchSize, model.LatentDim()}, outputs[1].Shape().Dimensions)
			switch model.Kind() {
			case Variational:
				require.Len(t, outputs, 4)
				assert.Equal(t, []int{batchSize, latentDim}, outputs[2].Shape().Dimensions)
			case SelfReportingLoss:
				require.Len(t, outputs, 3)
				assert.True(t, outputs[2].Shape().IsScalar())
			}

			// Reconstructions are in [0, 1].
			for _, v := range tensors.CopyFlatData[float32](outputs[0]) {
				require.True(t, v >= 0 && v <= 1)
			}

			// All variables are either in the encoder or in the decoder.
			var numEncoder, numDecoder int
			ctx.EnumerateVariables(func(v *context.Variable) {
				switch {
				case strings.HasPrefix(v.Scope(), AbsEncoderScope(Scope)):
					numEncoder++
				case strings.HasPrefix(v.Scope(), AbsDecoderScope(Scope)):
					numDecoder++
				default:
					if v.Trainable {
						t.Errorf("variable %s/%s is outside the encoder and decoder scopes", v.Scope(), v.Name())
					}
				}
			})
			assert.Greater(t, numEncoder, 0)
			assert.Greater(t, numDecoder, 0)
		})
	}
}

func TestVariationalEncodeIsDeterministicInInference(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model := NewVAE([3]int{4, 4, 1}, 2)
	ctx := context.New().Checked(false)
	exec := context.NewExec(backend, ctx.In(Scope), func(ctx *context.Context, images *Node) []*Node {
		mean, _ := model.posterior(ctx, images)
		return []*Node{model.Encode(ctx, images), mean}
	})
	images := tensors.FromShape(shapes.Make(dtypes.Float32, 3, 4, 4, 1))
	outputs := exec.Call(images)
	assert.Equal(t, outputs[1].Value(), outputs[0].Value())
}

func TestUnknownModel(t *testing.T) {
	model, found := New("transformer", testImageDims, 8)
	assert.False(t, found)
	assert.Nil(t, model)
	assert.Contains(t, Names(), PCAName)
	assert.False(t, IsRegistered(PCAName))
	assert.Panics(t, func() { New("ae", testImageDims, 0) })
}

func TestDenseDims(t *testing.T) {
	d1, d2 := denseDims(3072, 10)
	assert.Equal(t, 513, d1)
	assert.Equal(t, 261, d2)
}

func TestPCA(t *testing.T) {
	// Points on the line y = 2x, plus a tiny amount of noise on the third axis.
	x := mat.NewDense(6, 3, []float64{
		0, 0, 0.01,
		1, 2, -0.01,
		2, 4, 0.01,
		3, 6, -0.01,
		4, 8, 0.01,
		5, 10, -0.01,
	})
	pca := NewPCA(0.9)
	projected, err := pca.FitTransform(x)
	require.NoError(t, err)
	require.Equal(t, 1, pca.NumComponents())
	rows, cols := projected.Dims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, 1, cols)
	assert.Greater(t, pca.ExplainedVarianceRatio()[0], 0.99)

	// Projections are equally spaced along the line.
	step := projected.At(1, 0) - projected.At(0, 0)
	for ii := 1; ii < rows; ii++ {
		assert.InDelta(t, step, projected.At(ii, 0)-projected.At(ii-1, 0), 1e-3)
	}

	_, err = NewPCA(0.9).Transform(x)
	require.Error(t, err)
	_, err = pca.Transform(mat.NewDense(1, 2, nil))
	require.Error(t, err)
}
