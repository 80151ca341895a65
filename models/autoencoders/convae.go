// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoders

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/horoma/ml/train/losses"
)

const (
	// ConvAECodeSize is the size of the ConvAE embedding. ConvAE ignores the configured latent dimension.
	ConvAECodeSize = 100

	convAEDropoutRate = 0.1
)

// ConvAE is a small convolutional autoencoder with unpadded convolutions, max-pooling and SELU
// activations, and a dense decoder. It computes its own loss: the mean squared error of the
// reconstruction.
type ConvAE struct {
	name      string
	imageDims [3]int
}

var _ Model = (*ConvAE)(nil)

// NewConvAE creates a ConvAE. The latent dimension is ignored, see ConvAECodeSize.
func NewConvAE(imageDims [3]int, _ int) *ConvAE {
	return &ConvAE{name: "convae", imageDims: imageDims}
}

func (m *ConvAE) Name() string   { return m.name }
func (m *ConvAE) LatentDim() int { return ConvAECodeSize }

// Kind implements Model.
func (m *ConvAE) Kind() Kind { return SelfReportingLoss }

// Encode implements Model.
func (m *ConvAE) Encode(ctx *context.Context, images *Node) *Node {
	checkImages(m.name, m.imageDims, images)
	ctx = ctx.In(EncoderScope)
	g := images.Graph()
	batchSize := images.Shape().Dimensions[0]
	dropoutRate := Scalar(g, images.DType(), convAEDropoutRate)

	x := images
	for ii, channels := range []int{10, 20} {
		x = layers.Convolution(ctx.Inf("%03d_conv", ii), x).Filters(channels).KernelSize(5).NoPadding().Done()
		x = activations.Selu(MaxPool(x).Window(2).Done())
		x = layers.Dropout(ctx.Inf("%03d_dropout", ii), x, dropoutRate)
	}
	x = Reshape(x, batchSize, -1)
	x = activations.Selu(layers.Dense(ctx.In("dense_0"), x, true, 200))
	return layers.Dense(ctx.In("dense_1"), x, true, ConvAECodeSize)
}

// Decode implements Model.
func (m *ConvAE) Decode(ctx *context.Context, latent *Node) *Node {
	ctx = ctx.In(DecoderScope)
	batchSize := latent.Shape().Dimensions[0]
	x := activations.Selu(layers.Dense(ctx.In("dense_0"), latent, true, 500))
	x = Sigmoid(layers.Dense(ctx.In("dense_1"), x, true, flatSize(m.imageDims)))
	return Reshape(x, batchSize, m.imageDims[0], m.imageDims[1], m.imageDims[2])
}

// Forward implements Model. Output.Loss is the mean squared error of the reconstruction.
func (m *ConvAE) Forward(ctx *context.Context, images *Node) Output {
	reconstruction := m.Decode(ctx, m.Encode(ctx, images))
	return Output{
		Reconstruction: reconstruction,
		Loss:           losses.MeanSquaredError(images, reconstruction),
	}
}
