// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoders

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
)

// convLayer describes one convolution of the convolutional encoder (or, mirrored, of the decoder).
type convLayer struct {
	channels, kernelSize, stride int
}

// convEncoderLayers halve the image three times: a 32x32 image ends up as 4x4x16.
var convEncoderLayers = []convLayer{
	{64, 3, 1}, {64, 4, 2},
	{32, 3, 1}, {32, 4, 2},
	{16, 3, 1}, {16, 4, 2},
}

// convDecoderLayers double the spatial dimensions back: layers with stride 2 upsample first.
var convDecoderLayers = []convLayer{
	{32, 3, 2}, {32, 3, 1},
	{64, 3, 2}, {64, 3, 1},
}

// convModel holds what is common to the convolutional autoencoders.
type convModel struct {
	name      string
	imageDims [3]int
	latentDim int
}

func newConvModel(name string, imageDims [3]int, latentDim int) convModel {
	if imageDims[0]%8 != 0 || imageDims[1]%8 != 0 {
		exceptions.Panicf("%s: image height and width must be divisible by 8, got %v", name, imageDims)
	}
	return convModel{name: name, imageDims: imageDims, latentDim: latentDim}
}

func (m *convModel) Name() string   { return m.name }
func (m *convModel) LatentDim() int { return m.latentDim }

// bottleneckDims are the dimensions of the convolutional feature map at the bottleneck.
func (m *convModel) bottleneckDims() (height, width, channels int) {
	last := convEncoderLayers[len(convEncoderLayers)-1]
	return m.imageDims[0] / 8, m.imageDims[1] / 8, last.channels
}

// features runs the convolutions of the encoder and returns the flattened feature map.
func (m *convModel) features(ctx *context.Context, images *Node) *Node {
	checkImages(m.name, m.imageDims, images)
	batchSize := images.Shape().Dimensions[0]
	x := images
	for ii, layer := range convEncoderLayers {
		layerCtx := ctx.Inf("%03d_conv", ii)
		x = layers.Convolution(layerCtx, x).Filters(layer.channels).KernelSize(layer.kernelSize).
			Strides(layer.stride).PadSame().Done()
		x = batchnorm.New(layerCtx.In("batchnorm"), x, -1).Done()
		x = activations.Relu(x)
	}
	height, width, channels := m.bottleneckDims()
	x.AssertDims(batchSize, height, width, channels)
	return Reshape(x, batchSize, -1)
}

// Decode implements Model: a dense layer expands the embedding to the bottleneck feature map, which is
// upsampled back to the image size with nearest-neighbor upsampling followed by convolutions.
func (m *convModel) Decode(ctx *context.Context, latent *Node) *Node {
	ctx = ctx.In(DecoderScope)
	batchSize := latent.Shape().Dimensions[0]
	height, width, channels := m.bottleneckDims()
	x := layers.Dense(ctx.In("embedding"), latent, true, height*width*channels)
	x = activations.Relu(x)
	x = Reshape(x, batchSize, height, width, channels)
	for ii, layer := range convDecoderLayers {
		x = m.decoderLayer(ctx.Inf("%03d_conv", ii), x, layer)
		x = activations.Relu(x)
	}
	x = m.decoderLayer(ctx.Inf("%03d_conv", len(convDecoderLayers)), x, convLayer{m.imageDims[2], 3, 2})
	x = Sigmoid(x)
	x.AssertDims(batchSize, m.imageDims[0], m.imageDims[1], m.imageDims[2])
	return x
}

// decoderLayer upsamples x by the layer stride and applies a convolution plus batch normalization.
func (m *convModel) decoderLayer(ctx *context.Context, x *Node, layer convLayer) *Node {
	if layer.stride > 1 {
		dims := x.Shape().Dimensions
		x = Interpolate(x, NoInterpolation, dims[1]*layer.stride, dims[2]*layer.stride, NoInterpolation).
			Nearest().Done()
	}
	x = layers.Convolution(ctx, x).Filters(layer.channels).KernelSize(layer.kernelSize).PadSame().Done()
	return batchnorm.New(ctx.In("batchnorm"), x, -1).Done()
}

// CAE is a convolutional autoencoder: strided convolutions with batch normalization, followed by a
// dense embedding layer.
type CAE struct {
	convModel
}

var _ Model = (*CAE)(nil)

// NewCAE creates a convolutional autoencoder.
func NewCAE(imageDims [3]int, latentDim int) *CAE {
	return &CAE{newConvModel("cae", imageDims, latentDim)}
}

// Kind implements Model.
func (m *CAE) Kind() Kind { return Plain }

// Encode implements Model.
func (m *CAE) Encode(ctx *context.Context, images *Node) *Node {
	ctx = ctx.In(EncoderScope)
	return layers.Dense(ctx.In("embedding"), m.features(ctx, images), true, m.latentDim)
}

// Forward implements Model.
func (m *CAE) Forward(ctx *context.Context, images *Node) Output {
	return Output{Reconstruction: m.Decode(ctx, m.Encode(ctx, images))}
}

// CVAE is the variational version of CAE.
type CVAE struct {
	convModel
}

var _ Model = (*CVAE)(nil)

// NewCVAE creates a convolutional variational autoencoder.
func NewCVAE(imageDims [3]int, latentDim int) *CVAE {
	return &CVAE{newConvModel("cvae", imageDims, latentDim)}
}

// Kind implements Model.
func (m *CVAE) Kind() Kind { return Variational }

func (m *CVAE) posterior(ctx *context.Context, images *Node) (mean, logVar *Node) {
	ctx = ctx.In(EncoderScope)
	x := m.features(ctx, images)
	mean = layers.Dense(ctx.In("mean"), x, true, m.latentDim)
	logVar = layers.Dense(ctx.In("log_var"), x, true, m.latentDim)
	return
}

// Encode implements Model.
func (m *CVAE) Encode(ctx *context.Context, images *Node) *Node {
	mean, logVar := m.posterior(ctx, images)
	return reparameterize(ctx, mean, logVar)
}

// Forward implements Model.
func (m *CVAE) Forward(ctx *context.Context, images *Node) Output {
	mean, logVar := m.posterior(ctx, images)
	return Output{
		Reconstruction: m.Decode(ctx, reparameterize(ctx, mean, logVar)),
		Mean:           mean,
		LogVar:         logVar,
	}
}

// ConvFeatures runs the convolutional stack of the CAE encoder on images, and returns the flattened
// feature map shaped [batch_size, (height/8)*(width/8)*16]. Variables are created directly under ctx.
func ConvFeatures(ctx *context.Context, images *Node) *Node {
	if images.Rank() != 4 {
		exceptions.Panicf("ConvFeatures: images must be shaped [batch_size, height, width, channels], got %s", images.Shape())
	}
	dims := images.Shape().Dimensions
	m := newConvModel("conv_features", [3]int{dims[1], dims[2], dims[3]}, 0)
	return m.features(ctx, images)
}
