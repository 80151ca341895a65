// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoders

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
)

// denseDims returns the hidden layer dimensions of the dense models: d1=(input+latent)/6 and
// d2=(d1+latent)/2.
func denseDims(inputDim, latentDim int) (d1, d2 int) {
	d1 = (inputDim + latentDim) / 6
	d2 = (d1 + latentDim) / 2
	return
}

// denseModel holds what is common to the dense autoencoders.
type denseModel struct {
	name      string
	imageDims [3]int
	latentDim int
	d1, d2    int
}

func newDenseModel(name string, imageDims [3]int, latentDim int) denseModel {
	m := denseModel{name: name, imageDims: imageDims, latentDim: latentDim}
	m.d1, m.d2 = denseDims(flatSize(imageDims), latentDim)
	return m
}

func (m *denseModel) Name() string   { return m.name }
func (m *denseModel) LatentDim() int { return m.latentDim }

// hidden runs the shared part of the encoder: flatten, d1 and d2 with ReLU.
func (m *denseModel) hidden(ctx *context.Context, images *Node) *Node {
	checkImages(m.name, m.imageDims, images)
	batchSize := images.Shape().Dimensions[0]
	x := Reshape(images, batchSize, -1)
	x = activations.Relu(layers.Dense(ctx.In("dense_0"), x, true, m.d1))
	x = activations.Relu(layers.Dense(ctx.In("dense_1"), x, true, m.d2))
	return x
}

// Decode implements Model: latent -> d2 -> d1 -> image, with ReLU activations and a final sigmoid.
func (m *denseModel) Decode(ctx *context.Context, latent *Node) *Node {
	ctx = ctx.In(DecoderScope)
	batchSize := latent.Shape().Dimensions[0]
	x := activations.Relu(layers.Dense(ctx.In("dense_0"), latent, true, m.d2))
	x = activations.Relu(layers.Dense(ctx.In("dense_1"), x, true, m.d1))
	x = Sigmoid(layers.Dense(ctx.In("dense_2"), x, true, flatSize(m.imageDims)))
	return Reshape(x, batchSize, m.imageDims[0], m.imageDims[1], m.imageDims[2])
}

// AE is a dense autoencoder: the images are flattened, and encoded by a stack of dense layers into
// the latent space, and decoded back by a mirror stack.
type AE struct {
	denseModel
}

var _ Model = (*AE)(nil)

// NewAE creates a dense autoencoder.
func NewAE(imageDims [3]int, latentDim int) *AE {
	return &AE{newDenseModel("ae", imageDims, latentDim)}
}

// Kind implements Model.
func (m *AE) Kind() Kind { return Plain }

// Encode implements Model.
func (m *AE) Encode(ctx *context.Context, images *Node) *Node {
	ctx = ctx.In(EncoderScope)
	return layers.Dense(ctx.In("dense_2"), m.hidden(ctx, images), true, m.latentDim)
}

// Forward implements Model.
func (m *AE) Forward(ctx *context.Context, images *Node) Output {
	return Output{Reconstruction: m.Decode(ctx, m.Encode(ctx, images))}
}

// VAE is the variational version of AE: the encoder outputs the mean and log-variance of a diagonal
// Gaussian posterior.
type VAE struct {
	denseModel
}

var _ Model = (*VAE)(nil)

// NewVAE creates a dense variational autoencoder.
func NewVAE(imageDims [3]int, latentDim int) *VAE {
	return &VAE{newDenseModel("vae", imageDims, latentDim)}
}

// Kind implements Model.
func (m *VAE) Kind() Kind { return Variational }

// posterior returns the mean and log-variance of the posterior.
func (m *VAE) posterior(ctx *context.Context, images *Node) (mean, logVar *Node) {
	ctx = ctx.In(EncoderScope)
	x := m.hidden(ctx, images)
	mean = layers.Dense(ctx.In("mean"), x, true, m.latentDim)
	logVar = layers.Dense(ctx.In("log_var"), x, true, m.latentDim)
	return
}

// Encode implements Model.
func (m *VAE) Encode(ctx *context.Context, images *Node) *Node {
	mean, logVar := m.posterior(ctx, images)
	return reparameterize(ctx, mean, logVar)
}

// Forward implements Model.
func (m *VAE) Forward(ctx *context.Context, images *Node) Output {
	mean, logVar := m.posterior(ctx, images)
	return Output{
		Reconstruction: m.Decode(ctx, reparameterize(ctx, mean, logVar)),
		Mean:           mean,
		LogVar:         logVar,
	}
}
