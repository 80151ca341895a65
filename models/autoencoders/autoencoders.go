// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autoencoders implements the encoder/decoder models used to learn the embeddings of the
// Horoma images: dense and convolutional autoencoders, their variational versions, and a
// convolutional autoencoder that reports its own loss.
//
// Models build their variables under the "encoder" and "decoder" sub-scopes of the context they are
// given, so optimizers can select them separately (see Scope, EncoderScope and DecoderScope).
//
// Images are shaped [batch_size, height, width, channels], with values in [0, 1].
package autoencoders

import (
	"fmt"
	"slices"
	"sort"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"k8s.io/klog/v2"
)

const (
	// Scope under which the autoencoder variables are created by the trainers.
	Scope = "autoencoder"

	// EncoderScope and DecoderScope are the sub-scopes of the model where the encoder and decoder
	// variables live.
	EncoderScope = "encoder"
	DecoderScope = "decoder"
)

// AbsEncoderScope returns the absolute scope of the encoder variables of a model created under scope.
func AbsEncoderScope(scope string) string {
	return context.ScopeSeparator + scope + context.ScopeSeparator + EncoderScope
}

// AbsDecoderScope returns the absolute scope of the decoder variables of a model created under scope.
func AbsDecoderScope(scope string) string {
	return context.ScopeSeparator + scope + context.ScopeSeparator + DecoderScope
}

// Kind of the model, which defines how its loss is computed.
type Kind int

const (
	// Plain autoencoders are trained on the reconstruction error.
	Plain Kind = iota

	// Variational autoencoders output the mean and log-variance of the posterior, and are trained on
	// the reconstruction error plus the KL divergence.
	Variational

	// SelfReportingLoss models compute their own loss in Forward.
	SelfReportingLoss
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Variational:
		return "variational"
	case SelfReportingLoss:
		return "self-reporting-loss"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Output of a model forward pass.
type Output struct {
	// Reconstruction of the input images, same shape.
	Reconstruction *Node

	// Mean and LogVar of the posterior, set for Variational models only. Shaped [batch_size, latent_dim].
	Mean, LogVar *Node

	// Loss is the mean loss over the batch, set for SelfReportingLoss models only.
	Loss *Node
}

// Model is an encoder/decoder model.
type Model interface {
	// Name of the model, as used in the configuration.
	Name() string

	// Kind of the model.
	Kind() Kind

	// LatentDim is the dimension of the embedding returned by Encode.
	LatentDim() int

	// Encode returns the embeddings of the images, shaped [batch_size, LatentDim()].
	// Variational models sample from the posterior when training, and return its mean otherwise.
	Encode(ctx *context.Context, images *Node) *Node

	// Decode returns the images reconstructed from the embeddings.
	Decode(ctx *context.Context, latent *Node) *Node

	// Forward runs the full model.
	Forward(ctx *context.Context, images *Node) Output
}

// Constructor creates a model for images with the given dimensions ([height, width, channels]) and
// latent dimension.
type Constructor func(imageDims [3]int, latentDim int) Model

// PCAName is the name of the non-differentiable fallback encoder, see PCA.
const PCAName = "pca"

var registry = map[string]Constructor{
	"ae":     func(dims [3]int, latentDim int) Model { return NewAE(dims, latentDim) },
	"vae":    func(dims [3]int, latentDim int) Model { return NewVAE(dims, latentDim) },
	"cae":    func(dims [3]int, latentDim int) Model { return NewCAE(dims, latentDim) },
	"cvae":   func(dims [3]int, latentDim int) Model { return NewCVAE(dims, latentDim) },
	"convae": func(dims [3]int, latentDim int) Model { return NewConvAE(dims, latentDim) },
}

// Register a new model constructor. It overrides any previous model with the same name.
func Register(name string, constructor Constructor) {
	registry[name] = constructor
}

// Names returns the names of the registered models, sorted.
func Names() []string {
	names := make([]string, 0, len(registry)+1)
	for name := range registry {
		names = append(names, name)
	}
	names = append(names, PCAName)
	sort.Strings(names)
	return names
}

// New creates the named model.
//
// If name is not a registered model it returns found=false: the caller should then fall back to the
// PCA encoder, which is not a Model since it can't be trained with gradients.
func New(name string, imageDims [3]int, latentDim int) (model Model, found bool) {
	constructor, found := registry[name]
	if !found {
		if name != PCAName {
			klog.Warningf("Unknown encoder model %q (valid models are %v), falling back to %q", name, Names(), PCAName)
		}
		return nil, false
	}
	if latentDim <= 0 {
		exceptions.Panicf("autoencoder %q: latent dimension must be > 0, got %d", name, latentDim)
	}
	return constructor(imageDims, latentDim), true
}

// IsRegistered returns whether name is a registered (differentiable) model.
func IsRegistered(name string) bool {
	_, found := registry[name]
	return found
}

// flatSize returns the number of elements of one image.
func flatSize(imageDims [3]int) int {
	return imageDims[0] * imageDims[1] * imageDims[2]
}

// checkImages panics if images doesn't have the expected shape.
func checkImages(modelName string, imageDims [3]int, images *Node) {
	dims := images.Shape().Dimensions
	if images.Rank() != 4 || !slices.Equal(dims[1:], imageDims[:]) {
		exceptions.Panicf("%s: images must be shaped [batch_size, %d, %d, %d], got %s",
			modelName, imageDims[0], imageDims[1], imageDims[2], images.Shape())
	}
}

// reparameterize samples from N(mean, exp(logVar)) with the reparameterization trick when training,
// and returns the mean otherwise.
func reparameterize(ctx *context.Context, mean, logVar *Node) *Node {
	g := mean.Graph()
	if !ctx.IsTraining(g) {
		return mean
	}
	std := Exp(MulScalar(logVar, 0.5))
	noise := ctx.RandomNormal(g, mean.Shape())
	return Add(Mul(noise, std), mean)
}
