// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifiers implements the classifiers trained on top of the autoencoder embeddings.
package classifiers

import (
	"sort"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/horoma/ml/train/losses"
)

const (
	// Scope under which the classifier variables are created by the trainers.
	Scope = "classifier"

	// ParamHiddenDims is the context parameter with the hidden layer dimensions of the MLP.
	ParamHiddenDims = "classifier_hidden_dims"

	// ParamDropoutRate is the context parameter with the dropout rate applied after each hidden layer.
	ParamDropoutRate = "classifier_dropout"

	// MLPName is the configuration name of the MLP classifier.
	MLPName = "MLPClassifier"
)

// Model maps embeddings to class logits.
type Model interface {
	// Name of the classifier, as used in the configuration.
	Name() string

	// Logits returns the logits shaped [batch_size, NumClasses()] for embeddings shaped
	// [batch_size, latent_dim].
	Logits(ctx *context.Context, embeddings *Node) *Node

	// NumClasses is the number of output classes.
	NumClasses() int
}

// MLP is a multi-layer perceptron classifier: hidden dense layers with ReLU and dropout, followed by a
// linear output layer.
type MLP struct {
	numClasses int
}

var _ Model = (*MLP)(nil)

// NewMLP creates an MLP with the 17 horoma classes as output.
func NewMLP() *MLP {
	return &MLP{numClasses: losses.NumClasses}
}

func (m *MLP) Name() string    { return MLPName }
func (m *MLP) NumClasses() int { return m.numClasses }

// Logits implements Model. The hidden layers are configured with the ParamHiddenDims and
// ParamDropoutRate context parameters.
func (m *MLP) Logits(ctx *context.Context, embeddings *Node) *Node {
	if embeddings.Rank() != 2 {
		exceptions.Panicf("MLP classifier: embeddings must be shaped [batch_size, latent_dim], got %s", embeddings.Shape())
	}
	g := embeddings.Graph()
	hiddenDims := context.GetParamOr(ctx, ParamHiddenDims, []int{128, 64})
	dropoutRate := context.GetParamOr(ctx, ParamDropoutRate, 0.2)
	x := embeddings
	for ii, dim := range hiddenDims {
		x = layers.Dense(ctx.Inf("%03d_dense", ii), x, true, dim)
		x = activations.Relu(x)
		if dropoutRate > 0 {
			x = layers.Dropout(ctx.Inf("%03d_dropout", ii), x, Scalar(g, x.DType(), dropoutRate))
		}
	}
	return layers.Dense(ctx.In("logits"), x, true, m.numClasses)
}

var registry = map[string]func() Model{
	MLPName: func() Model { return NewMLP() },
}

// New creates the named classifier. It panics for unknown names.
func New(name string) Model {
	constructor, found := registry[name]
	if !found {
		names := make([]string, 0, len(registry))
		for n := range registry {
			names = append(names, n)
		}
		sort.Strings(names)
		exceptions.Panicf("unknown classifier %q, valid classifiers are %q", name, names)
	}
	return constructor()
}
