// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/horoma/ml/train/losses"
	"github.com/gomlx/horoma/models/autoencoders"
	"github.com/gomlx/horoma/models/classifiers"
	"github.com/gomlx/horoma/models/clustering"
)

// StepOutput is what a Strategy builds for one batch.
type StepOutput struct {
	// Loss is the scalar differentiated by the optimizer.
	Loss *Node

	// BatchLoss is the scalar accumulated over the epoch: the loss summed over the examples of the
	// batch, so that dividing the epoch total by the number of examples gives the per-example loss.
	BatchLoss *Node

	// Predictions are the predicted labels (or clusters), Int32 shaped [batch_size]. Nil if the
	// strategy doesn't predict anything.
	Predictions *Node
}

// Strategy builds the loss of one objective, given a batch of images and, if NeedsLabels, their labels.
type Strategy interface {
	// Name of the objective, used as metric prefix.
	Name() string

	// NeedsLabels reports whether Build uses the labels.
	NeedsLabels() bool

	// Build the step output. ctx is the root context of the trainer, labels is nil if NeedsLabels is false.
	Build(ctx *context.Context, images, labels *Node) StepOutput
}

// ReconstructionStrategy returns the strategy that trains the autoencoder model created under
// autoencoders.Scope, with the loss selected by the model kind:
//
//   - autoencoders.Plain: sum of squared errors over the batch.
//   - autoencoders.Variational: sum of squared errors plus the KL divergence of the posterior.
//   - autoencoders.SelfReportingLoss: the mean loss reported by the model, accumulated as
//     loss*batch_size.
func ReconstructionStrategy(model autoencoders.Model) Strategy {
	switch model.Kind() {
	case autoencoders.Plain, autoencoders.Variational, autoencoders.SelfReportingLoss:
	default:
		exceptions.Panicf("ReconstructionStrategy: model %q has unknown kind %s", model.Name(), model.Kind())
	}
	return &reconstructionStrategy{model: model}
}

type reconstructionStrategy struct {
	model autoencoders.Model
}

func (s *reconstructionStrategy) Name() string      { return "reconstruction" }
func (s *reconstructionStrategy) NeedsLabels() bool { return false }

func (s *reconstructionStrategy) Build(ctx *context.Context, images, _ *Node) StepOutput {
	output := s.model.Forward(ctx.In(autoencoders.Scope), images)
	switch s.model.Kind() {
	case autoencoders.Variational:
		loss := losses.VariationalLoss(images, output.Reconstruction, output.Mean, output.LogVar)
		return StepOutput{Loss: loss, BatchLoss: loss}
	case autoencoders.SelfReportingLoss:
		if output.Loss == nil {
			exceptions.Panicf("model %q is %s but reported no loss", s.model.Name(), s.model.Kind())
		}
		batchSize := images.Shape().Dimensions[0]
		return StepOutput{Loss: output.Loss, BatchLoss: MulScalar(output.Loss, float64(batchSize))}
	default:
		loss := losses.SumSquaredError(images, output.Reconstruction)
		return StepOutput{Loss: loss, BatchLoss: loss}
	}
}

// ClassificationStrategy returns the strategy that classifies the embeddings produced by the encoder
// of the autoencoder (under autoencoders.Scope) with the classifier (under classifiers.Scope).
// The loss is the cross-entropy summed over the batch, labels out of range are clamped to
// losses.UnknownClass.
func ClassificationStrategy(encoder autoencoders.Model, classifier classifiers.Model) Strategy {
	return &classificationStrategy{encoder: encoder, classifier: classifier}
}

type classificationStrategy struct {
	encoder    autoencoders.Model
	classifier classifiers.Model
}

func (s *classificationStrategy) Name() string      { return "classification" }
func (s *classificationStrategy) NeedsLabels() bool { return true }

// Logits returns the classifier logits for images.
func (s *classificationStrategy) Logits(ctx *context.Context, images *Node) *Node {
	embeddings := s.encoder.Encode(ctx.In(autoencoders.Scope), images)
	return s.classifier.Logits(ctx.In(classifiers.Scope), embeddings)
}

func (s *classificationStrategy) Build(ctx *context.Context, images, labels *Node) StepOutput {
	logits := s.Logits(ctx, images)
	loss := losses.SparseCrossEntropySum(labels, logits)
	return StepOutput{Loss: loss, BatchLoss: loss, Predictions: losses.PredictedLabels(logits)}
}

// MixtureStrategy returns the strategy that trains a DAMIC model created under clustering.DAMICScope.
// Predictions are the cluster assignments.
func MixtureStrategy(damic *clustering.DAMIC, epsilon float64) Strategy {
	return &mixtureStrategy{damic: damic, epsilon: epsilon}
}

type mixtureStrategy struct {
	damic   *clustering.DAMIC
	epsilon float64
}

func (s *mixtureStrategy) Name() string      { return "mixture" }
func (s *mixtureStrategy) NeedsLabels() bool { return false }

func (s *mixtureStrategy) Build(ctx *context.Context, images, _ *Node) StepOutput {
	loss, gateLogits := s.damic.Loss(ctx.In(clustering.DAMICScope), images, s.epsilon)
	return StepOutput{Loss: loss, BatchLoss: loss, Predictions: ArgMax(gateLogits, -1)}
}
