// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package clustering

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/horoma/ml/train/losses"
	"github.com/gomlx/horoma/models/autoencoders"
	"github.com/pkg/errors"
)

const (
	// DAMICScope is the scope under which the trainers create the DAMIC variables.
	DAMICScope = "damic"

	// GatingScope is the sub-scope of the gating network.
	GatingScope = "gating"

	// DAMICDefaultExpert and DAMICDefaultExpertLatentDim configure the default experts.
	DAMICDefaultExpert          = "cvae"
	DAMICDefaultExpertLatentDim = 10
)

// DAMIC is the deep clustering mixture-of-autoencoders model: each cluster is represented by an
// autoencoder (its expert), and a convolutional gating network outputs p(cluster|x).
//
// Training maximizes the mixture likelihood Σ_c p(c|x)·exp(-mse_c(x)/2), see
// losses.MixtureNegLogLikelihood, which updates the gating network and all experts together. The hard
// cluster assignment is argmax_c p(c|x).
type DAMIC struct {
	imageDims [3]int
	experts   []autoencoders.Model
}

// NewDAMIC creates a DAMIC model with numClusters experts of the named autoencoder model.
func NewDAMIC(numClusters int, imageDims [3]int, expertName string, expertLatentDim int) (*DAMIC, error) {
	if numClusters <= 0 {
		return nil, errors.Errorf("DAMIC requires at least one cluster, got %d", numClusters)
	}
	d := &DAMIC{imageDims: imageDims, experts: make([]autoencoders.Model, numClusters)}
	for ii := range d.experts {
		expert, found := autoencoders.New(expertName, imageDims, expertLatentDim)
		if !found {
			return nil, errors.Errorf("DAMIC experts must be a trainable autoencoder, got %q", expertName)
		}
		d.experts[ii] = expert
	}
	return d, nil
}

// NumClusters returns the number of clusters, that is, of experts.
func (d *DAMIC) NumClusters() int { return len(d.experts) }

// Expert returns the autoencoder of cluster idx.
func (d *DAMIC) Expert(idx int) autoencoders.Model { return d.experts[idx] }

// ExpertScope returns the sub-scope where the variables of expert idx are created.
func ExpertScope(idx int) string { return fmt.Sprintf("expert_%03d", idx) }

// GateLogits returns the logits of p(cluster|x), shaped [batch_size, NumClusters()].
func (d *DAMIC) GateLogits(ctx *context.Context, images *Node) *Node {
	ctx = ctx.In(GatingScope)
	features := autoencoders.ConvFeatures(ctx, images)
	return layers.Dense(ctx.In("logits"), features, true, d.NumClusters())
}

// PerClusterErrors returns the reconstruction error of each expert on each example: the squared
// error averaged over the example's elements, shaped [batch_size, NumClusters()].
func (d *DAMIC) PerClusterErrors(ctx *context.Context, images *Node) *Node {
	errs := make([]*Node, len(d.experts))
	for ii, expert := range d.experts {
		output := expert.Forward(ctx.In(ExpertScope(ii)), images)
		errs[ii] = losses.PerExampleMeanSquaredError(images, output.Reconstruction)
	}
	return losses.StackPerClusterErrors(errs...)
}

// Loss returns the mixture negative log-likelihood summed over the batch, and the gating logits.
func (d *DAMIC) Loss(ctx *context.Context, images *Node, epsilon float64) (loss, gateLogits *Node) {
	gateLogits = d.GateLogits(ctx, images)
	loss = losses.MixtureNegLogLikelihood(gateLogits, d.PerClusterErrors(ctx, images), epsilon)
	return
}

// PredictCluster returns the hard cluster assignment argmax_c p(c|x) as Int32, shaped [batch_size].
func (d *DAMIC) PredictCluster(ctx *context.Context, images *Node) *Node {
	if images.Rank() != 4 {
		exceptions.Panicf("DAMIC.PredictCluster: images must be shaped [batch_size, height, width, channels], got %s", images.Shape())
	}
	return ArgMax(d.GateLogits(ctx, images), -1)
}
