// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train/losses"
	"github.com/gomlx/horoma/ml/train/metrics"
	"github.com/gomlx/horoma/ml/train/optimizers"
	"github.com/gomlx/horoma/models/clustering"
	"github.com/pkg/errors"
)

// DAMICOptimizerName is the name of the optimizer of the DAMIC trainer.
const DAMICOptimizerName = "damic"

// DAMICTrainer trains the gating network and all the experts of a DAMIC model jointly, minimizing the
// mixture negative log-likelihood.
type DAMICTrainer struct {
	*EpochTrainer
	damic     *clustering.DAMIC
	batchSize int
}

// NewDAMICTrainer creates the trainer, with an Adam optimizer over all the DAMIC variables.
// epsilon is the floor of the per-example likelihood, 0 for the default.
func NewDAMICTrainer(backend backends.Backend, ctx *context.Context, damic *clustering.DAMIC, learningRate, epsilon float64, batchSize int) *DAMICTrainer {
	optimizer := optimizers.Adam(DAMICOptimizerName).FromContext(ctx).
		Group("damic", learningRate, context.ScopeSeparator+clustering.DAMICScope).
		Done()
	return &DAMICTrainer{
		EpochTrainer: NewEpochTrainer("damic", backend, ctx, MixtureStrategy(damic, epsilon), optimizer),
		damic:        damic,
		batchSize:    batchSize,
	}
}

// Predict returns the cluster of every example of ds, in order.
func (t *DAMICTrainer) Predict(ds data.Dataset) ([]int, error) {
	result, err := t.Evaluate(ds, t.batchSize)
	if err != nil {
		return nil, err
	}
	clusters := make([]int, len(result.Predictions))
	for ii, c := range result.Predictions {
		clusters[ii] = int(c)
	}
	return clusters, nil
}

// ClusterReport labels the clusters by majority vote of the examples of labeled, and measures the
// accuracy and F1 of that labeling on eval (which must also be labeled).
func (t *DAMICTrainer) ClusterReport(labeled, eval data.Dataset) (*clustering.Labeling, *metrics.Aggregator, error) {
	return ClusterReport(t.damic.NumClusters(), t.Predict, labeled, eval)
}

// ClusterReport labels the clusters returned by predict by majority vote of the examples of labeled,
// and measures the accuracy and F1 of that labeling on eval.
func ClusterReport(numClusters int, predict func(ds data.Dataset) ([]int, error), labeled, eval data.Dataset) (*clustering.Labeling, *metrics.Aggregator, error) {
	if !labeled.HasLabels() || !eval.HasLabels() {
		return nil, nil, errors.Errorf("cluster report requires labeled datasets, got %q and %q", labeled.Name(), eval.Name())
	}
	clusters, err := predict(labeled)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "predicting clusters of %q", labeled.Name())
	}
	labeling := clustering.NewLabeling(numClusters, losses.NumClasses, clusters,
		losses.ClampLabels(data.Labels(labeled)), losses.UnknownClass)

	evalClusters, err := predict(eval)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "predicting clusters of %q", eval.Name())
	}
	aggregator := metrics.NewAggregator(losses.NumClasses)
	aggregator.Add(losses.ClampLabels(data.Labels(eval)), labeling.Labels(evalClusters))
	return labeling, aggregator, nil
}
