// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train"
	"github.com/gomlx/horoma/ml/train/losses"
	"github.com/gomlx/horoma/ml/train/metrics"
	"github.com/gomlx/horoma/ml/train/optimizers"
	"github.com/gomlx/horoma/models/autoencoders"
	"github.com/gomlx/horoma/models/classifiers"
	"github.com/gomlx/horoma/models/clustering"
	"github.com/gomlx/horoma/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// pretrainOptimizerName is the optimizer used to fit the autoencoder alone.
const pretrainOptimizerName = "pretrain"

// runSemiSupervised trains the encoder and classifier alternating unlabeled and labeled epochs.
// Without a differentiable encoder it falls back to the cluster mode with PCA.
func (e *experiment) runSemiSupervised() {
	encoder, found := autoencoders.New(e.cfg.EncModel, e.unlabeled.ImageDims(), e.cfg.LatentDim)
	if !found {
		klog.Warningf("Encoder %q can't be trained with gradients, switching to the %q mode", e.cfg.EncModel, modeCluster)
		e.runCluster()
		return
	}
	classifier := classifiers.New(e.cfg.ClassifierModel)
	trainer := must.M1(train.NewSemiSupervised(e.backend, e.ctx, encoder, classifier, train.SemiSupervisedConfig{
		BatchSize:               e.cfg.BatchSize,
		Epochs:                  e.cfg.NumEpochs,
		Patience:                e.cfg.Patience,
		LearningRateUnsup:       e.cfg.LearningRateUnsup,
		LearningRateSup:         e.cfg.LearningRateSup,
		SchedulerStepAfterEpoch: *flagSchedule,
		Seed:                    int64(e.cfg.Seed),
		Prefetch:                *flagPrefetch,
		Observer:                e.observer,
		Checkpointer:            e.checkpointer,
	}))
	e.attachProgress(trainer)
	trainer.OnPhase(func(phase train.Phase, epoch int) error {
		klog.V(2).Infof("Epoch %d: %s", epoch, phase)
		return nil
	})
	klog.Infof("Semi-supervised training: %d batches of %d per phase", trainer.NumBatches(e.labeled), e.cfg.BatchSize)

	result := must.M1(trainer.Run(e.unlabeled, e.labeled, e.valid))
	if result.EarlyStopped {
		klog.Infof("Early stopped after epoch %d", result.LastEpoch)
	}
	if result.BestEpoch >= 0 {
		fmt.Printf("Best validation F1 %.4f at epoch %d, checkpoint in %q\n", result.BestF1, result.BestEpoch, e.checkpointer.Dir())
	}
	fmt.Println(commandline.EpochsTable(e.history, "train_unsup_loss", "train_sup_loss", "valid_accuracy", "valid_f1"))

	validResult := must.M1(trainer.Evaluate(e.valid))
	fmt.Println(resultsTable("Validation (last epoch)", validResult))
	e.saveReports(encoder)
}

// pretrain fits the autoencoder alone on the unlabeled data, keeping the weights with the lowest
// validation reconstruction loss.
func (e *experiment) pretrain(model autoencoders.Model) {
	optimizer := optimizers.Adam(pretrainOptimizerName).FromContext(e.ctx).
		Group("autoencoder", e.cfg.LearningRate,
			autoencoders.AbsEncoderScope(autoencoders.Scope), autoencoders.AbsDecoderScope(autoencoders.Scope)).
		Done()
	trainer := train.NewEpochTrainer(pretrainOptimizerName, e.backend, e.ctx, train.ReconstructionStrategy(model), optimizer)
	e.attachProgress(trainer)
	stream := must.M1(data.NewBatchStream(e.unlabeled, e.cfg.BatchSize, rand.New(rand.NewSource(int64(e.cfg.Seed)))))
	defer stream.Prefetch(*flagPrefetch).Close()
	result := must.M1(trainer.Fit(stream, data.Unlabeled(e.valid), train.FitConfig{
		Epochs:       e.cfg.NumEpochs,
		Patience:     e.cfg.Patience,
		BatchSize:    e.cfg.BatchSize,
		Observer:     e.observer,
		Checkpointer: e.checkpointer,
	}))
	if result.BestEpoch >= 0 {
		fmt.Printf("Best validation loss %.6g at epoch %d, checkpoint in %q\n", result.BestLoss, result.BestEpoch, e.checkpointer.Dir())
	}
	fmt.Println(commandline.EpochsTable(e.history, "train_loss", "valid_loss"))
}

// runPretrain fits the configured autoencoder alone.
func (e *experiment) runPretrain() {
	model, found := autoencoders.New(e.cfg.EncModel, e.unlabeled.ImageDims(), e.cfg.LatentDim)
	if !found {
		exceptions.Panicf("mode %q requires a trainable encoder, got %q (valid: %q)", modePretrain, e.cfg.EncModel, autoencoders.Names())
	}
	e.pretrain(model)
	e.saveReports(model)
}

// runCluster embeds the images, either with a pretrained autoencoder or with PCA, and clusters the
// embeddings. Clusters are labeled by majority vote of the labeled split.
func (e *experiment) runCluster() {
	var embedder train.Embedder
	model, found := autoencoders.New(e.cfg.EncModel, e.unlabeled.ImageDims(), e.cfg.LatentDim)
	if found {
		e.pretrain(model)
		embedder = train.NewModelEmbedder(e.backend, e.ctx, model, e.cfg.BatchSize)
	} else {
		pca := train.NewPCAEmbedder(autoencoders.PCADefaultVarianceRatio)
		must.M(pca.FitOn(e.unlabeled))
		embedder = pca
	}

	numClusters := e.numClusters()
	var clusterer clustering.Clusterer
	switch *flagClusterer {
	case "kmeans":
		clusterer = clustering.NewKMeans(numClusters)
	case "gmm":
		clusterer = clustering.NewGMM(numClusters)
	default:
		exceptions.Panicf("unknown -clusterer=%q, valid values are \"kmeans\" and \"gmm\"", *flagClusterer)
	}
	pipeline := &train.ClusterPipeline{Embedder: embedder, Clusterer: clusterer}
	must.M(pipeline.Fit(e.unlabeled))
	e.reportClusters(numClusters, pipeline.Predict)
	e.saveReports(model)
}

// runDAMIC trains the mixture of autoencoders and reports its clusters.
func (e *experiment) runDAMIC() {
	expert := e.cfg.EncModel
	if !autoencoders.IsRegistered(expert) {
		klog.Warningf("Encoder %q can't be a DAMIC expert, using %q", expert, clustering.DAMICDefaultExpert)
		expert = clustering.DAMICDefaultExpert
	}
	damic := must.M1(clustering.NewDAMIC(e.numClusters(), e.unlabeled.ImageDims(), expert, e.cfg.LatentDim))
	trainer := train.NewDAMICTrainer(e.backend, e.ctx, damic, e.cfg.LearningRate, *flagEpsilon, e.cfg.BatchSize)
	e.attachProgress(trainer)
	stream := must.M1(data.NewBatchStream(e.unlabeled, e.cfg.BatchSize, rand.New(rand.NewSource(int64(e.cfg.Seed)))))
	defer stream.Prefetch(*flagPrefetch).Close()
	result := must.M1(trainer.Fit(stream, data.Unlabeled(e.valid), train.FitConfig{
		Epochs:        e.cfg.NumEpochs,
		Patience:      e.cfg.Patience,
		BatchSize:     e.cfg.BatchSize,
		Observer:      e.observer,
		MetricsPrefix: "damic_",
		Checkpointer:  e.checkpointer,
	}))
	if result.BestEpoch >= 0 {
		fmt.Printf("Best validation mixture loss %.6g at epoch %d\n", result.BestLoss, result.BestEpoch)
	}
	fmt.Println(commandline.EpochsTable(e.history, "damic_train_loss", "damic_valid_loss"))
	e.reportClusters(damic.NumClusters(), trainer.Predict)
	e.saveReports(nil)
}

func (e *experiment) numClusters() int {
	if e.cfg.NumClusters > 0 {
		return e.cfg.NumClusters
	}
	return losses.NumClasses - 1
}

// reportClusters labels the clusters with the labeled split and prints the accuracy on the
// validation split.
func (e *experiment) reportClusters(numClusters int, predict func(ds data.Dataset) ([]int, error)) {
	labeling, aggregator := must.M2(train.ClusterReport(numClusters, predict, e.labeled, e.valid))
	klog.Infof("Cluster labels: %v", labeling.ClusterToLabel)
	fmt.Println(commandline.ResultsTable("Validation (clusters)", aggregator))
	e.observer.LogMetric("valid_cluster_accuracy", aggregator.Accuracy(), 0)
	e.observer.LogMetric("valid_cluster_f1", aggregator.F1(), 0)
}

func resultsTable(title string, result train.EpochResult) string {
	aggregator := metrics.NewAggregator(losses.NumClasses)
	aggregator.Add(result.Labels, result.Predictions)
	return commandline.ResultsTable(title, aggregator)
}
