// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"math"
	"math/rand"
	"os"
	"path"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train/optimizers"
	"github.com/gomlx/horoma/models/autoencoders"
	"github.com/gomlx/horoma/models/classifiers"
	"github.com/gomlx/horoma/models/clustering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDims = [3]int{8, 8, 3}

// autoencoderValues returns the values of all Float32 variables of the autoencoder.
func autoencoderValues(ctx *context.Context) map[string][]float32 {
	values := make(map[string][]float32)
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Shape().DType != dtypes.Float32 {
			return
		}
		if !(optimizers.ParamGroup{Scopes: []string{"/" + autoencoders.Scope}}).Matches(v.Scope()) {
			return
		}
		values[v.Scope()+"/"+v.Name()] = tensors.CopyFlatData[float32](v.Value())
	})
	return values
}

func trainPlainAE(t *testing.T, seed int64) (EpochResult, map[string][]float32) {
	backend := graphtest.BuildTestBackend()
	ctx := SeededContext(context.New(), seed)
	model, found := autoencoders.New("ae", testDims, 4)
	require.True(t, found)
	opt := optimizers.Adam("ae").
		Group("ae", 1e-3, autoencoders.AbsEncoderScope(autoencoders.Scope), autoencoders.AbsDecoderScope(autoencoders.Scope)).
		Done()
	trainer := NewEpochTrainer("ae", backend, ctx, ReconstructionStrategy(model), opt)
	ds := data.Synthetic("unlabeled", 20, 3, testDims, false, 1)
	stream, err := data.NewBatchStream(ds, 8, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	result, err := trainer.TrainBatches(stream, stream.PassBatches())
	require.NoError(t, err)
	return result, autoencoderValues(ctx)
}

func TestEpochTrainerDeterministic(t *testing.T) {
	result1, values1 := trainPlainAE(t, 7)
	result2, values2 := trainPlainAE(t, 7)
	assert.Equal(t, 20, result1.Examples)
	assert.False(t, math.IsNaN(result1.Loss))
	assert.Greater(t, result1.Loss, 0.0)
	assert.Equal(t, result1.Loss, result2.Loss)
	require.NotEmpty(t, values1)
	assert.Equal(t, values1, values2)

	_, values3 := trainPlainAE(t, 8)
	assert.NotEqual(t, values1, values3, "the seed must reach the variable initializers")
}

func TestEpochTrainerStrategies(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	labeled := data.Synthetic("labeled", 12, 3, testDims, true, 2)
	for _, name := range []string{"vae", "cvae", "convae"} {
		t.Run(name, func(t *testing.T) {
			labeled := labeled
			if name == "convae" {
				// Unpadded convolutions require larger images.
				labeled = data.Synthetic("labeled", 12, 3, data.HoromaDims, true, 2)
			}
			ctx := context.New()
			model, _ := autoencoders.New(name, labeled.ImageDims(), 4)
			opt := optimizers.Adam(name).Group("all", 1e-3, "/"+autoencoders.Scope).Done()
			trainer := NewEpochTrainer(name, backend, ctx, ReconstructionStrategy(model), opt)
			var batches int
			trainer.OnBatch(func(phase string, batchIdx, numBatches int, batchLoss float64) error {
				batches++
				return nil
			})
			stream, err := data.NewBatchStream(labeled, 5, rand.New(rand.NewSource(0)))
			require.NoError(t, err)
			result, err := trainer.TrainBatches(stream, 2)
			require.NoError(t, err)
			assert.Equal(t, 10, result.Examples)
			assert.False(t, result.HasClassification)
			assert.Equal(t, 2, batches)

			eval, err := trainer.Evaluate(labeled, 5)
			require.NoError(t, err)
			assert.Equal(t, 12, eval.Examples)
			assert.Nil(t, eval.Predictions)
		})
	}

	t.Run("classification", func(t *testing.T) {
		ctx := context.New()
		ctx.SetParam(classifiers.ParamHiddenDims, []int{8})
		encoder, _ := autoencoders.New("ae", testDims, 4)
		opt := optimizers.Adam("sup").Group("all", 1e-3, "/"+autoencoders.Scope, "/"+classifiers.Scope).Done()
		trainer := NewEpochTrainer("sup", backend, ctx, ClassificationStrategy(encoder, classifiers.NewMLP()), opt)
		eval, err := trainer.Evaluate(labeled, 5)
		require.NoError(t, err)
		assert.True(t, eval.HasClassification)
		assert.Len(t, eval.Predictions, 12)
		assert.Len(t, eval.Labels, 12)
		assert.True(t, eval.Accuracy >= 0 && eval.Accuracy <= 1)

		_, err = trainer.Evaluate(data.Unlabeled(labeled), 5)
		require.Error(t, err, "classification requires labels")
	})
}

func TestFitCheckpointsBest(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	baseDir := t.TempDir()
	ctx := context.New()
	ckpt, err := NewCheckpointer(ctx, baseDir, "pretrain")
	require.NoError(t, err)
	require.False(t, ckpt.Resumed())

	model, _ := autoencoders.New("ae", testDims, 4)
	opt := optimizers.Adam("ae").Group("ae", 1e-3, "/"+autoencoders.Scope).Done()
	trainer := NewEpochTrainer("ae", backend, ctx, ReconstructionStrategy(model), opt)
	trainDS := data.Synthetic("train", 16, 3, testDims, false, 3)
	validDS := data.Synthetic("valid", 8, 3, testDims, true, 4)
	stream, err := data.NewBatchStream(trainDS, 8, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	history := NewHistoryObserver()
	result, err := trainer.Fit(stream, validDS, FitConfig{Epochs: 2, Observer: history, Checkpointer: ckpt})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EpochsRun)
	require.GreaterOrEqual(t, result.BestEpoch, 0)
	assert.Equal(t, result.BestLoss, history.Value("valid_loss", result.BestEpoch))

	// A new context on the same directory resumes from the saved state.
	ctx2 := context.New()
	ckpt2, err := NewCheckpointer(ctx2, baseDir, "pretrain")
	require.NoError(t, err)
	require.True(t, ckpt2.Resumed())
	state := ckpt2.State()
	assert.Equal(t, result.BestEpoch, state.Epoch)
	assert.True(t, state.HasBest)
	assert.InDelta(t, result.BestLoss, state.Best, 1e-9)
	validLoss, found := ckpt2.Metric("valid_loss")
	assert.True(t, found)
	assert.InDelta(t, result.BestLoss, validLoss, 1e-9)
}

func TestCheckpointerMissingBaseDir(t *testing.T) {
	_, err := NewCheckpointer(context.New(), path.Join(t.TempDir(), "does_not_exist"), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository root")

	file := path.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = NewCheckpointer(context.New(), file, "x")
	require.Error(t, err)
}

func TestSemiSupervised(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := SeededContext(context.New(), 1)
	ctx.SetParam(classifiers.ParamHiddenDims, []int{8})
	encoder, _ := autoencoders.New("ae", testDims, 4)
	ckpt, err := NewCheckpointer(ctx, t.TempDir(), "semisup")
	require.NoError(t, err)
	history := NewHistoryObserver()
	trainer, err := NewSemiSupervised(backend, ctx, encoder, classifiers.NewMLP(), SemiSupervisedConfig{
		BatchSize:         4,
		Epochs:            2,
		LearningRateUnsup: 1e-3,
		LearningRateSup:   1e-3,
		Observer:          history,
		Checkpointer:      ckpt,
	})
	require.NoError(t, err)

	var phases []Phase
	trainer.OnPhase(func(phase Phase, epoch int) error {
		phases = append(phases, phase)
		return nil
	})
	unlabeled := data.Synthetic("unlabeled", 30, 3, testDims, false, 5)
	labeled := data.Synthetic("labeled", 9, 3, testDims, true, 6)
	valid := data.Synthetic("valid", 6, 3, testDims, true, 7)
	assert.Equal(t, 2, trainer.NumBatches(labeled))
	assert.Equal(t, 1, trainer.NumBatches(data.Subset("tiny", labeled, []int{0})))

	result, err := trainer.Run(unlabeled, labeled, valid)
	require.NoError(t, err)
	assert.Equal(t, []Phase{
		UnsupPhase, SupPhase, Validate, CheckpointDecision,
		UnsupPhase, SupPhase, Validate, CheckpointDecision,
		Stopped,
	}, phases)
	assert.Equal(t, 1, result.LastEpoch)
	assert.False(t, result.EarlyStopped)
	assert.Equal(t, Stopped, trainer.Phase())
	require.GreaterOrEqual(t, result.BestEpoch, 0)
	assert.Equal(t, result.BestEpoch, ckpt.State().Epoch, "the checkpoint holds the best epoch")
	for _, name := range []string{"train_unsup_loss", "train_sup_loss", "valid_unsup_loss", "valid_f1", "lr_sup"} {
		assert.False(t, math.IsNaN(history.Value(name, 1)), name)
	}
	// The schedules are stepped at the start of each epoch: with the default step size of 10, the
	// learning rate is unchanged.
	assert.InDelta(t, 1e-3, history.Value("lr_unsup", 1), 1e-9)

	// Both optimizers keep separate moments for the shared encoder.
	unsup, sup := trainer.Optimizers()
	assert.Equal(t, int64(4), optimizers.GlobalStep(ctx, unsup.Name()))
	assert.Equal(t, int64(4), optimizers.GlobalStep(ctx, sup.Name()))

	_, err = trainer.Run(unlabeled, data.Unlabeled(labeled), valid)
	require.Error(t, err)
}

// frozenSemiSupervised returns a trainer with zero learning rates: the validation F1 is the same
// every epoch, so only the first epoch improves it.
func frozenSemiSupervised(t *testing.T, dir string, epochs, patience int) (*SemiSupervised, *Checkpointer) {
	ctx := SeededContext(context.New(), 3)
	ctx.SetParam(classifiers.ParamHiddenDims, []int{8})
	encoder, _ := autoencoders.New("ae", testDims, 4)
	ckpt, err := NewCheckpointer(ctx, dir, "frozen")
	require.NoError(t, err)
	trainer, err := NewSemiSupervised(graphtest.BuildTestBackend(), ctx, encoder, classifiers.NewMLP(), SemiSupervisedConfig{
		BatchSize:    4,
		Epochs:       epochs,
		Patience:     patience,
		Seed:         5,
		Prefetch:     2,
		Checkpointer: ckpt,
	})
	require.NoError(t, err)
	return trainer, ckpt
}

func TestSemiSupervisedEarlyStopAndResume(t *testing.T) {
	unlabeled := data.Synthetic("unlabeled", 12, 3, testDims, false, 5)
	labeled := data.Synthetic("labeled", 9, 3, testDims, true, 6)
	valid := data.Synthetic("valid", 6, 3, testDims, true, 7)
	dir := t.TempDir()

	trainer, ckpt := frozenSemiSupervised(t, dir, 10, 2)
	var decisions []int
	trainer.OnPhase(func(phase Phase, epoch int) error {
		if phase == CheckpointDecision {
			decisions = append(decisions, epoch)
		}
		return nil
	})
	result, err := trainer.Run(unlabeled, labeled, valid)
	require.NoError(t, err)
	assert.True(t, result.EarlyStopped)
	assert.Equal(t, []int{0, 1, 2}, decisions)
	assert.Equal(t, 2, result.LastEpoch)
	assert.Equal(t, 0, result.BestEpoch)
	state := ckpt.State()
	assert.Equal(t, result.BestEpoch, state.Epoch, "the checkpoint holds the best epoch, not the last one")
	assert.True(t, state.HasBest)
	assert.Equal(t, result.BestF1, state.Best)
	assert.Equal(t, 0, state.Counter)

	// Resuming continues after the saved epoch, with the saved best F1 and patience counter.
	resumed, ckpt2 := frozenSemiSupervised(t, dir, 10, 2)
	require.True(t, ckpt2.Resumed())
	var epochs []int
	resumed.OnPhase(func(phase Phase, epoch int) error {
		if phase == UnsupPhase {
			epochs = append(epochs, epoch)
		}
		return nil
	})
	result2, err := resumed.Run(unlabeled, labeled, valid)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, epochs)
	assert.True(t, result2.EarlyStopped)
	assert.Equal(t, 0, result2.BestEpoch)
	assert.Equal(t, result.BestF1, result2.BestF1)
	assert.Equal(t, 0, ckpt2.State().Epoch)

	// Without patience all the epochs run.
	trainer3, _ := frozenSemiSupervised(t, t.TempDir(), 3, 0)
	result3, err := trainer3.Run(unlabeled, labeled, valid)
	require.NoError(t, err)
	assert.False(t, result3.EarlyStopped)
	assert.Equal(t, 2, result3.LastEpoch)
}

func TestDAMICTrainer(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	damic, err := clustering.NewDAMIC(2, testDims, "ae", 4)
	require.NoError(t, err)
	trainer := NewDAMICTrainer(backend, ctx, damic, 1e-3, 0, 5)
	ds := data.Synthetic("labeled", 12, 2, testDims, true, 8)
	stream, err := data.NewBatchStream(data.Unlabeled(ds), 5, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	result, err := trainer.Fit(stream, ds, FitConfig{Epochs: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, result.BestEpoch)

	clusters, err := trainer.Predict(ds)
	require.NoError(t, err)
	require.Len(t, clusters, 12)
	for _, c := range clusters {
		assert.True(t, c == 0 || c == 1)
	}
	labeling, aggregator, err := trainer.ClusterReport(ds, ds)
	require.NoError(t, err)
	assert.Len(t, labeling.ClusterToLabel, 2)
	assert.Equal(t, int64(12), aggregator.Count())
}

func TestClusterPipelinePCA(t *testing.T) {
	ds := data.Synthetic("labeled", 30, 3, [3]int{4, 4, 1}, true, 9)
	pipeline := &ClusterPipeline{Embedder: NewPCAEmbedder(0.9), Clusterer: clustering.NewKMeans(3)}
	require.NoError(t, pipeline.Fit(ds))
	_, aggregator, err := ClusterReport(3, pipeline.Predict, ds, ds)
	require.NoError(t, err)
	// Synthetic classes are well separated prototypes.
	assert.Greater(t, aggregator.Accuracy(), 0.9)
}

func TestEmbedAndReconstruct(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	model, found := autoencoders.New("ae", testDims, 4)
	require.True(t, found)
	ds := data.Synthetic("valid", 7, 2, testDims, true, 3)

	embeddings, err := NewModelEmbedder(backend, ctx, model, 3).Embed(ds)
	require.NoError(t, err)
	rows, cols := embeddings.Dims()
	assert.Equal(t, 7, rows)
	assert.Equal(t, 4, cols)

	originals, reconstructions, err := Reconstruct(backend, ctx, model, ds, 5)
	require.NoError(t, err)
	require.Len(t, originals, 5)
	require.Len(t, reconstructions, 5)
	assert.Len(t, reconstructions[0], data.ExampleSize(ds))
	want := make([]float32, data.ExampleSize(ds))
	ds.Example(4, want)
	assert.Equal(t, want, originals[4])
}
