// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"math"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train/losses"
	"github.com/gomlx/horoma/ml/train/metrics"
	"github.com/gomlx/horoma/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BatchHook is called after every batch processed by an EpochTrainer. phase is the trainer name
// followed by "train" or "eval"; numBatches is -1 when not known in advance.
// Returning an error interrupts the epoch.
type BatchHook func(phase string, batchIdx, numBatches int, batchLoss float64) error

// EpochResult holds the scalars of one epoch (or one evaluation pass).
type EpochResult struct {
	// Loss per example: the sum of the batch losses divided by Examples.
	Loss float64

	// Examples processed.
	Examples int

	// HasClassification is true if Accuracy and F1 are set, that is, if the strategy is trained on
	// labels.
	HasClassification bool
	Accuracy, F1      float64

	// Predictions and Labels (clamped) of every example, collected only by Evaluate, in dataset order.
	// Labels is nil for unlabeled data.
	Predictions, Labels []int32

	Elapsed time.Duration
}

// EpochTrainer trains one objective (a Strategy) with one optimizer, for a bounded number of batches
// per epoch.
//
// Train steps are compiled with context.Exec: each step computes the forward pass, the strategy loss,
// its gradients and the optimizer update. Variables are shared with any other trainer using the same
// context.
type EpochTrainer struct {
	name      string
	backend   backends.Backend
	ctx       *context.Context
	strategy  Strategy
	optimizer optimizers.Interface

	trainExec, evalExec *context.Exec
	hooks               []BatchHook
}

// NewEpochTrainer creates an EpochTrainer. ctx is the root context shared by all trainers; it is used
// unchecked so variables are reused across graphs.
func NewEpochTrainer(name string, backend backends.Backend, ctx *context.Context, strategy Strategy, optimizer optimizers.Interface) *EpochTrainer {
	t := &EpochTrainer{
		name:      name,
		backend:   backend,
		ctx:       ctx.Checked(false),
		strategy:  strategy,
		optimizer: optimizer,
	}
	t.trainExec = context.NewExec(backend, t.ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		return t.stepGraph(ctx, inputs, true)
	})
	t.evalExec = context.NewExec(backend, t.ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		return t.stepGraph(ctx, inputs, false)
	})
	return t
}

// Name of the trainer.
func (t *EpochTrainer) Name() string { return t.name }

// Strategy used by the trainer.
func (t *EpochTrainer) Strategy() Strategy { return t.strategy }

// Optimizer used by the trainer.
func (t *EpochTrainer) Optimizer() optimizers.Interface { return t.optimizer }

// OnBatch attaches a hook called after every batch.
func (t *EpochTrainer) OnBatch(hook BatchHook) {
	t.hooks = append(t.hooks, hook)
}

// stepGraph builds the graph of one train (or eval) step: inputs are the images and, if the
// strategy needs them, the labels. It returns the batch loss as Float64 and, if any, the predictions.
func (t *EpochTrainer) stepGraph(ctx *context.Context, inputs []*Node, training bool) []*Node {
	g := inputs[0].Graph()
	ctx.SetTraining(g, training)
	var labels *Node
	if t.strategy.NeedsLabels() {
		if len(inputs) < 2 {
			exceptions.Panicf("trainer %q: strategy %q requires labels", t.name, t.strategy.Name())
		}
		labels = inputs[1]
	}
	out := t.strategy.Build(ctx, inputs[0], labels)
	if training {
		t.optimizer.UpdateGraph(ctx, g, out.Loss)
	}
	outputs := []*Node{ConvertDType(out.BatchLoss, dtypes.Float64)}
	if out.Predictions != nil {
		outputs = append(outputs, ConvertDType(out.Predictions, dtypes.Int32))
	}
	return outputs
}

// run executes one step on the batch, converting panics to errors.
func (t *EpochTrainer) run(exec *context.Exec, batch *data.Batch) (batchLoss float64, predictions []int32, err error) {
	args := []any{batch.Images}
	if t.strategy.NeedsLabels() {
		if batch.Labels == nil {
			return 0, nil, errors.Errorf("trainer %q: strategy %q requires labeled data", t.name, t.strategy.Name())
		}
		args = append(args, batch.Labels)
	}
	err = exceptions.TryCatch[error](func() {
		outputs := exec.Call(args...)
		batchLoss = tensors.ToScalar[float64](outputs[0])
		if len(outputs) > 1 {
			predictions = tensors.CopyFlatData[int32](outputs[1])
		}
		for _, output := range outputs {
			output.FinalizeAll()
		}
	})
	if err != nil {
		err = errors.WithMessagef(err, "trainer %q", t.name)
	}
	return
}

func (t *EpochTrainer) callHooks(phase string, batchIdx, numBatches int, batchLoss float64) error {
	for _, hook := range t.hooks {
		if err := hook(phase, batchIdx, numBatches, batchLoss); err != nil {
			return errors.WithMessagef(err, "OnBatch(%s, batch %d)", phase, batchIdx)
		}
	}
	return nil
}

// accumulator sums the batch losses and classification results over an epoch.
type accumulator struct {
	classify   bool // predictions are class labels
	lossSum    float64
	examples   int
	aggregator *metrics.Aggregator
}

func (a *accumulator) add(batch *data.Batch, batchLoss float64, predictions []int32) {
	a.lossSum += batchLoss
	a.examples += batch.Size
	if a.classify && predictions != nil && batch.LabelValues != nil {
		if a.aggregator == nil {
			a.aggregator = metrics.NewAggregator(losses.NumClasses)
		}
		a.aggregator.Add(losses.ClampLabels(batch.LabelValues), predictions)
	}
}

func (a *accumulator) result(start time.Time) EpochResult {
	r := EpochResult{Examples: a.examples, Elapsed: time.Since(start)}
	if a.examples > 0 {
		r.Loss = a.lossSum / float64(a.examples)
	} else {
		r.Loss = math.NaN()
	}
	if a.aggregator != nil {
		r.HasClassification = true
		r.Accuracy = a.aggregator.Accuracy()
		r.F1 = a.aggregator.F1()
	}
	return r
}

// TrainBatches runs exactly numBatches train steps on batches taken from stream.
// Non-finite losses are not checked: they propagate to the epoch loss.
func (t *EpochTrainer) TrainBatches(stream *data.BatchStream, numBatches int) (EpochResult, error) {
	start := time.Now()
	phase := t.name + " train"
	acc := &accumulator{classify: t.strategy.NeedsLabels()}
	err := stream.Take(numBatches, func(batchIdx int, batch *data.Batch) error {
		defer batch.Finalize()
		batchLoss, predictions, err := t.run(t.trainExec, batch)
		if err != nil {
			return err
		}
		acc.add(batch, batchLoss, predictions)
		return t.callHooks(phase, batchIdx, numBatches, batchLoss)
	})
	if err != nil {
		return EpochResult{}, err
	}
	return acc.result(start), nil
}

// Evaluate runs one full pass over ds without updating the model, with the training flag off.
func (t *EpochTrainer) Evaluate(ds data.Dataset, batchSize int) (EpochResult, error) {
	start := time.Now()
	phase := t.name + " eval"
	seq, err := data.NewSequential(ds, batchSize)
	if err != nil {
		return EpochResult{}, err
	}
	numBatches := (ds.Len() + batchSize - 1) / batchSize
	acc := &accumulator{classify: t.strategy.NeedsLabels()}
	var allPredictions, allLabels []int32
	batchIdx := 0
	err = seq.ForEach(func(batch *data.Batch) error {
		defer batch.Finalize()
		batchLoss, predictions, err := t.run(t.evalExec, batch)
		if err != nil {
			return err
		}
		acc.add(batch, batchLoss, predictions)
		allPredictions = append(allPredictions, predictions...)
		if batch.LabelValues != nil {
			allLabels = append(allLabels, losses.ClampLabels(batch.LabelValues)...)
		}
		batchIdx++
		return t.callHooks(phase, batchIdx-1, numBatches, batchLoss)
	})
	if err != nil {
		return EpochResult{}, err
	}
	r := acc.result(start)
	r.Predictions, r.Labels = allPredictions, allLabels
	return r, nil
}

// FitConfig configures EpochTrainer.Fit.
type FitConfig struct {
	// Epochs to train, each a full pass over the training data.
	Epochs int

	// Patience of the early stopping, 0 to disable it.
	Patience int

	// BatchSize of the validation pass.
	BatchSize int

	// Observer receives "<prefix>train_loss" and "<prefix>valid_loss" (plus accuracy and F1 when
	// available) every epoch. Defaults to NoopObserver.
	Observer Observer

	// MetricsPrefix is prepended to the metrics names.
	MetricsPrefix string

	// Checkpointer saves the best model. Optional.
	Checkpointer *Checkpointer
}

// FitResult summarizes EpochTrainer.Fit.
type FitResult struct {
	// BestEpoch is the epoch with the lowest validation loss, -1 if none was finite.
	BestEpoch int
	BestLoss  float64

	// EpochsRun, not counting epochs restored from a checkpoint.
	EpochsRun int
	Stopped   bool
}

// Fit trains for full passes over the stream's dataset, evaluates on valid after each epoch and keeps
// the model with the lowest validation loss, saving it with the Checkpointer if one is given.
// If the Checkpointer resumed from a previous checkpoint, training continues from the epoch after it.
func (t *EpochTrainer) Fit(stream *data.BatchStream, valid data.Dataset, cfg FitConfig) (FitResult, error) {
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = stream.BatchSize()
	}
	selector := NewSelector(Minimize, cfg.Patience)
	result := FitResult{BestEpoch: -1, BestLoss: math.Inf(1)}
	firstEpoch := 0
	if cfg.Checkpointer != nil && cfg.Checkpointer.Resumed() {
		state := cfg.Checkpointer.State()
		selector.Restore(state.Best, state.HasBest, state.Counter)
		firstEpoch = state.Epoch + 1
		if state.HasBest {
			result.BestEpoch, result.BestLoss = state.Epoch, state.Best
		}
		klog.Infof("%s: resuming at epoch %d (best validation loss %.6g)", t.name, firstEpoch, state.Best)
	}

	prefix := cfg.MetricsPrefix
	for epoch := firstEpoch; epoch < cfg.Epochs; epoch++ {
		trainResult, err := t.TrainBatches(stream, stream.PassBatches())
		if err != nil {
			return result, errors.WithMessagef(err, "epoch %d", epoch)
		}
		validResult, err := t.Evaluate(valid, cfg.BatchSize)
		if err != nil {
			return result, errors.WithMessagef(err, "validation of epoch %d", epoch)
		}
		result.EpochsRun++
		epochMetrics := map[string]float64{
			prefix + "train_loss": trainResult.Loss,
			prefix + "valid_loss": validResult.Loss,
		}
		if validResult.HasClassification {
			epochMetrics[prefix+"valid_accuracy"] = validResult.Accuracy
			epochMetrics[prefix+"valid_f1"] = validResult.F1
		}
		LogMetrics(cfg.Observer, epochMetrics, epoch)
		klog.V(1).Infof("%s epoch %d: train loss %.6g, valid loss %.6g (%s)", t.name, epoch,
			trainResult.Loss, validResult.Loss, trainResult.Elapsed+validResult.Elapsed)

		decision := selector.Observe(validResult.Loss)
		if decision.Improved {
			result.BestEpoch, result.BestLoss = epoch, validResult.Loss
			if cfg.Checkpointer != nil {
				best, hasBest := selector.Best()
				state := TrainingState{Epoch: epoch, Best: best, HasBest: hasBest, Counter: selector.Counter()}
				if err := cfg.Checkpointer.Save(state, epochMetrics); err != nil {
					return result, err
				}
			}
		}
		if decision.Stop {
			klog.Infof("%s: no improvement in %d epochs, stopping at epoch %d", t.name, cfg.Patience, epoch)
			result.Stopped = true
			break
		}
	}
	return result, nil
}

func (r EpochResult) String() string {
	if r.HasClassification {
		return fmt.Sprintf("loss=%.6g acc=%.4f f1=%.4f (%d examples)", r.Loss, r.Accuracy, r.F1, r.Examples)
	}
	return fmt.Sprintf("loss=%.6g (%d examples)", r.Loss, r.Examples)
}
