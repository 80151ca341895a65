// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train/optimizers"
	"github.com/gomlx/horoma/models/autoencoders"
	"github.com/gomlx/horoma/models/classifiers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Phase of the semi-supervised trainer state machine.
type Phase int

const (
	UnsupPhase Phase = iota
	SupPhase
	Validate
	CheckpointDecision
	Stopped
)

func (p Phase) String() string {
	switch p {
	case UnsupPhase:
		return "UnsupPhase"
	case SupPhase:
		return "SupPhase"
	case Validate:
		return "Validate"
	case CheckpointDecision:
		return "CheckpointDecision"
	case Stopped:
		return "Stopped"
	}
	return "Phase(?)"
}

// PhaseHook is called every time the semi-supervised trainer enters a phase.
type PhaseHook func(phase Phase, epoch int) error

// Names of the optimizers (and of their variables scope under /optimizers) of the semi-supervised trainer.
const (
	UnsupOptimizerName = "unsup"
	SupOptimizerName   = "sup"
)

// SemiSupervisedConfig configures the SemiSupervised trainer.
type SemiSupervisedConfig struct {
	BatchSize int
	Epochs    int

	// Patience: number of consecutive epochs without strict improvement of the validation F1 before
	// stopping. 0 disables early stopping.
	Patience int

	// LearningRateUnsup is used for the autoencoder (encoder and decoder) on unlabeled data, and
	// LearningRateSup for the encoder and classifier on labeled data.
	LearningRateUnsup, LearningRateSup float64

	// SchedulerStepAfterEpoch makes the learning rate schedules advance after the epoch's training
	// phases. By default they advance at the start of the epoch.
	SchedulerStepAfterEpoch bool

	// Seed of the batch shuffling.
	Seed int64

	// Prefetch is the number of batches of each stream assembled ahead in the background, 0 to
	// disable it. It doesn't change the order of the batches.
	Prefetch int

	// Observer receives the per-epoch metrics. Defaults to NoopObserver.
	Observer Observer

	// Checkpointer persists the best model. Optional.
	Checkpointer *Checkpointer
}

// SemiSupervised alternates, every epoch, an unsupervised phase training the autoencoder on unlabeled
// images with a supervised phase training the encoder plus classifier on labeled images. Each phase
// has its own Adam optimizer and step learning rate schedule, and they share the encoder variables.
//
// Epochs go through the phases UnsupPhase, SupPhase, Validate and CheckpointDecision; the model with
// the best validation F1 is checkpointed, and training reaches Stopped when the epochs are exhausted
// or the patience runs out.
type SemiSupervised struct {
	cfg        SemiSupervisedConfig
	ctx        *context.Context
	encoder    autoencoders.Model
	classifier classifiers.Model

	unsupOptimizer, supOptimizer *optimizers.AdamOptimizer
	unsupSchedule, supSchedule   *optimizers.StepSchedule
	unsupTrainer, supTrainer     *EpochTrainer
	selector                     *Selector

	phase      Phase
	phaseHooks []PhaseHook
}

// SemiSupervisedResult summarizes a SemiSupervised.Run.
type SemiSupervisedResult struct {
	// BestEpoch with the highest validation F1, -1 if no epoch produced a finite F1.
	BestEpoch int
	BestF1    float64

	// LastEpoch run.
	LastEpoch int

	// EarlyStopped is true if the patience ran out before the last epoch.
	EarlyStopped bool
}

// NewSemiSupervised creates the trainer. The encoder variables are created under autoencoders.Scope and
// the classifier's under classifiers.Scope, in ctx.
func NewSemiSupervised(backend backends.Backend, ctx *context.Context, encoder autoencoders.Model, classifier classifiers.Model, cfg SemiSupervisedConfig) (*SemiSupervised, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", cfg.BatchSize)
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	ctx = ctx.Checked(false)
	encoderScope := autoencoders.AbsEncoderScope(autoencoders.Scope)
	decoderScope := autoencoders.AbsDecoderScope(autoencoders.Scope)
	classifierScope := context.ScopeSeparator + classifiers.Scope
	t := &SemiSupervised{
		cfg:        cfg,
		ctx:        ctx,
		encoder:    encoder,
		classifier: classifier,
		selector:   NewSelector(Maximize, cfg.Patience),
	}
	t.unsupOptimizer = optimizers.Adam(UnsupOptimizerName).FromContext(ctx).
		Group("autoencoder", cfg.LearningRateUnsup, encoderScope, decoderScope).
		Done()
	t.supOptimizer = optimizers.Adam(SupOptimizerName).FromContext(ctx).
		Group("encoder_classifier", cfg.LearningRateSup, encoderScope, classifierScope).
		Done()
	t.unsupSchedule = optimizers.NewStepSchedule(ctx, t.unsupOptimizer)
	t.supSchedule = optimizers.NewStepSchedule(ctx, t.supOptimizer)
	t.unsupTrainer = NewEpochTrainer("unsup", backend, ctx, ReconstructionStrategy(encoder), t.unsupOptimizer)
	t.supTrainer = NewEpochTrainer("sup", backend, ctx, ClassificationStrategy(encoder, classifier), t.supOptimizer)
	return t, nil
}

// OnPhase attaches a hook called whenever the trainer enters a phase.
func (t *SemiSupervised) OnPhase(hook PhaseHook) { t.phaseHooks = append(t.phaseHooks, hook) }

// OnBatch attaches a hook to the batches of both the unsupervised and supervised trainers.
func (t *SemiSupervised) OnBatch(hook BatchHook) {
	t.unsupTrainer.OnBatch(hook)
	t.supTrainer.OnBatch(hook)
}

// Phase returns the current phase.
func (t *SemiSupervised) Phase() Phase { return t.phase }

func (t *SemiSupervised) enter(phase Phase, epoch int) error {
	t.phase = phase
	klog.V(2).Infof("epoch %d: %s", epoch, phase)
	for _, hook := range t.phaseHooks {
		if err := hook(phase, epoch); err != nil {
			return errors.WithMessagef(err, "OnPhase(%s, epoch %d)", phase, epoch)
		}
	}
	return nil
}

func (t *SemiSupervised) stepSchedules() {
	t.unsupSchedule.Step(t.ctx)
	t.supSchedule.Step(t.ctx)
}

// NumBatches returns the number of batches of each phase per epoch: the number of whole labeled
// batches, at least 1.
func (t *SemiSupervised) NumBatches(labeled data.Dataset) int {
	return max(1, labeled.Len()/t.cfg.BatchSize)
}

// Run trains on the unlabeled and labeled datasets, validating on valid (which must be labeled).
// If the Checkpointer resumed from a checkpoint, it continues from the epoch after the saved one.
func (t *SemiSupervised) Run(unlabeled, labeled, valid data.Dataset) (SemiSupervisedResult, error) {
	result := SemiSupervisedResult{BestEpoch: -1, LastEpoch: -1}
	if !labeled.HasLabels() || !valid.HasLabels() {
		return result, errors.Errorf("semi-supervised training requires labeled %q and validation %q datasets", labeled.Name(), valid.Name())
	}
	cfg := t.cfg
	unlabeledStream, err := data.NewBatchStream(unlabeled, cfg.BatchSize, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return result, err
	}
	labeledStream, err := data.NewBatchStream(labeled, cfg.BatchSize, rand.New(rand.NewSource(cfg.Seed+1)))
	if err != nil {
		return result, err
	}
	defer unlabeledStream.Prefetch(cfg.Prefetch).Close()
	defer labeledStream.Prefetch(cfg.Prefetch).Close()
	numBatches := t.NumBatches(labeled)

	epoch := 0
	if cfg.Checkpointer != nil && cfg.Checkpointer.Resumed() {
		state := cfg.Checkpointer.State()
		t.selector.Restore(state.Best, state.HasBest, state.Counter)
		epoch = state.Epoch + 1
		if state.HasBest {
			result.BestEpoch, result.BestF1 = state.Epoch, state.Best
		}
		klog.Infof("Resuming semi-supervised training at epoch %d, best validation F1 %.4f", epoch, state.Best)
	}
	t.unsupSchedule.SetSteps(t.ctx, epoch)
	t.supSchedule.SetSteps(t.ctx, epoch)

	var unsupResult, supResult, validUnsup, validSup EpochResult
	phase := UnsupPhase
	for phase != Stopped {
		if epoch >= cfg.Epochs {
			phase = Stopped
			break
		}
		if err = t.enter(phase, epoch); err != nil {
			return result, err
		}
		switch phase {
		case UnsupPhase:
			if !cfg.SchedulerStepAfterEpoch {
				t.stepSchedules()
			}
			unlabeledStream.Reset()
			unsupResult, err = t.unsupTrainer.TrainBatches(unlabeledStream, numBatches)
			phase = SupPhase

		case SupPhase:
			labeledStream.Reset()
			supResult, err = t.supTrainer.TrainBatches(labeledStream, numBatches)
			if cfg.SchedulerStepAfterEpoch {
				t.stepSchedules()
			}
			phase = Validate

		case Validate:
			validUnsup, err = t.unsupTrainer.Evaluate(valid, cfg.BatchSize)
			if err == nil {
				validSup, err = t.supTrainer.Evaluate(valid, cfg.BatchSize)
			}
			phase = CheckpointDecision

		case CheckpointDecision:
			epochMetrics := map[string]float64{
				"train_unsup_loss": unsupResult.Loss,
				"train_sup_loss":   supResult.Loss,
				"train_accuracy":   supResult.Accuracy,
				"train_f1":         supResult.F1,
				"valid_unsup_loss": validUnsup.Loss,
				"valid_sup_loss":   validSup.Loss,
				"valid_accuracy":   validSup.Accuracy,
				"valid_f1":         validSup.F1,
				"lr_unsup":         t.unsupOptimizer.LearningRate(t.ctx, "autoencoder"),
				"lr_sup":           t.supOptimizer.LearningRate(t.ctx, "encoder_classifier"),
			}
			LogMetrics(cfg.Observer, epochMetrics, epoch)
			klog.Infof("Epoch %d: unsup %s | sup %s | valid %s", epoch, unsupResult, supResult, validSup)

			result.LastEpoch = epoch
			decision := t.selector.Observe(validSup.F1)
			if decision.Improved {
				result.BestEpoch, result.BestF1 = epoch, validSup.F1
				if cfg.Checkpointer != nil {
					best, hasBest := t.selector.Best()
					state := TrainingState{Epoch: epoch, Best: best, HasBest: hasBest, Counter: t.selector.Counter()}
					if err = cfg.Checkpointer.Save(state, epochMetrics); err != nil {
						return result, err
					}
				}
			}
			if decision.Stop {
				klog.Infof("Validation F1 didn't improve for %d epochs, stopping at epoch %d", t.selector.Counter(), epoch)
				result.EarlyStopped = true
				phase = Stopped
				continue
			}
			epoch++
			phase = UnsupPhase
		}
		if err != nil {
			return result, errors.WithMessagef(err, "epoch %d, %s", epoch, t.phase)
		}
	}
	t.phase = Stopped
	return result, t.enter(Stopped, result.LastEpoch)
}

// Optimizers returns the unsupervised and supervised optimizers.
func (t *SemiSupervised) Optimizers() (unsup, sup *optimizers.AdamOptimizer) {
	return t.unsupOptimizer, t.supOptimizer
}

// Evaluate runs the classifier on ds and returns its loss, accuracy and F1.
func (t *SemiSupervised) Evaluate(ds data.Dataset) (EpochResult, error) {
	return t.supTrainer.Evaluate(ds, t.cfg.BatchSize)
}
