// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"maps"
	"os"
	"path"
	"slices"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/horoma/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainingStateScope is the absolute scope of the variables holding the training loop state, saved
// along with the model.
const TrainingStateScope = "/training_state"

// TrainingState is the part of the training loop persisted with the checkpoints.
type TrainingState struct {
	// Epoch of the saved model.
	Epoch int

	// Best metric value so far, valid if HasBest.
	Best    float64
	HasBest bool

	// Counter of epochs without improvement.
	Counter int
}

// Checkpointer persists the best model: every variable of the context (models, optimizer moments,
// step counters and learning rates) and the training state. Only the last saved checkpoint is kept.
type Checkpointer struct {
	ctx     *context.Context
	dir     string
	handler *checkpoints.Handler
	resumed bool
}

// NewCheckpointer creates a checkpointer on baseDir/name. baseDir must exist, name is created as
// needed. If the directory already holds a checkpoint, it is loaded into ctx: variables get the saved
// values as they are created, and State returns the saved training state.
//
// Context parameters are saved along and restored on resume, except those listed in excludeParams:
// usually the ones set in the command line.
func NewCheckpointer(ctx *context.Context, baseDir, name string, excludeParams ...string) (*Checkpointer, error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	if fi, err := os.Stat(baseDir); err != nil || !fi.IsDir() {
		if err == nil {
			err = errors.Errorf("%q is not a directory", baseDir)
		}
		return nil, errors.Wrapf(err, "checkpoints base directory %q not found: launch the program from the repository root, or set -checkpoints", baseDir)
	}
	dir := path.Join(baseDir, name)
	handler, err := checkpoints.Build(ctx).Dir(dir).Keep(1).ExcludeParams(excludeParams...).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "creating checkpoints handler on %q", dir)
	}
	hasCheckpoints, err := handler.HasCheckpoints()
	if err != nil {
		return nil, errors.WithMessagef(err, "listing checkpoints in %q", dir)
	}
	c := &Checkpointer{ctx: ctx, dir: dir, handler: handler, resumed: hasCheckpoints}
	if hasCheckpoints {
		klog.Infof("Resuming from checkpoint in %q", dir)
	}
	return c, nil
}

// Dir where checkpoints are stored.
func (c *Checkpointer) Dir() string { return c.dir }

// Resumed reports whether a previous checkpoint was loaded.
func (c *Checkpointer) Resumed() bool { return c.resumed }

func (c *Checkpointer) stateVar(name string, initial any) *context.Variable {
	v := c.ctx.InAbsPath(TrainingStateScope).Checked(false).VariableWithValue(name, initial)
	v.SetTrainable(false)
	return v
}

// State returns the training state, the zero state if no checkpoint was loaded.
func (c *Checkpointer) State() TrainingState {
	return TrainingState{
		Epoch:   int(tensors.ToScalar[int64](c.stateVar("epoch", int64(0)).Value())),
		Best:    tensors.ToScalar[float64](c.stateVar("best_metric", float64(0)).Value()),
		HasBest: tensors.ToScalar[int64](c.stateVar("has_best", int64(0)).Value()) != 0,
		Counter: int(tensors.ToScalar[int64](c.stateVar("patience_counter", int64(0)).Value())),
	}
}

// Metric returns the saved value of a metric, and whether it was saved.
func (c *Checkpointer) Metric(name string) (float64, bool) {
	varName := "metric_" + name
	_, loaded := c.handler.LoadedVariables()[TrainingStateScope+context.ScopeSeparator+varName]
	if !loaded && c.ctx.GetVariableByScopeAndName(TrainingStateScope, varName) == nil {
		return 0, false
	}
	return tensors.ToScalar[float64](c.stateVar(varName, float64(0)).Value()), true
}

// Save persists the current context with the given training state and epoch metrics.
func (c *Checkpointer) Save(state TrainingState, epochMetrics map[string]float64) error {
	hasBest := int64(0)
	if state.HasBest {
		hasBest = 1
	}
	c.stateVar("epoch", int64(0)).SetValue(tensors.FromScalar(int64(state.Epoch)))
	c.stateVar("best_metric", float64(0)).SetValue(tensors.FromScalar(state.Best))
	c.stateVar("has_best", int64(0)).SetValue(tensors.FromScalar(hasBest))
	c.stateVar("patience_counter", int64(0)).SetValue(tensors.FromScalar(int64(state.Counter)))
	for _, name := range slices.Sorted(maps.Keys(epochMetrics)) {
		c.stateVar("metric_"+name, float64(0)).SetValue(tensors.FromScalar(epochMetrics[name]))
	}
	if err := c.handler.Save(); err != nil {
		return errors.WithMessagef(err, "saving checkpoint to %q", c.dir)
	}
	klog.V(1).Infof("Checkpoint saved to %q at epoch %d", c.dir, state.Epoch)
	return nil
}
