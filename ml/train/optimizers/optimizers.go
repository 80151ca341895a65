// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements the optimizers used by the horoma trainers.
//
// Optimizers work on parameter groups: each group selects the trainable variables under a set of
// context scopes and has its own learning rate, stored as a context variable so it can be changed
// from the host (see StepSchedule) without recompiling the training graph.
//
// Two optimizers can share variables (the semi-supervised trainer updates the encoder with both):
// each optimizer keeps its own moments and step counter under its own scope.
package optimizers

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Interface implemented by the optimizers.
type Interface interface {
	// UpdateGraph builds the graph that updates the variables of the optimizer's groups, given the loss.
	UpdateGraph(ctx *context.Context, g *Graph, loss *Node)

	// Groups returns the parameter groups handled by the optimizer.
	Groups() []ParamGroup

	// SetLearningRate changes the learning rate of the group, from the host.
	SetLearningRate(ctx *context.Context, group string, value float64)

	// LearningRate returns the current learning rate of the group.
	LearningRate(ctx *context.Context, group string) float64
}

const (
	// Scope under which all optimizers keep their state.
	Scope = "optimizers"

	// GlobalStepVariableName is the name of the counter of update steps, one per optimizer.
	GlobalStepVariableName = "global_step"

	// LearningRateVariableName is the prefix of the learning rate variables, one per group.
	LearningRateVariableName = "learning_rate"
)

// ParamGroup selects the trainable variables under Scopes (absolute context scopes, e.g.
// "/autoencoder/encoder"), which are updated with LearningRate.
type ParamGroup struct {
	Name         string
	Scopes       []string
	LearningRate float64
}

// Matches returns whether the variable scope is one of the group's scopes or a sub-scope of one.
func (pg ParamGroup) Matches(varScope string) bool {
	for _, scope := range pg.Scopes {
		scope = strings.TrimSuffix(scope, context.ScopeSeparator)
		if scope == "" || varScope == scope || strings.HasPrefix(varScope, scope+context.ScopeSeparator) {
			return true
		}
	}
	return false
}

// stateContext returns the context where the optimizer named optimizerName keeps its state.
func stateContext(ctx *context.Context, optimizerName string) *context.Context {
	return ctx.Checked(false).InAbsPath(fmt.Sprintf("%s%s%s%s", context.ScopeSeparator, Scope, context.ScopeSeparator, optimizerName))
}

// GlobalStepVar returns the step counter variable of the named optimizer, creating it if needed.
func GlobalStepVar(ctx *context.Context, optimizerName string) *context.Variable {
	return stateContext(ctx, optimizerName).VariableWithValue(GlobalStepVariableName, int64(0)).SetTrainable(false)
}

// GlobalStep returns the number of update steps taken by the named optimizer.
func GlobalStep(ctx *context.Context, optimizerName string) int64 {
	v, ok := GlobalStepVar(ctx, optimizerName).Value().Value().(int64)
	if !ok {
		exceptions.Panicf("optimizer %q: global step variable is not an int64", optimizerName)
	}
	return v
}

// IncrementGlobalStepGraph increments the step counter of the named optimizer and returns its new value
// converted to dtype.
func IncrementGlobalStepGraph(ctx *context.Context, optimizerName string, g *Graph, dtype dtypes.DType) *Node {
	stepVar := GlobalStepVar(ctx, optimizerName)
	step := AddScalar(stepVar.ValueGraph(g), 1)
	stepVar.SetValueGraph(step)
	if dtype != step.DType() {
		step = ConvertDType(step, dtype)
	}
	return step
}

// LearningRateVar returns the learning rate variable of a group of the named optimizer. If it doesn't
// exist yet it is created with the given initial value.
func LearningRateVar(ctx *context.Context, optimizerName, group string, dtype dtypes.DType, initialValue float64) *context.Variable {
	name := fmt.Sprintf("%s_%s", LearningRateVariableName, group)
	return stateContext(ctx, optimizerName).
		VariableWithValue(name, shapes.CastAsDType(initialValue, dtype)).
		SetTrainable(false)
}

// setLearningRateVar sets the value of the learning rate variable from the host.
func setLearningRateVar(v *context.Variable, value float64) {
	v.SetValue(tensors.FromAnyValue(shapes.CastAsDType(value, v.Shape().DType)))
}

// learningRateValue reads the learning rate variable from the host.
func learningRateValue(v *context.Variable) float64 {
	switch value := v.Value().Value().(type) {
	case float32:
		return float64(value)
	case float64:
		return value
	}
	exceptions.Panicf("learning rate variable %q has unsupported dtype %s", v.Name(), v.Shape().DType)
	return 0
}

// groupVariables enumerates the trainable variables used by g that belong to one of the groups, and
// returns for each one the index of its group. A variable matching more than one group belongs to the
// first one.
func groupVariables(ctx *context.Context, g *Graph, groups []ParamGroup) (vars []*context.Variable, groupIdx []int) {
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || !v.InUseByGraph(g) {
			return
		}
		for ii, group := range groups {
			if group.Matches(v.Scope()) {
				vars = append(vars, v)
				groupIdx = append(groupIdx, ii)
				return
			}
		}
	})
	return
}
