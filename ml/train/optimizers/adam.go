// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	AdamDefaultLearningRate = 0.001

	// ParamAdamEpsilon is the context parameter for Adam's epsilon.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamBeta1 and ParamAdamBeta2 are the context parameters for the moment decay rates.
	ParamAdamBeta1 = "adam_beta1"
	ParamAdamBeta2 = "adam_beta2"
)

// AdamConfig configures an Adam optimizer. Create it with Adam, and finish with Done.
type AdamConfig struct {
	name         string
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64
	groups       []ParamGroup
}

// Adam creates the configuration of an Adam optimizer with the given name. The name identifies where
// the optimizer state is stored in the context, so two optimizers in the same context must have
// different names.
//
// See "Adam: A Method for Stochastic Optimization", https://arxiv.org/abs/1412.6980
func Adam(name string) *AdamConfig {
	return &AdamConfig{
		name:    name,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
	}
}

// FromContext reads the betas and epsilon from the context parameters, if set.
func (c *AdamConfig) FromContext(ctx *context.Context) *AdamConfig {
	c.beta1 = context.GetParamOr(ctx, ParamAdamBeta1, c.beta1)
	c.beta2 = context.GetParamOr(ctx, ParamAdamBeta2, c.beta2)
	c.epsilon = context.GetParamOr(ctx, ParamAdamEpsilon, c.epsilon)
	return c
}

// Betas sets the decay rates of the first and second moments.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon sets the value added to the denominator for numerical stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// WeightDecay turns the optimizer into AdamW.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// Group adds a parameter group.
func (c *AdamConfig) Group(name string, learningRate float64, scopes ...string) *AdamConfig {
	c.groups = append(c.groups, ParamGroup{Name: name, Scopes: scopes, LearningRate: learningRate})
	return c
}

// Done returns the configured optimizer. It panics if no group was configured or if group names repeat.
func (c *AdamConfig) Done() *AdamOptimizer {
	if len(c.groups) == 0 {
		exceptions.Panicf("optimizer %q has no parameter groups", c.name)
	}
	seen := make(map[string]bool)
	for _, group := range c.groups {
		if seen[group.Name] {
			exceptions.Panicf("optimizer %q: parameter group %q defined more than once", c.name, group.Name)
		}
		seen[group.Name] = true
	}
	return &AdamOptimizer{config: c}
}

// AdamOptimizer implements Interface. Create it with Adam.
type AdamOptimizer struct {
	config *AdamConfig
}

var _ Interface = (*AdamOptimizer)(nil)

// Name of the optimizer.
func (o *AdamOptimizer) Name() string { return o.config.name }

// Groups implements Interface.
func (o *AdamOptimizer) Groups() []ParamGroup { return o.config.groups }

func (o *AdamOptimizer) group(name string) ParamGroup {
	for _, group := range o.config.groups {
		if group.Name == name {
			return group
		}
	}
	names := make([]string, 0, len(o.config.groups))
	for _, group := range o.config.groups {
		names = append(names, group.Name)
	}
	exceptions.Panicf("optimizer %q has no parameter group %q, groups are %q", o.config.name, name, names)
	return ParamGroup{}
}

func (o *AdamOptimizer) learningRateVar(ctx *context.Context, group ParamGroup) *context.Variable {
	return LearningRateVar(ctx, o.config.name, group.Name, dtypes.Float32, group.LearningRate)
}

// SetLearningRate implements Interface.
func (o *AdamOptimizer) SetLearningRate(ctx *context.Context, group string, value float64) {
	setLearningRateVar(o.learningRateVar(ctx, o.group(group)), value)
}

// LearningRate implements Interface.
func (o *AdamOptimizer) LearningRate(ctx *context.Context, group string) float64 {
	return learningRateValue(o.learningRateVar(ctx, o.group(group)))
}

// UpdateGraph implements Interface.
func (o *AdamOptimizer) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		exceptions.Panicf("optimizer %q requires a scalar loss to optimize, got loss.shape=%s instead", o.config.name, loss.Shape())
	}
	dtype := loss.DType()
	vars, groupIdx := groupVariables(ctx, g, o.config.groups)
	if len(vars) == 0 {
		exceptions.Panicf("optimizer %q: no trainable variables in scopes %v are used by the graph", o.config.name, o.config.groups)
	}
	values := make([]*Node, len(vars))
	for ii, v := range vars {
		values[ii] = v.ValueGraph(g)
	}
	grads := Gradient(loss, values...)

	step := IncrementGlobalStepGraph(ctx, o.config.name, g, dtype)
	beta1 := Scalar(g, dtype, o.config.beta1)
	beta2 := Scalar(g, dtype, o.config.beta2)
	debiasTermBeta1 := Inverse(OneMinus(Pow(beta1, step)))
	debiasTermBeta2 := Inverse(OneMinus(Pow(beta2, step)))
	epsilon := Scalar(g, dtype, o.config.epsilon)

	learningRates := make([]*Node, len(o.config.groups))
	for ii, group := range o.config.groups {
		lr := o.learningRateVar(ctx, group).ValueGraph(g)
		if lr.DType() != dtype {
			lr = ConvertDType(lr, dtype)
		}
		learningRates[ii] = lr
	}

	for ii, v := range vars {
		grad := grads[ii]
		if grad.DType() != dtype {
			exceptions.Panicf("optimizer %q: variable %q has dtype %s, but loss has dtype %s", o.config.name, v.Scope()+context.ScopeSeparator+v.Name(), grad.DType(), dtype)
		}
		m1Var, m2Var := o.momentVariables(ctx, v)
		moment1 := Add(Mul(beta1, m1Var.ValueGraph(g)), Mul(OneMinus(beta1), grad))
		m1Var.SetValueGraph(moment1)
		moment2 := Add(Mul(beta2, m2Var.ValueGraph(g)), Mul(OneMinus(beta2), Square(grad)))
		m2Var.SetValueGraph(moment2)

		direction := Div(Mul(moment1, debiasTermBeta1), Add(Sqrt(Mul(moment2, debiasTermBeta2)), epsilon))
		value := values[ii]
		if o.config.weightDecay > 0 {
			direction = Add(direction, MulScalar(value, o.config.weightDecay))
		}
		v.SetValueGraph(Sub(value, Mul(learningRates[groupIdx[ii]], direction)))
	}
}

// statePath is the absolute scope of the optimizer state.
func (o *AdamOptimizer) statePath() string {
	return fmt.Sprintf("%s%s%s%s", context.ScopeSeparator, Scope, context.ScopeSeparator, o.config.name)
}

// momentVariables returns the first and second moment variables of the trainable variable, stored
// under the optimizer scope followed by the variable's own scope.
func (o *AdamOptimizer) momentVariables(ctx *context.Context, trainable *context.Variable) (m1, m2 *context.Variable) {
	momentCtx := ctx.Checked(false).InAbsPath(o.statePath() + trainable.Scope()).WithInitializer(initializers.Zero)
	shape := trainable.Shape()
	m1 = momentCtx.VariableWithShape(trainable.Name()+"_1st_moment", shape).SetTrainable(false)
	m2 = momentCtx.VariableWithShape(trainable.Name()+"_2nd_moment", shape).SetTrainable(false)
	return
}

// Clear resets the optimizer state: moments and the step counter are zeroed, and the learning rates
// are set back to the groups' initial values.
func (o *AdamOptimizer) Clear(ctx *context.Context) {
	statePath := o.statePath()
	isState := ParamGroup{Scopes: []string{statePath}}
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !isState.Matches(v.Scope()) {
			return
		}
		if v.Scope() == statePath && v.Name() != GlobalStepVariableName {
			return // Learning rates.
		}
		v.SetValue(tensors.FromShape(v.Shape()))
	})
	for _, group := range o.config.groups {
		o.SetLearningRate(ctx, group.Name, group.LearningRate)
	}
}
