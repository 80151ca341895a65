// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
	"k8s.io/klog/v2"
)

var (
	// ParamStepScheduleSize is the context parameter with the number of epochs between learning rate decays.
	ParamStepScheduleSize = "lr_step_size"

	// ParamStepScheduleGamma is the context parameter with the multiplicative decay factor.
	ParamStepScheduleGamma = "lr_gamma"
)

const (
	StepScheduleDefaultSize  = 10
	StepScheduleDefaultGamma = 0.5
)

// StepSchedule decays the learning rates of all groups of an optimizer by Gamma every StepSize
// calls to Step (usually once per epoch). After k calls to Step, the learning rate of a group is
//
//	initial * Gamma^floor(k / StepSize)
//
// The learning rates are context variables, so the schedule runs on the host and the compiled training
// graphs don't change.
type StepSchedule struct {
	optimizer Interface
	stepSize  int
	gamma     float64
	steps     int
}

// NewStepSchedule creates a StepSchedule for the optimizer, with StepScheduleDefaultSize and
// StepScheduleDefaultGamma, or their values in the context parameters if set.
func NewStepSchedule(ctx *context.Context, optimizer Interface) *StepSchedule {
	return &StepSchedule{
		optimizer: optimizer,
		stepSize:  context.GetParamOr(ctx, ParamStepScheduleSize, StepScheduleDefaultSize),
		gamma:     context.GetParamOr(ctx, ParamStepScheduleGamma, StepScheduleDefaultGamma),
	}
}

// StepSize sets the number of steps between decays.
func (s *StepSchedule) StepSize(stepSize int) *StepSchedule {
	if stepSize <= 0 {
		exceptions.Panicf("StepSchedule.StepSize must be > 0, got %d", stepSize)
	}
	s.stepSize = stepSize
	return s
}

// Gamma sets the multiplicative decay factor.
func (s *StepSchedule) Gamma(gamma float64) *StepSchedule {
	s.gamma = gamma
	return s
}

// Steps returns the number of times Step was called.
func (s *StepSchedule) Steps() int { return s.steps }

// Factor returns the multiplier applied to the initial learning rates after the given number of steps.
func (s *StepSchedule) Factor(steps int) float64 {
	return math.Pow(s.gamma, float64(steps/s.stepSize))
}

// Step advances the schedule by one and updates the learning rate variables of the optimizer.
func (s *StepSchedule) Step(ctx *context.Context) {
	s.SetSteps(ctx, s.steps+1)
}

// SetSteps sets the schedule position, for instance when resuming from a checkpoint, and updates the
// learning rate variables of the optimizer.
func (s *StepSchedule) SetSteps(ctx *context.Context, steps int) {
	previous := s.Factor(s.steps)
	s.steps = steps
	factor := s.Factor(steps)
	for _, group := range s.optimizer.Groups() {
		s.optimizer.SetLearningRate(ctx, group.Name, group.LearningRate*factor)
	}
	if factor != previous {
		klog.V(1).Infof("learning rates scaled by %g after %d steps", factor, steps)
	}
}
