// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"testing"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/assert"
)

// lrDelta is the tolerance on learning rates, which are stored as float32 variables.
const lrDelta = 1e-6

func TestStepSchedule(t *testing.T) {
	ctx := context.New()
	opt := Adam("sup").Group("encoder", 0.01, "/encoder").Group("classifier", 0.1, "/classifier").Done()
	schedule := NewStepSchedule(ctx, opt)
	assert.Equal(t, 1.0, schedule.Factor(9))
	assert.Equal(t, 0.5, schedule.Factor(10))
	assert.Equal(t, 0.25, schedule.Factor(25))

	for range 9 {
		schedule.Step(ctx)
	}
	assert.InDelta(t, 0.01, opt.LearningRate(ctx, "encoder"), lrDelta)
	assert.InDelta(t, 0.1, opt.LearningRate(ctx, "classifier"), lrDelta)
	schedule.Step(ctx)
	assert.Equal(t, 10, schedule.Steps())
	assert.InDelta(t, 0.005, opt.LearningRate(ctx, "encoder"), lrDelta)
	assert.InDelta(t, 0.05, opt.LearningRate(ctx, "classifier"), lrDelta)

	// Resuming sets the position directly.
	schedule.SetSteps(ctx, 20)
	assert.InDelta(t, 0.025, opt.LearningRate(ctx, "classifier"), lrDelta)
}

func TestStepScheduleFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{ParamStepScheduleSize: 2, ParamStepScheduleGamma: 0.1})
	opt := Adam("unsup").Group("autoencoder", 1.0, "/autoencoder").Done()
	schedule := NewStepSchedule(ctx, opt)
	schedule.Step(ctx)
	schedule.Step(ctx)
	assert.InDelta(t, 0.1, opt.LearningRate(ctx, "autoencoder"), lrDelta)
	assert.Panics(t, func() { schedule.StepSize(0) })
}
