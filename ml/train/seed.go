// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"math"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
)

// SeededContext returns ctx with its random number generator and its variable initializer seeded
// from seed, so two runs with the same seed start from the same parameters.
//
// The initializer is built from the seed when this is called: the default one of context.New is
// seeded from the clock.
func SeededContext(ctx *context.Context, seed int64) *context.Context {
	ctx.RngStateFromSeed(seed)
	initSeed := seed
	if initSeed == initializers.NoSeed {
		// NoSeed would mean "seed from the clock".
		initSeed = math.MinInt64
	}
	ctx.SetParam(initializers.ParamInitialSeed, initSeed)
	return ctx.WithInitializer(initializers.GlorotUniformFn(ctx))
}
