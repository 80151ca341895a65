// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/stretchr/testify/assert"
)

func TestSeededContext(t *testing.T) {
	ctx := SeededContext(context.New(), 7)
	assert.Equal(t, int64(7), context.GetParamOr(ctx, initializers.ParamInitialSeed, int64(initializers.NoSeed)))

	// Zero is a valid seed, not a request for clock seeding.
	ctx = SeededContext(context.New(), 0)
	assert.Equal(t, int64(math.MinInt64), context.GetParamOr(ctx, initializers.ParamInitialSeed, int64(initializers.NoSeed)))
}
