// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectorSequence(t *testing.T) {
	s := NewSelector(Maximize, 2)
	var saved []int
	stoppedAt := -1
	for step, f1 := range []float64{0.5, 0.6, 0.55, 0.55, 0.55} {
		d := s.Observe(f1)
		if d.Improved {
			saved = append(saved, step)
		}
		if d.Stop {
			stoppedAt = step
			break
		}
	}
	assert.Equal(t, []int{0, 1}, saved)
	assert.Equal(t, 3, stoppedAt)
	best, ok := s.Best()
	assert.True(t, ok)
	assert.Equal(t, 0.6, best)
}

func TestSelectorNonFinite(t *testing.T) {
	s := NewSelector(Minimize, 0)
	assert.False(t, s.Observe(math.NaN()).Improved)
	_, ok := s.Best()
	assert.False(t, ok)
	assert.True(t, s.Observe(100).Improved)
	assert.False(t, s.Observe(math.Inf(-1)).Improved)
	assert.False(t, s.Observe(math.NaN()).Improved)
	assert.True(t, s.Observe(99).Improved)
	assert.False(t, s.Observe(99).Improved, "equal values are not an improvement")
	assert.Equal(t, 1, s.Counter())
	assert.False(t, s.Observe(1000).Stop, "patience 0 never stops")
}

func TestSelectorRestore(t *testing.T) {
	s := NewSelector(Maximize, 3)
	s.Restore(0.7, true, 2)
	assert.True(t, s.Observe(0.69).Stop)
	s.Restore(0.7, true, 2)
	d := s.Observe(0.71)
	assert.True(t, d.Improved)
	assert.False(t, d.Stop)
	assert.Equal(t, 0, s.Counter())
}
