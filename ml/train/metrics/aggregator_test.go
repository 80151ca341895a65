// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator(t *testing.T) {
	a := NewAggregator(3)
	assert.Equal(t, 0.0, a.Accuracy())
	assert.Equal(t, 0.0, a.F1())

	// Added in two batches, to check accumulation.
	a.Add([]int32{0, 0, 1}, []int32{0, 1, 1})
	a.Add([]int32{2, 2}, []int32{2, 0})
	require.Equal(t, int64(5), a.Count())
	assert.InDelta(t, 3.0/5.0, a.Accuracy(), 1e-9)

	// Class 0: tp=1, predicted=2, support=2 -> p=0.5, r=0.5, f1=0.5
	// Class 1: tp=1, predicted=2, support=1 -> p=0.5, r=1, f1=2/3
	// Class 2: tp=1, predicted=1, support=2 -> p=1, r=0.5, f1=2/3
	wantWeighted := (0.5*2 + 2.0/3.0*1 + 2.0/3.0*2) / 5.0
	assert.InDelta(t, wantWeighted, a.F1(), 1e-9)
	assert.InDelta(t, (0.5+2.0/3.0+2.0/3.0)/3.0, a.MacroF1(), 1e-9)
	assert.Equal(t, int64(1), a.Confusion()[2][0])

	a.Reset()
	assert.Equal(t, int64(0), a.Count())
	assert.Equal(t, 0.0, a.Accuracy())
}

func TestAggregatorPerfect(t *testing.T) {
	a := NewAggregator(17)
	labels := []int32{0, 3, 16, 16, 7}
	a.Add(labels, labels)
	assert.Equal(t, 1.0, a.Accuracy())
	assert.InDelta(t, 1.0, a.F1(), 1e-12)
	assert.InDelta(t, 1.0, a.MacroF1(), 1e-12)
}

func TestAggregatorPanics(t *testing.T) {
	a := NewAggregator(2)
	assert.Panics(t, func() { a.Add([]int32{0}, []int32{0, 1}) })
	assert.Panics(t, func() { a.Add([]int32{2}, []int32{0}) })
}
