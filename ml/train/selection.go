// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"math"
)

// SelectionMode tells whether larger or smaller metric values are better.
type SelectionMode int

const (
	Maximize SelectionMode = iota
	Minimize
)

func (m SelectionMode) String() string {
	if m == Minimize {
		return "Minimize"
	}
	return "Maximize"
}

// Decision returned by Selector.Observe.
type Decision struct {
	// Improved is true if the value observed is strictly better than the best so far: the model
	// should be saved.
	Improved bool

	// Stop is true if the patience ran out.
	Stop bool
}

// Selector implements best-model selection with early stopping.
//
// Every strictly improved value resets the patience counter, any other value increments it, and
// once the counter reaches Patience training should stop. Non-finite values are worse than any finite
// value. A Patience <= 0 never stops.
type Selector struct {
	Mode     SelectionMode
	Patience int

	best    float64
	hasBest bool
	counter int
}

// NewSelector creates a Selector.
func NewSelector(mode SelectionMode, patience int) *Selector {
	return &Selector{Mode: mode, Patience: patience}
}

// better reports whether a is strictly better than b.
func (s *Selector) better(a, b float64) bool {
	aFinite := !math.IsNaN(a) && !math.IsInf(a, 0)
	bFinite := !math.IsNaN(b) && !math.IsInf(b, 0)
	if !aFinite {
		return false
	}
	if !bFinite {
		return true
	}
	if s.Mode == Minimize {
		return a < b
	}
	return a > b
}

// Observe a new value, and returns whether it improved and whether to stop.
func (s *Selector) Observe(value float64) Decision {
	var d Decision
	if !s.hasBest || s.better(value, s.best) {
		if !s.hasBest && (math.IsNaN(value) || math.IsInf(value, 0)) {
			// First value ever, but non-finite: count it as a non-improvement.
			s.counter++
		} else {
			s.best, s.hasBest = value, true
			s.counter = 0
			d.Improved = true
		}
	} else {
		s.counter++
	}
	d.Stop = s.Patience > 0 && s.counter >= s.Patience
	return d
}

// Best returns the best value observed so far, and whether there is one.
func (s *Selector) Best() (float64, bool) { return s.best, s.hasBest }

// Counter returns the number of consecutive non-improving observations.
func (s *Selector) Counter() int { return s.counter }

// Restore the selector state, used when resuming from a checkpoint.
func (s *Selector) Restore(best float64, hasBest bool, counter int) {
	s.best, s.hasBest, s.counter = best, hasBest, counter
}

func (s *Selector) String() string {
	return fmt.Sprintf("Selector(%s, best=%g, patience %d/%d)", s.Mode, s.best, s.counter, s.Patience)
}
