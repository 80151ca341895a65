// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics accumulates classification results over a pass and computes accuracy and F1 scores.
package metrics

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

const (
	LossMetricType     = "loss"
	AccuracyMetricType = "accuracy"
	F1MetricType       = "f1"
)

// Aggregator accumulates true and predicted labels across the batches of a pass.
//
// Labels are expected in [0, numClasses): the trainers clamp them before they get here.
type Aggregator struct {
	numClasses int
	confusion  [][]int64 // confusion[true][predicted]
	count      int64
}

// NewAggregator creates an empty Aggregator for numClasses classes.
func NewAggregator(numClasses int) *Aggregator {
	a := &Aggregator{numClasses: numClasses}
	a.Reset()
	return a
}

// Reset clears the accumulated results.
func (a *Aggregator) Reset() {
	a.confusion = make([][]int64, a.numClasses)
	for ii := range a.confusion {
		a.confusion[ii] = make([]int64, a.numClasses)
	}
	a.count = 0
}

// Add accumulates one batch of results.
func (a *Aggregator) Add(trueLabels, predictedLabels []int32) {
	if len(trueLabels) != len(predictedLabels) {
		exceptions.Panicf("metrics.Aggregator.Add: %d true labels, but %d predictions", len(trueLabels), len(predictedLabels))
	}
	for ii, trueLabel := range trueLabels {
		predicted := predictedLabels[ii]
		if trueLabel < 0 || int(trueLabel) >= a.numClasses || predicted < 0 || int(predicted) >= a.numClasses {
			exceptions.Panicf("metrics.Aggregator.Add: label %d or prediction %d out of range [0, %d)", trueLabel, predicted, a.numClasses)
		}
		a.confusion[trueLabel][predicted]++
	}
	a.count += int64(len(trueLabels))
}

// Count returns the number of examples accumulated.
func (a *Aggregator) Count() int64 { return a.count }

// Confusion returns the confusion matrix, indexed [true][predicted]. It must not be modified.
func (a *Aggregator) Confusion() [][]int64 { return a.confusion }

// Accuracy returns the fraction of correct predictions, or 0 if nothing was accumulated.
func (a *Aggregator) Accuracy() float64 {
	if a.count == 0 {
		return 0
	}
	var correct int64
	for c := range a.numClasses {
		correct += a.confusion[c][c]
	}
	return float64(correct) / float64(a.count)
}

// perClassF1 returns the F1 score and the support (number of true examples) of each class.
// Classes without predictions or without examples have precision or recall 0.
func (a *Aggregator) perClassF1() (f1 []float64, support []int64) {
	f1 = make([]float64, a.numClasses)
	support = make([]int64, a.numClasses)
	predicted := make([]int64, a.numClasses)
	for trueLabel, row := range a.confusion {
		for predictedLabel, count := range row {
			support[trueLabel] += count
			predicted[predictedLabel] += count
		}
	}
	for c := range a.numClasses {
		tp := float64(a.confusion[c][c])
		if tp == 0 {
			continue
		}
		precision := tp / float64(predicted[c])
		recall := tp / float64(support[c])
		f1[c] = 2 * precision * recall / (precision + recall)
	}
	return
}

// F1 returns the support-weighted average of the per-class F1 scores.
// This is the model selection metric of the semi-supervised trainer.
func (a *Aggregator) F1() float64 {
	if a.count == 0 {
		return 0
	}
	f1, support := a.perClassF1()
	var sum float64
	for c, score := range f1 {
		sum += score * float64(support[c])
	}
	return sum / float64(a.count)
}

// MacroF1 returns the unweighted mean of the F1 scores of the classes that appear either as
// true labels or as predictions.
func (a *Aggregator) MacroF1() float64 {
	f1, support := a.perClassF1()
	var sum float64
	var numPresent int
	for c, score := range f1 {
		present := support[c] > 0
		for t := range a.numClasses {
			present = present || a.confusion[t][c] > 0
		}
		if present {
			sum += score
			numPresent++
		}
	}
	if numPresent == 0 {
		return 0
	}
	return sum / float64(numPresent)
}

// String summarizes the accumulated metrics.
func (a *Aggregator) String() string {
	return fmt.Sprintf("accuracy=%.3f f1=%.3f macro-f1=%.3f (n=%d)", a.Accuracy(), a.F1(), a.MacroF1(), a.count)
}
