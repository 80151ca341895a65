// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"golang.org/x/exp/constraints"
)

const (
	// NumClasses is the size of the classifier output: 16 tree species plus one "unknown" bucket.
	NumClasses = 17

	// UnknownClass is the bucket where out-of-range labels are collapsed.
	UnknownClass = NumClasses - 1
)

// ClampLabel maps labels outside [0, UnknownClass] to UnknownClass. Labels in range are kept.
//
// E.g.: -5 -> 16, 99 -> 16, 7 -> 7.
func ClampLabel[T constraints.Integer](label T) int32 {
	if label < 0 || int64(label) > UnknownClass {
		return UnknownClass
	}
	return int32(label)
}

// ClampLabels applies ClampLabel to every label, returning a new slice.
func ClampLabels[T constraints.Integer](labels []T) []int32 {
	clamped := make([]int32, len(labels))
	for ii, label := range labels {
		clamped[ii] = ClampLabel(label)
	}
	return clamped
}

// ClampLabelsGraph is the graph version of ClampLabel.
func ClampLabelsGraph(labels *Node) *Node {
	if !labels.DType().IsInt() {
		exceptions.Panicf("ClampLabelsGraph: labels must be integers, got %s", labels.Shape())
	}
	g := labels.Graph()
	dtype := labels.DType()
	outOfRange := LogicalOr(
		LessThan(labels, ScalarZero(g, dtype)),
		GreaterThan(labels, Scalar(g, dtype, UnknownClass)))
	unknown := BroadcastToShape(Scalar(g, dtype, UnknownClass), labels.Shape())
	return Where(outOfRange, unknown, labels)
}

// SparseCrossEntropySum returns the cross-entropy of the logits given integer labels, summed over
// the batch. Labels are shaped [batch_size, 1] (or [batch_size]) and are clamped with
// ClampLabelsGraph first. Logits are shaped [batch_size, numClasses].
func SparseCrossEntropySum(labels, logits *Node) *Node {
	if logits.Rank() != 2 {
		exceptions.Panicf("SparseCrossEntropySum: logits must be shaped [batch_size, num_classes], got %s", logits.Shape())
	}
	batchSize, numClasses := logits.Shape().Dimensions[0], logits.Shape().Dimensions[1]
	if labels.Shape().Size() != batchSize {
		exceptions.Panicf("SparseCrossEntropySum: labels (%s) don't match the batch size of the logits (%s)",
			labels.Shape(), logits.Shape())
	}
	labels = ClampLabelsGraph(Reshape(labels, batchSize))
	oneHot := OneHot(labels, numClasses, logits.DType())
	logProbs := LogSoftmax(logits, -1)
	return Neg(ReduceAllSum(Mul(oneHot, logProbs)))
}

// PredictedLabels returns the argmax of the logits as Int32, shaped [batch_size].
func PredictedLabels(logits *Node) *Node {
	return ArgMax(logits, -1)
}
