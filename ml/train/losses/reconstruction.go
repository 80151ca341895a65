// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses implements the losses used by the horoma trainers: reconstruction and variational
// losses for the autoencoders, cross-entropy for the classifier and the mixture-of-autoencoders
// (DAMIC) log-likelihood.
//
// Unless stated otherwise, losses are summed (not averaged) over the batch: the trainers normalize by
// the number of examples at the end of an epoch, so values are comparable across batch sizes.
package losses

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/xslices"
)

// checkSameShape panics if the two nodes have different shapes.
func checkSameShape(fnName string, labels, predictions *Node) {
	if !labels.Shape().Equal(predictions.Shape()) {
		exceptions.Panicf("%s: inputs (%s) and reconstruction (%s) must have the same shape",
			fnName, labels.Shape(), predictions.Shape())
	}
}

// nonBatchAxes returns the axes of x except the first (batch) axis.
func nonBatchAxes(x *Node) []int {
	return xslices.Iota(1, x.Rank()-1)
}

// SumSquaredError returns the sum over all elements of the batch of the squared difference between
// the inputs and their reconstruction. It returns a scalar.
func SumSquaredError(inputs, reconstruction *Node) *Node {
	checkSameShape("SumSquaredError", inputs, reconstruction)
	return ReduceAllSum(Square(Sub(reconstruction, inputs)))
}

// MeanSquaredError returns the mean over all elements of the squared difference between the inputs
// and their reconstruction. It returns a scalar.
func MeanSquaredError(inputs, reconstruction *Node) *Node {
	checkSameShape("MeanSquaredError", inputs, reconstruction)
	return ReduceAllMean(Square(Sub(reconstruction, inputs)))
}

// PerExampleMeanSquaredError returns the squared error averaged over the elements of each example.
// It returns a tensor shaped [batch_size].
func PerExampleMeanSquaredError(inputs, reconstruction *Node) *Node {
	checkSameShape("PerExampleMeanSquaredError", inputs, reconstruction)
	squared := Square(Sub(reconstruction, inputs))
	if squared.Rank() == 1 {
		return squared
	}
	return ReduceMean(squared, nonBatchAxes(squared)...)
}

// KLDivergence returns the closed form KL divergence between the diagonal Gaussian posterior
// N(mean, exp(logVar)) and the standard normal prior, summed over the batch:
//
//	-0.5 * Σ(1 + logVar - mean² - exp(logVar))
//
// It is exactly 0 when mean=0 and logVar=0.
func KLDivergence(mean, logVar *Node) *Node {
	if !mean.Shape().Equal(logVar.Shape()) {
		exceptions.Panicf("KLDivergence: mean (%s) and logVar (%s) must have the same shape", mean.Shape(), logVar.Shape())
	}
	terms := Sub(Sub(AddScalar(logVar, 1), Square(mean)), Exp(logVar))
	return MulScalar(ReduceAllSum(terms), -0.5)
}

// VariationalLoss is the negative evidence lower bound of a variational autoencoder with a unit
// variance Gaussian likelihood: SumSquaredError(inputs, reconstruction) + KLDivergence(mean, logVar).
func VariationalLoss(inputs, reconstruction, mean, logVar *Node) *Node {
	return Add(SumSquaredError(inputs, reconstruction), KLDivergence(mean, logVar))
}
