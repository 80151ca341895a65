// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
)

// DefaultMixtureEpsilon is the floor applied to the per-example mixture likelihood, so the
// log-likelihood is never -inf.
const DefaultMixtureEpsilon = 1e-12

// stableLogSoftmax returns log(softmax(logits)) on the last axis, computed by first subtracting the
// maximum logit, so large logits don't overflow.
func stableLogSoftmax(logits *Node) *Node {
	shifted := Sub(logits, StopGradient(ReduceAndKeep(logits, ReduceMax, -1)))
	return Sub(shifted, Log(ReduceAndKeep(Exp(shifted), ReduceSum, -1)))
}

// logSumExp reduces the last axis with log(Σ exp(x)), computed stably.
func logSumExp(x *Node) *Node {
	maxX := StopGradient(ReduceAndKeep(x, ReduceMax, -1))
	sum := ReduceAndKeep(Exp(Sub(x, maxX)), ReduceSum, -1)
	return Reshape(Add(Log(sum), maxX), x.Shape().Dimensions[0])
}

// GateProbabilities returns the softmax of the gating logits on the last axis.
func GateProbabilities(gateLogits *Node) *Node {
	return Exp(stableLogSoftmax(gateLogits))
}

// MixtureNegLogLikelihood is the deep clustering (DAMIC) loss of a mixture of autoencoders.
//
// For each example x, with gating probabilities p_k(x) and per-cluster reconstruction errors
// mse_k(x) (the squared error averaged over the elements of x) the likelihood is
//
//	L(x) = Σ_k p_k(x) · exp(-0.5 · mse_k(x))
//
// and the loss is -Σ_x log(max(L(x), epsilon)), summed over the batch. It is computed in log-space:
// with a single cluster it reduces to 0.5 · Σ mse, and it remains finite for very large logits or
// errors.
//
// gateLogits and perClusterMSE must both be shaped [batch_size, numClusters]. If epsilon <= 0,
// DefaultMixtureEpsilon is used.
func MixtureNegLogLikelihood(gateLogits, perClusterMSE *Node, epsilon float64) *Node {
	if gateLogits.Rank() != 2 || !gateLogits.Shape().Equal(perClusterMSE.Shape()) {
		exceptions.Panicf("MixtureNegLogLikelihood: gateLogits (%s) and perClusterMSE (%s) must both be shaped [batch_size, num_clusters]",
			gateLogits.Shape(), perClusterMSE.Shape())
	}
	if epsilon <= 0 {
		epsilon = DefaultMixtureEpsilon
	}
	logLikelihood := MulScalar(perClusterMSE, -0.5)
	joint := Add(stableLogSoftmax(gateLogits), logLikelihood)
	logTotal := logSumExp(joint)
	logTotal = MaxScalar(logTotal, math.Log(epsilon))
	return Neg(ReduceAllSum(logTotal))
}

// StackPerClusterErrors concatenates per-cluster error vectors (each shaped [batch_size]) into a
// tensor shaped [batch_size, numClusters].
func StackPerClusterErrors(errors ...*Node) *Node {
	if len(errors) == 0 {
		exceptions.Panicf("StackPerClusterErrors: no errors given")
	}
	columns := make([]*Node, len(errors))
	for ii, e := range errors {
		columns[ii] = InsertAxes(e, -1)
	}
	return Concatenate(columns, -1)
}
