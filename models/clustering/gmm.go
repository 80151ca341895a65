// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package clustering

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// GMM is a Gaussian mixture model with diagonal covariances, fit with expectation-maximization.
// The components are initialized from a k-means clustering.
type GMM struct {
	MaxIter int

	// Tolerance on the change of the mean log-likelihood per example to stop iterating.
	Tolerance float64

	// RegCovariance is added to the variances, to keep them positive.
	RegCovariance float64

	numClusters int
	weights     []float64
	means       [][]float64
	variances   [][]float64
	logLik      float64
}

var _ Clusterer = (*GMM)(nil)

// NewGMM creates a GMM with numClusters components.
func NewGMM(numClusters int) *GMM {
	return &GMM{
		MaxIter:       100,
		Tolerance:     1e-3,
		RegCovariance: 1e-6,
		numClusters:   numClusters,
	}
}

// NumClusters implements Clusterer.
func (gmm *GMM) NumClusters() int { return gmm.numClusters }

// Weights returns the mixture weights, after Fit.
func (gmm *GMM) Weights() []float64 { return gmm.weights }

// Means returns the component means, after Fit.
func (gmm *GMM) Means() [][]float64 { return gmm.means }

// LogLikelihood returns the mean log-likelihood per example reached by Fit.
func (gmm *GMM) LogLikelihood() float64 { return gmm.logLik }

// logJoint returns log(weight_c) + log N(point; mean_c, variance_c) for each component c.
func (gmm *GMM) logJoint(point []float64, dst []float64) []float64 {
	for c := range gmm.numClusters {
		logP := math.Log(gmm.weights[c])
		for d, v := range point {
			variance := gmm.variances[c][d]
			diff := v - gmm.means[c][d]
			logP -= 0.5 * (math.Log(2*math.Pi*variance) + diff*diff/variance)
		}
		dst[c] = logP
	}
	return dst
}

// Fit implements Clusterer.
func (gmm *GMM) Fit(x mat.Matrix) error {
	points := rows(x)
	if len(points) < gmm.numClusters {
		return errors.Errorf("GMM with %d components requires at least as many examples, got %d", gmm.numClusters, len(points))
	}
	km := NewKMeans(gmm.numClusters)
	if err := km.Fit(x); err != nil {
		return errors.WithMessage(err, "failed to initialize GMM")
	}
	assignments, err := km.Predict(x)
	if err != nil {
		return err
	}
	resp := make([][]float64, len(points))
	for ii := range points {
		resp[ii] = make([]float64, gmm.numClusters)
		resp[ii][assignments[ii]] = 1
	}
	gmm.maximize(points, resp)

	gmm.logLik = math.Inf(-1)
	logJoint := make([]float64, gmm.numClusters)
	for iter := range gmm.MaxIter {
		// E-step.
		var total float64
		for ii, p := range points {
			gmm.logJoint(p, logJoint)
			logNorm := floats.LogSumExp(logJoint)
			total += logNorm
			for c := range gmm.numClusters {
				resp[ii][c] = math.Exp(logJoint[c] - logNorm)
			}
		}
		logLik := total / float64(len(points))
		// M-step.
		gmm.maximize(points, resp)
		converged := math.Abs(logLik-gmm.logLik) < gmm.Tolerance
		gmm.logLik = logLik
		if converged {
			klog.V(1).Infof("GMM converged after %d iterations, log-likelihood=%g", iter+1, logLik)
			break
		}
	}
	return nil
}

// maximize updates weights, means and variances from the responsibilities.
func (gmm *GMM) maximize(points [][]float64, resp [][]float64) {
	dim := len(points[0])
	gmm.weights = make([]float64, gmm.numClusters)
	gmm.means = make([][]float64, gmm.numClusters)
	gmm.variances = make([][]float64, gmm.numClusters)
	for c := range gmm.numClusters {
		gmm.means[c] = make([]float64, dim)
		gmm.variances[c] = make([]float64, dim)
		var nc float64
		for ii, p := range points {
			nc += resp[ii][c]
			floats.AddScaled(gmm.means[c], resp[ii][c], p)
		}
		nc += 10 * math.SmallestNonzeroFloat64
		floats.Scale(1/nc, gmm.means[c])
		for ii, p := range points {
			for d, v := range p {
				diff := v - gmm.means[c][d]
				gmm.variances[c][d] += resp[ii][c] * diff * diff
			}
		}
		floats.Scale(1/nc, gmm.variances[c])
		floats.AddConst(gmm.RegCovariance, gmm.variances[c])
		gmm.weights[c] = nc / float64(len(points))
	}
}

// Predict implements Clusterer: each example is assigned to its most likely component.
func (gmm *GMM) Predict(x mat.Matrix) ([]int, error) {
	if gmm.means == nil {
		return nil, errors.New("GMM.Predict called before Fit")
	}
	points := rows(x)
	predictions := make([]int, len(points))
	logJoint := make([]float64, gmm.numClusters)
	for ii, p := range points {
		if len(p) != len(gmm.means[0]) {
			return nil, errors.Errorf("GMM.Predict: embeddings have dimension %d, but the model was fit with dimension %d", len(p), len(gmm.means[0]))
		}
		predictions[ii] = floats.MaxIdx(gmm.logJoint(p, logJoint))
	}
	return predictions, nil
}
