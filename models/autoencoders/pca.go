// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoders

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// PCADefaultVarianceRatio is the fraction of the variance kept by the PCA encoder by default.
const PCADefaultVarianceRatio = 0.9

// PCA is a linear encoder using principal component analysis: it keeps the smallest number of
// principal components that explain at least VarianceRatio of the variance of the data.
//
// It is the fallback encoder when the configured model is unknown. It's fit in closed form, so it
// doesn't go through the gradient based trainers.
type PCA struct {
	VarianceRatio float64

	mean       []float64
	components *mat.Dense // [inputDim, numComponents]
	explained  []float64
}

// NewPCA creates a PCA encoder that keeps varianceRatio of the variance. If varianceRatio is <= 0 or
// > 1, PCADefaultVarianceRatio is used.
func NewPCA(varianceRatio float64) *PCA {
	if varianceRatio <= 0 || varianceRatio > 1 {
		varianceRatio = PCADefaultVarianceRatio
	}
	return &PCA{VarianceRatio: varianceRatio}
}

// Fit the principal components to x, shaped [numExamples, inputDim].
func (p *PCA) Fit(x mat.Matrix) error {
	numExamples, inputDim := x.Dims()
	if numExamples < 2 {
		return errors.Errorf("PCA requires at least 2 examples, got %d", numExamples)
	}
	p.mean = make([]float64, inputDim)
	for col := range inputDim {
		p.mean[col] = stat.Mean(mat.Col(nil, col, x), nil)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return errors.New("PCA: eigen-decomposition of the covariance matrix failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Sort components by decreasing variance.
	order := make([]int, len(values))
	var total float64
	for ii, v := range values {
		order[ii] = ii
		if v > 0 {
			total += v
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return values[order[i]] > values[order[j]] })
	if total <= 0 {
		return errors.New("PCA: data has zero variance")
	}

	numComponents := 0
	var cumulative float64
	p.explained = p.explained[:0]
	for _, idx := range order {
		ratio := max(values[idx], 0) / total
		cumulative += ratio
		p.explained = append(p.explained, ratio)
		numComponents++
		if cumulative >= p.VarianceRatio-1e-12 {
			break
		}
	}
	p.components = mat.NewDense(inputDim, numComponents, nil)
	for ii, idx := range order[:numComponents] {
		p.components.SetCol(ii, mat.Col(nil, idx, &vectors))
	}
	klog.V(1).Infof("PCA: %d components explain %.1f%% of the variance", numComponents, 100*cumulative)
	return nil
}

// NumComponents returns the dimension of the embeddings, or 0 if not fitted yet.
func (p *PCA) NumComponents() int {
	if p.components == nil {
		return 0
	}
	_, c := p.components.Dims()
	return c
}

// ExplainedVarianceRatio returns the fraction of the variance explained by each kept component.
func (p *PCA) ExplainedVarianceRatio() []float64 { return p.explained }

// Transform projects x, shaped [numExamples, inputDim], on the principal components.
func (p *PCA) Transform(x mat.Matrix) (*mat.Dense, error) {
	if p.components == nil {
		return nil, errors.New("PCA.Transform called before Fit")
	}
	numExamples, inputDim := x.Dims()
	if inputDim != len(p.mean) {
		return nil, errors.Errorf("PCA.Transform: input has dimension %d, but PCA was fit with dimension %d", inputDim, len(p.mean))
	}
	centered := mat.NewDense(numExamples, inputDim, nil)
	centered.Apply(func(_, col int, v float64) float64 { return v - p.mean[col] }, x)
	var projected mat.Dense
	projected.Mul(centered, p.components)
	return &projected, nil
}

// FitTransform fits the PCA to x and returns its projection.
func (p *PCA) FitTransform(x mat.Matrix) (*mat.Dense, error) {
	if err := p.Fit(x); err != nil {
		return nil, err
	}
	return p.Transform(x)
}
