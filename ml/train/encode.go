// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/models/autoencoders"
	"github.com/gomlx/horoma/models/clustering"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Embedder maps every example of a dataset to a vector, one row per example.
type Embedder interface {
	Embed(ds data.Dataset) (*mat.Dense, error)
}

// DatasetMatrix returns the images of ds flattened, one row per example.
func DatasetMatrix(ds data.Dataset) *mat.Dense {
	exampleSize := data.ExampleSize(ds)
	x := mat.NewDense(ds.Len(), exampleSize, nil)
	buf := make([]float32, exampleSize)
	row := make([]float64, exampleSize)
	for ii := range ds.Len() {
		ds.Example(ii, buf)
		for jj, v := range buf {
			row[jj] = float64(v)
		}
		x.SetRow(ii, row)
	}
	return x
}

// ModelEmbedder embeds the images with the encoder of a trained autoencoder, created under
// autoencoders.Scope, with the training flag off.
type ModelEmbedder struct {
	model     autoencoders.Model
	batchSize int
	exec      *context.Exec
}

// NewModelEmbedder creates a ModelEmbedder.
func NewModelEmbedder(backend backends.Backend, ctx *context.Context, model autoencoders.Model, batchSize int) *ModelEmbedder {
	e := &ModelEmbedder{model: model, batchSize: batchSize}
	e.exec = context.NewExec(backend, ctx.Checked(false), func(ctx *context.Context, images *Node) *Node {
		ctx.SetTraining(images.Graph(), false)
		return ConvertDType(model.Encode(ctx.In(autoencoders.Scope), images), dtypes.Float64)
	})
	return e
}

// Embed implements Embedder.
func (e *ModelEmbedder) Embed(ds data.Dataset) (*mat.Dense, error) {
	seq, err := data.NewSequential(ds, e.batchSize)
	if err != nil {
		return nil, err
	}
	var x *mat.Dense
	row := 0
	err = seq.ForEach(func(batch *data.Batch) error {
		defer batch.Finalize()
		return exceptions.TryCatch[error](func() {
			embeddings := e.exec.Call(batch.Images)[0]
			defer embeddings.FinalizeAll()
			dims := embeddings.Shape().Dimensions
			if x == nil {
				x = mat.NewDense(ds.Len(), dims[1], nil)
			}
			flat := tensors.CopyFlatData[float64](embeddings)
			for ii := range dims[0] {
				x.SetRow(row, flat[ii*dims[1]:(ii+1)*dims[1]])
				row++
			}
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "embedding %q with %q", ds.Name(), e.model.Name())
	}
	return x, nil
}

// PCAEmbedder embeds the images with a PCA fitted on the first dataset it embeds (or with FitOn).
type PCAEmbedder struct {
	PCA    *autoencoders.PCA
	fitted bool
}

// NewPCAEmbedder creates a PCAEmbedder keeping varianceRatio of the variance.
func NewPCAEmbedder(varianceRatio float64) *PCAEmbedder {
	return &PCAEmbedder{PCA: autoencoders.NewPCA(varianceRatio)}
}

// FitOn fits the PCA to ds.
func (e *PCAEmbedder) FitOn(ds data.Dataset) error {
	if err := e.PCA.Fit(DatasetMatrix(ds)); err != nil {
		return errors.WithMessagef(err, "fitting PCA on %q", ds.Name())
	}
	e.fitted = true
	klog.Infof("PCA on %q: %d components keep %.0f%% of the variance", ds.Name(), e.PCA.NumComponents(), 100*e.PCA.VarianceRatio)
	return nil
}

// Embed implements Embedder.
func (e *PCAEmbedder) Embed(ds data.Dataset) (*mat.Dense, error) {
	if !e.fitted {
		if err := e.FitOn(ds); err != nil {
			return nil, err
		}
	}
	return e.PCA.Transform(DatasetMatrix(ds))
}

// ClusterPipeline embeds the examples and clusters the embeddings: it's how the non-differentiable
// encoders (PCA) or pretrained autoencoders are used for classification, by labeling the clusters.
type ClusterPipeline struct {
	Embedder  Embedder
	Clusterer clustering.Clusterer
}

// Fit the clusterer on the embeddings of ds.
func (p *ClusterPipeline) Fit(ds data.Dataset) error {
	x, err := p.Embedder.Embed(ds)
	if err != nil {
		return err
	}
	if err = p.Clusterer.Fit(x); err != nil {
		return errors.WithMessagef(err, "clustering %q", ds.Name())
	}
	return nil
}

// Predict the cluster of each example of ds.
func (p *ClusterPipeline) Predict(ds data.Dataset) ([]int, error) {
	x, err := p.Embedder.Embed(ds)
	if err != nil {
		return nil, err
	}
	return p.Clusterer.Predict(x)
}

// Reconstruct runs the autoencoder, with the training flag off, on the first n examples of ds.
// It returns the original and the reconstructed images, flattened.
func Reconstruct(backend backends.Backend, ctx *context.Context, model autoencoders.Model, ds data.Dataset, n int) (originals, reconstructions [][]float32, err error) {
	n = min(n, ds.Len())
	if n <= 0 {
		return nil, nil, errors.Errorf("no examples to reconstruct in %q", ds.Name())
	}
	seq, err := data.NewSequential(ds, n)
	if err != nil {
		return nil, nil, err
	}
	batch, err := seq.Next()
	if err != nil {
		return nil, nil, err
	}
	defer batch.Finalize()
	err = exceptions.TryCatch[error](func() {
		exec := context.NewExec(backend, ctx.Checked(false), func(ctx *context.Context, images *Node) *Node {
			ctx.SetTraining(images.Graph(), false)
			return model.Forward(ctx.In(autoencoders.Scope), images).Reconstruction
		})
		output := exec.Call(batch.Images)[0]
		defer output.FinalizeAll()
		flatIn := tensors.CopyFlatData[float32](batch.Images)
		flatOut := tensors.CopyFlatData[float32](output)
		size := data.ExampleSize(ds)
		for ii := range n {
			originals = append(originals, flatIn[ii*size:(ii+1)*size])
			reconstructions = append(reconstructions, flatOut[ii*size:(ii+1)*size])
		}
	})
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "reconstructing %q with %q", ds.Name(), model.Name())
	}
	return
}
