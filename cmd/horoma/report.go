// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/horoma/ml/train"
	"github.com/gomlx/horoma/models/autoencoders"
	"github.com/gomlx/horoma/ui/plots"
	"k8s.io/klog/v2"
)

const (
	// reconstructionsFileName is the grid of validation images and their reconstructions.
	reconstructionsFileName = "reconstructions.png"
	numReconstructions      = 32
	reconstructionsScale    = 2
)

// saveReports writes the training curves, the history CSV and, if model is not nil, the
// reconstructions of the first validation images to the experiment directory. In a notebook the
// curves are also displayed.
//
// Failures are logged but not fatal: the checkpoint is already saved.
func (e *experiment) saveReports(model autoencoders.Model) {
	if !*flagPlots {
		return
	}
	points := e.history.Points()
	if len(points) > 0 {
		if files, err := plots.SaveCurves(points, e.checkpointer.Dir()); err != nil {
			klog.Errorf("Failed to save training curves: %+v", err)
		} else {
			klog.Infof("Training curves saved to %v", files)
		}
		historyPath := e.outputPath(plots.HistoryFileName)
		if err := plots.WriteHistoryCSV(points, historyPath); err != nil {
			klog.Errorf("Failed to save history: %+v", err)
		} else {
			klog.Infof("History saved to %q", historyPath)
		}
		plots.DisplayCurves(points, 1024, 400)
	}

	if model == nil {
		return
	}
	originals, reconstructions, err := train.Reconstruct(e.backend, e.ctx, model, e.valid, numReconstructions)
	if err != nil {
		klog.Errorf("Failed to reconstruct images: %+v", err)
		return
	}
	gridPath := e.outputPath(reconstructionsFileName)
	if err = plots.SaveReconstructions(gridPath, originals, reconstructions, e.valid.ImageDims(), reconstructionsScale); err != nil {
		klog.Errorf("Failed to save reconstructions: %+v", err)
		return
	}
	klog.Infof("Reconstructions saved to %q", gridPath)
}
