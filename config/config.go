// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads the training configuration presets.
//
// A configuration file is a JSON object keyed by preset name, each preset holding the hyperparameters
// of one experiment. A default file with the standard presets is embedded in the binary.
//
// Once loaded, a Config can be published as context parameters (see Config.SetContextParams), so
// individual values can be overridden from the command line with the "-set" flag, and read back
// with FromContext.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
)

//go:embed presets.json
var defaultPresets []byte

// DefaultPreset is the preset used when none is given.
const DefaultPreset = "CAE_BASE"

// Config holds the hyperparameters of one experiment.
type Config struct {
	EncModel          string  `json:"enc_model"`
	ClassifierModel   string  `json:"classifier_model"`
	BatchSize         int     `json:"batch_size"`
	Seed              int     `json:"seed"`
	NumEpochs         int     `json:"n_epochs"`
	LearningRate      float64 `json:"lr"`
	LearningRateUnsup float64 `json:"lr_unsup"`
	LearningRateSup   float64 `json:"lr_sup"`
	Patience          int     `json:"patience"`

	// Names of the dataset splits: they are resolved to files by data.LoadHoroma.
	TrainUnlabeledSplit string `json:"train_unlabeled_split"`
	TrainLabeledSplit   string `json:"train_labeled_split"`
	ValidSplit          string `json:"valid_split"`

	LatentDim   int `json:"latent_dim"`
	NumClusters int `json:"n_clusters"`
}

// Presets parses all presets of the configuration file. If filePath is empty, the embedded defaults
// are used.
//
// Unknown fields are an error, so typos in the configuration don't go unnoticed.
func Presets(filePath string) (map[string]*Config, error) {
	contents := defaultPresets
	if filePath != "" {
		var err error
		contents, err = os.ReadFile(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "reading configuration file %q", filePath)
		}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(contents, &raw); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration file %q", filePath)
	}
	presets := make(map[string]*Config, len(raw))
	for name, rawPreset := range raw {
		dec := json.NewDecoder(bytes.NewReader(rawPreset))
		dec.DisallowUnknownFields()
		cfg := &Config{}
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing preset %q of configuration file %q", name, filePath)
		}
		presets[name] = cfg
	}
	return presets, nil
}

// Load the preset from the configuration file (or from the embedded defaults if filePath is empty).
// An empty preset selects DefaultPreset.
func Load(filePath, preset string) (*Config, error) {
	if preset == "" {
		preset = DefaultPreset
	}
	presets, err := Presets(filePath)
	if err != nil {
		return nil, err
	}
	cfg, found := presets[preset]
	if !found {
		names := make([]string, 0, len(presets))
		for name := range presets {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, errors.Errorf("preset %q not found in configuration (%q), valid presets are %q", preset, filePath, names)
	}
	if err = cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "preset %q", preset)
	}
	return cfg, nil
}

// Validate checks that the values are usable for training.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	case c.NumEpochs <= 0:
		return errors.Errorf("n_epochs must be > 0, got %d", c.NumEpochs)
	case c.LatentDim <= 0:
		return errors.Errorf("latent_dim must be > 0, got %d", c.LatentDim)
	case c.LearningRate < 0 || c.LearningRateUnsup < 0 || c.LearningRateSup < 0:
		return errors.Errorf("learning rates must be >= 0, got lr=%g, lr_unsup=%g, lr_sup=%g",
			c.LearningRate, c.LearningRateUnsup, c.LearningRateSup)
	case c.Patience < 0:
		return errors.Errorf("patience must be >= 0, got %d", c.Patience)
	case c.NumClusters < 0:
		return errors.Errorf("n_clusters must be >= 0, got %d", c.NumClusters)
	}
	return nil
}

// Params returns the configuration as a map keyed by the JSON field names.
func (c *Config) Params() map[string]any {
	return map[string]any{
		"enc_model":             c.EncModel,
		"classifier_model":      c.ClassifierModel,
		"batch_size":            c.BatchSize,
		"seed":                  c.Seed,
		"n_epochs":              c.NumEpochs,
		"lr":                    c.LearningRate,
		"lr_unsup":              c.LearningRateUnsup,
		"lr_sup":                c.LearningRateSup,
		"patience":              c.Patience,
		"train_unlabeled_split": c.TrainUnlabeledSplit,
		"train_labeled_split":   c.TrainLabeledSplit,
		"valid_split":           c.ValidSplit,
		"latent_dim":            c.LatentDim,
		"n_clusters":            c.NumClusters,
	}
}

// SetContextParams publishes the configuration as parameters at the root scope of ctx.
func (c *Config) SetContextParams(ctx *context.Context) {
	ctx.SetParams(c.Params())
}

// FromContext returns a copy of base with the values overridden by the parameters of ctx.
// Parameters missing from ctx keep the value in base.
func FromContext(ctx *context.Context, base *Config) *Config {
	c := *base
	c.EncModel = context.GetParamOr(ctx, "enc_model", c.EncModel)
	c.ClassifierModel = context.GetParamOr(ctx, "classifier_model", c.ClassifierModel)
	c.BatchSize = context.GetParamOr(ctx, "batch_size", c.BatchSize)
	c.Seed = context.GetParamOr(ctx, "seed", c.Seed)
	c.NumEpochs = context.GetParamOr(ctx, "n_epochs", c.NumEpochs)
	c.LearningRate = context.GetParamOr(ctx, "lr", c.LearningRate)
	c.LearningRateUnsup = context.GetParamOr(ctx, "lr_unsup", c.LearningRateUnsup)
	c.LearningRateSup = context.GetParamOr(ctx, "lr_sup", c.LearningRateSup)
	c.Patience = context.GetParamOr(ctx, "patience", c.Patience)
	c.TrainUnlabeledSplit = context.GetParamOr(ctx, "train_unlabeled_split", c.TrainUnlabeledSplit)
	c.TrainLabeledSplit = context.GetParamOr(ctx, "train_labeled_split", c.TrainLabeledSplit)
	c.ValidSplit = context.GetParamOr(ctx, "valid_split", c.ValidSplit)
	c.LatentDim = context.GetParamOr(ctx, "latent_dim", c.LatentDim)
	c.NumClusters = context.GetParamOr(ctx, "n_clusters", c.NumClusters)
	return &c
}

// ExperimentName returns the name of the experiment: it is used as the checkpoint directory name.
func (c *Config) ExperimentName(preset string) string {
	return fmt.Sprintf("%s_dim=%d_split=%s", preset, c.LatentDim, c.TrainUnlabeledSplit)
}
