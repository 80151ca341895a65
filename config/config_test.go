// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedPresets(t *testing.T) {
	presets, err := Presets("")
	require.NoError(t, err)
	for name, cfg := range presets {
		require.NoError(t, cfg.Validate(), "preset %q", name)
	}

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "cae", cfg.EncModel)
	assert.Equal(t, "MLPClassifier", cfg.ClassifierModel)
	assert.Equal(t, "CAE_BASE_dim=10_split=train_overlapped", cfg.ExperimentName(DefaultPreset))

	_, err = Load("", "NOT_A_PRESET")
	require.ErrorContains(t, err, "CAE_BASE")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	filePath := path.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(filePath, []byte(`{"small": {"enc_model": "ae", "batch_size": 4,
		"n_epochs": 2, "latent_dim": 3, "lr_unsup": 0.01}}`), 0o644))
	cfg, err := Load(filePath, "small")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 0.01, cfg.LearningRateUnsup)

	require.NoError(t, os.WriteFile(filePath, []byte(`{"typo": {"batch_sise": 4}}`), 0o644))
	_, err = Load(filePath, "typo")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filePath, []byte(`{"bad": {"batch_size": 0, "n_epochs": 1, "latent_dim": 1}}`), 0o644))
	_, err = Load(filePath, "bad")
	require.ErrorContains(t, err, "batch_size")

	_, err = Load(path.Join(dir, "missing.json"), "")
	require.Error(t, err)
}

func TestContextParams(t *testing.T) {
	cfg, err := Load("", "CAE_BASE")
	require.NoError(t, err)
	ctx := context.New()
	cfg.SetContextParams(ctx)
	ctx.SetParam("batch_size", 8)
	ctx.SetParam("lr_sup", 0.5)

	got := FromContext(ctx, cfg)
	assert.Equal(t, 8, got.BatchSize)
	assert.Equal(t, 0.5, got.LearningRateSup)
	assert.Equal(t, cfg.LatentDim, got.LatentDim)
	assert.NotEqual(t, 8, cfg.BatchSize, "base config is not modified")
}
