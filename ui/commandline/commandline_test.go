// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train"
	"github.com/gomlx/horoma/ml/train/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", FormatDuration(1234567*time.Microsecond))
	assert.Equal(t, "2m3s", FormatDuration(123400*time.Millisecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "7ns", FormatDuration(7))
	assert.Equal(t, "1,234", humanizeCount(1234))
	assert.Equal(t, "?", humanizeCount(-1))
}

func TestTables(t *testing.T) {
	history := train.NewHistoryObserver()
	history.LogMetric("train_loss", 1.5, 0)
	history.LogMetric("valid_f1", 0.25, 0)
	history.LogMetric("train_loss", 0.75, 1)
	table := EpochsTable(history, "train_loss")
	assert.Contains(t, table, "0.7500")
	assert.NotContains(t, table, "0.2500")

	ds := data.NewInMemory("valid", [3]int{2, 2, 1}, make([]float32, 3*4), []int32{0, 1, 1})
	table = DatasetsTable(ds, nil)
	assert.Contains(t, table, "valid")
	assert.Contains(t, table, "2x2x1")

	agg := metrics.NewAggregator(2)
	agg.Add([]int32{0, 1, 1, 1}, []int32{0, 1, 0, 1})
	table = ResultsTable("Validation", agg)
	assert.Contains(t, table, "75.00%")

	table = ParamsTable(map[string]any{"lr": 0.001, "batch_size": 32})
	assert.Less(t, strings.Index(table, "batch_size"), strings.Index(table, "lr"))
}

type fakeTrainer struct{ hook train.BatchHook }

func (f *fakeTrainer) OnBatch(hook train.BatchHook) { f.hook = hook }

func TestProgressBar(t *testing.T) {
	trainer := &fakeTrainer{}
	pBar := AttachProgressBar(trainer)
	require.NotNil(t, trainer.hook)
	var buf bytes.Buffer
	pBar.writer = &buf
	pBar.inNotebook = true // Plain output, without cursor control.
	for ii := range 3 {
		require.NoError(t, trainer.hook("unsup", ii, 3, float64(ii)))
	}
	assert.Nil(t, pBar.bar, "bar finished after the last batch")
	require.NoError(t, trainer.hook("sup", 0, 2, 1))
	assert.Equal(t, "sup", pBar.phase)
	pBar.Close()
	assert.Contains(t, buf.String(), "unsup")
}
