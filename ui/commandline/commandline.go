// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: progress bars for
// the training phases and tables reporting the epochs and the evaluation results.
package commandline

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/horoma/ml/data"
	"github.com/gomlx/horoma/ml/train"
	"github.com/gomlx/horoma/ml/train/metrics"
)

func newTable() *lgtable.Table {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := cellStyle.Bold(true).Reverse(true)
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// EpochsTable returns a table with one row per epoch and the given metrics as columns, or all metrics
// if none are given.
func EpochsTable(history *train.HistoryObserver, metricNames ...string) string {
	return history.Points().TableForMetrics(metricNames...)
}

// DatasetsTable returns a table with the name, size and image dimensions of the datasets.
func DatasetsTable(datasets ...data.Dataset) string {
	table := newTable().Headers("Dataset", "Examples", "Image", "Labeled")
	for _, ds := range datasets {
		if ds == nil {
			continue
		}
		dims := ds.ImageDims()
		table.Row(ds.Name(), humanize.Comma(int64(ds.Len())),
			fmt.Sprintf("%dx%dx%d", dims[0], dims[1], dims[2]), fmt.Sprintf("%v", ds.HasLabels()))
	}
	return table.String()
}

// ResultsTable returns a table with the number of examples, the accuracy and the F1 scores of the
// aggregated results.
func ResultsTable(title string, aggregator *metrics.Aggregator) string {
	table := newTable().Headers(title, "Value")
	table.Row("Examples", humanize.Comma(aggregator.Count()))
	table.Row("Accuracy", fmt.Sprintf("%.2f%%", 100*aggregator.Accuracy()))
	table.Row("F1 (weighted)", fmt.Sprintf("%.4f", aggregator.F1()))
	table.Row("F1 (macro)", fmt.Sprintf("%.4f", aggregator.MacroF1()))
	return table.String()
}

// ParamsTable returns a table with the given key/value settings, sorted by key.
func ParamsTable(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	table := newTable().Headers("Setting", "Value")
	for _, key := range keys {
		table.Row(key, fmt.Sprintf("%v", params[key]))
	}
	return table.String()
}
