// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// HistoryFileName is the default name of the CSV with the per-epoch metrics.
const HistoryFileName = "history.csv"

// DataFrame returns the points as a table with one row per step: column "epoch" followed by one
// column per metric (sorted by type then name). Missing values are NaN.
func (points Points) DataFrame() dataframe.DataFrame {
	steps := points.Steps()
	names := points.MetricsNames()
	columns := make([]series.Series, 0, 1+len(names))
	columns = append(columns, series.New(steps, series.Float, "epoch"))
	for _, name := range names {
		values := make([]float64, len(steps))
		for ii, step := range steps {
			values[ii] = math.NaN()
			for _, p := range points[step] {
				if p.MetricName == name {
					values[ii] = p.Value
				}
			}
		}
		columns = append(columns, series.New(values, series.Float, name))
	}
	return dataframe.New(columns...)
}

// WriteHistoryCSV writes the points DataFrame as CSV to filePath.
func WriteHistoryCSV(points Points, filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating history file %q", filePath)
	}
	if err = points.DataFrame().WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing history to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing %q", filePath)
}

// ReadHistoryCSV reads a CSV written by WriteHistoryCSV back into Points. Metric types are inferred
// by typeFn from the column names.
func ReadHistoryCSV(filePath string, typeFn func(name string) string) (Points, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening history file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f)
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "parsing history file %q", filePath)
	}
	steps := df.Col("epoch").Float()
	var raw []Point
	for _, name := range df.Names() {
		if name == "epoch" {
			continue
		}
		for ii, value := range df.Col(name).Float() {
			if math.IsNaN(value) {
				continue
			}
			raw = append(raw, Point{MetricName: name, Short: name, MetricType: typeFn(name), Step: steps[ii], Value: value})
		}
	}
	return NewPoints(raw), nil
}
