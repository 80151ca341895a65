// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots stores the metrics collected during training as plot points, and renders them as
// tables, PNG curves and CSV history files.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainingPlotFileName is the default file name within a checkpoint directory to store
// plot points collected during training.
const TrainingPlotFileName = "training_plot_points.json"

// Point represents a training plot point. It is used to save/load plots.
type Point struct {
	// MetricName of this point, e.g. "Validation f1-score".
	MetricName string

	// Short name, used in tables.
	Short string

	// MetricType is "loss", "accuracy" or "f1". Metrics of the same type are drawn in the same plot.
	MetricType string

	// Step is the epoch this metric was measured, stored as a float64.
	Step float64

	// Value is the metric captured.
	Value float64
}

// LoadPointsFromCheckpoint loads all plot points saved during training in file TrainingPlotFileName
// in a checkpoint directory.
func LoadPointsFromCheckpoint(checkpointDir string) ([]Point, error) {
	return LoadPoints(path.Join(checkpointDir, TrainingPlotFileName))
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plot points file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding plot points file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// CreatePointsWriter creates a channel to append Point to the given file.
// It creates an errReport channel to report an error (or nil) back at the very end, once pointWriter
// is closed. If any error occurs it stops writing.
func CreatePointsWriter(filePath string) (pointWriter chan<- Point, errReport <-chan error) {
	pointChan := make(chan Point, 100)
	pointWriter = pointChan
	errChan := make(chan error, 1)
	errReport = errChan
	go func() {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			err = errors.Wrapf(err, "failed to open plot points file %q for append", filePath)
			klog.Errorf("Error: %v", err)
		}
		var enc *json.Encoder
		if err == nil {
			enc = json.NewEncoder(f)
		}
		for point := range pointChan {
			if err != nil {
				continue // Drain the channel.
			}
			if math.IsNaN(point.Value) || math.IsInf(point.Value, 0) {
				// JSON can't encode non-finite values.
				klog.Warningf("Skipping non-finite plot point %q=%g at step %g", point.MetricName, point.Value, point.Step)
				continue
			}
			if err = enc.Encode(point); err != nil {
				err = errors.Wrapf(err, "failed to encode point %v", point)
				klog.Errorf("Error: %v", err)
			}
		}
		if f != nil {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}
		errChan <- err
	}()
	return
}

// Points is a collection of Point objects organized by their Step value.
type Points map[float64][]Point

// NewPoints creates a Points object from a collection of individual Point.
func NewPoints(rawPoints []Point) Points {
	points := make(Points)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Steps returns the steps with points, sorted.
func (points Points) Steps() []float64 {
	steps := make([]float64, 0, len(points))
	for step := range points {
		steps = append(steps, step)
	}
	slices.Sort(steps)
	return steps
}

// Map executes the given function on all individual points, in Step order.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range points.Steps() {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Series returns the (step, value) pairs of the named metric, in Step order.
func (points Points) Series(metricName string) (steps, values []float64) {
	points.Map(func(p *Point) {
		if p.MetricName == metricName {
			steps = append(steps, p.Step)
			values = append(values, p.Value)
		}
	})
	return
}

// MetricsNames return the list of metrics names in the whole collection, sorted by their type and
// then by their name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	points.Map(func(p *Point) {
		nameToType[p.MetricName] = p.MetricType
	})
	names := make([]string, 0, len(nameToType))
	for name := range nameToType {
		names = append(names, name)
	}
	sort.Strings(names)
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// MetricsTypes returns the metric types in the collection, sorted, and the names of the metrics of
// each type.
func (points Points) MetricsTypes() (types []string, namesPerType map[string][]string) {
	namesPerType = make(map[string][]string)
	seen := make(map[string]bool)
	points.Map(func(p *Point) {
		if seen[p.MetricName] {
			return
		}
		seen[p.MetricName] = true
		namesPerType[p.MetricType] = append(namesPerType[p.MetricType], p.MetricName)
	})
	for metricType, names := range namesPerType {
		types = append(types, metricType)
		sort.Strings(names)
	}
	sort.Strings(types)
	return
}

// TableForMetrics returns a table with the first column being the Step followed by the columns given
// by the metrics names. If metrics is empty, it will include all metrics in the table.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	headers := []string{"Epoch"}
	headers = append(headers, metrics...)
	table.Headers(headers...)

	for _, step := range points.Steps() {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			if idx := slices.Index(metrics, pt.MetricName); idx != -1 {
				row[idx+1] = fmt.Sprintf("%.4f", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}
