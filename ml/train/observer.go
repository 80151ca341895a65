// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"maps"
	"math"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/gomlx/horoma/ml/train/metrics"
	"github.com/gomlx/horoma/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Observer receives the per-epoch scalars produced by the trainers: losses, accuracies and F1 scores.
//
// The trainers take an Observer explicitly, there is no global experiment handle.
type Observer interface {
	LogMetric(name string, value float64, step int)
}

// Closer is implemented by observers holding resources (files, goroutines) that must be released at
// the end of training.
type Closer interface {
	Close() error
}

// CloseObserver closes the observer if it implements Closer.
func CloseObserver(o Observer) error {
	if c, ok := o.(Closer); ok {
		return c.Close()
	}
	return nil
}

// LogMetrics sends the metrics to the observer sorted by name.
func LogMetrics(o Observer, values map[string]float64, step int) {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		o.LogMetric(name, values[name], step)
	}
}

// MetricTypeOf returns the metric type (loss, accuracy or f1) inferred from a metric name.
func MetricTypeOf(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "f1"):
		return metrics.F1MetricType
	case strings.Contains(lower, "acc"):
		return metrics.AccuracyMetricType
	default:
		return metrics.LossMetricType
	}
}

// NoopObserver discards everything.
type NoopObserver struct{}

// LogMetric implements Observer.
func (NoopObserver) LogMetric(string, float64, int) {}

// KlogObserver logs every metric with klog, at the given verbosity.
type KlogObserver struct {
	Verbosity klog.Level
}

// LogMetric implements Observer.
func (o KlogObserver) LogMetric(name string, value float64, step int) {
	klog.V(o.Verbosity).Infof("epoch %d: %s=%.6g", step, name, value)
}

// MultiObserver broadcasts metrics to all its observers, in order.
type MultiObserver []Observer

// LogMetric implements Observer.
func (m MultiObserver) LogMetric(name string, value float64, step int) {
	for _, o := range m {
		o.LogMetric(name, value, step)
	}
}

// Close implements Closer: it closes all observers and returns the first error.
func (m MultiObserver) Close() error {
	var firstErr error
	for _, o := range m {
		if err := CloseObserver(o); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PointsObserver appends every metric as a plots.Point to a JSON file, usually in the checkpoint
// directory, so training curves survive restarts.
type PointsObserver struct {
	filePath string
	writer   chan<- plots.Point
	errChan  <-chan error
	closed   bool
}

// NewPointsObserver creates a PointsObserver writing to plots.TrainingPlotFileName in dir.
func NewPointsObserver(dir string) *PointsObserver {
	filePath := path.Join(dir, plots.TrainingPlotFileName)
	writer, errChan := plots.CreatePointsWriter(filePath)
	return &PointsObserver{filePath: filePath, writer: writer, errChan: errChan}
}

// FilePath where the points are written.
func (o *PointsObserver) FilePath() string { return o.filePath }

// LogMetric implements Observer.
func (o *PointsObserver) LogMetric(name string, value float64, step int) {
	if o.closed {
		klog.Warningf("PointsObserver(%q) already closed, dropping %s", o.filePath, name)
		return
	}
	o.writer <- plots.Point{
		MetricName: name,
		Short:      shortName(name),
		MetricType: MetricTypeOf(name),
		Step:       float64(step),
		Value:      value,
	}
}

// Close implements Closer: it waits for all points to be written.
func (o *PointsObserver) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	close(o.writer)
	return errors.WithMessagef(<-o.errChan, "writing plot points to %q", o.filePath)
}

// shortName abbreviates names like "valid_f1" to "v.f1".
func shortName(name string) string {
	prefix, rest, found := strings.Cut(name, "_")
	if !found {
		return name
	}
	switch prefix {
	case "train":
		return "t." + rest
	case "valid":
		return "v." + rest
	}
	return name
}

// HistoryObserver keeps all metrics in memory. It is safe for concurrent use.
type HistoryObserver struct {
	mu     sync.Mutex
	values map[string]map[int]float64
}

// NewHistoryObserver creates an empty HistoryObserver.
func NewHistoryObserver() *HistoryObserver {
	return &HistoryObserver{values: make(map[string]map[int]float64)}
}

// LogMetric implements Observer. Logging the same metric twice for a step keeps the last value.
func (h *HistoryObserver) LogMetric(name string, value float64, step int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perStep, found := h.values[name]
	if !found {
		perStep = make(map[int]float64)
		h.values[name] = perStep
	}
	perStep[step] = value
}

// Names of the metrics observed, sorted.
func (h *HistoryObserver) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.values))
	for name := range h.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the value of the metric at the given step, or NaN if it was not observed.
func (h *HistoryObserver) Value(name string, step int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, found := h.values[name][step]; found {
		return v
	}
	return math.NaN()
}

// Steps returns the steps in which anything was observed, sorted.
func (h *HistoryObserver) Steps() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[int]bool)
	for _, perStep := range h.values {
		for step := range perStep {
			seen[step] = true
		}
	}
	steps := make([]int, 0, len(seen))
	for step := range seen {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps
}

// Points converts the history to plot points.
func (h *HistoryObserver) Points() plots.Points {
	var raw []plots.Point
	for _, name := range h.Names() {
		for _, step := range h.Steps() {
			value := h.Value(name, step)
			if math.IsNaN(value) {
				continue
			}
			raw = append(raw, plots.Point{
				MetricName: name,
				Short:      shortName(name),
				MetricType: MetricTypeOf(name),
				Step:       float64(step),
				Value:      value,
			})
		}
	}
	return plots.NewPoints(raw)
}
