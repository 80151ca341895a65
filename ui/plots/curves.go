// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"bytes"
	"fmt"
	"path"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// CurvesFileName returns the file name of the PNG with the curves of the given metric type.
func CurvesFileName(metricType string) string {
	return fmt.Sprintf("training_curves_%s.png", metricType)
}

// SaveCurves draws one PNG per metric type in dir, with one line per metric, and returns the paths
// of the files written.
func SaveCurves(points Points, dir string) ([]string, error) {
	types, namesPerType := points.MetricsTypes()
	var files []string
	for _, metricType := range types {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s metrics", metricType)
		p.X.Label.Text = "Epoch"
		p.Y.Label.Text = metricType
		var lines []any
		for _, name := range namesPerType[metricType] {
			steps, values := points.Series(name)
			xys := make(plotter.XYs, len(steps))
			for ii := range steps {
				xys[ii].X, xys[ii].Y = steps[ii], values[ii]
			}
			lines = append(lines, name, xys)
		}
		if err := plotutil.AddLinePoints(p, lines...); err != nil {
			return files, errors.Wrapf(err, "plotting %s metrics", metricType)
		}
		filePath := path.Join(dir, CurvesFileName(metricType))
		if err := p.Save(8*vg.Inch, 4*vg.Inch, filePath); err != nil {
			return files, errors.Wrapf(err, "saving plot to %q", filePath)
		}
		files = append(files, filePath)
	}
	return files, nil
}

// CurvesSVG renders the metrics of the given type as an SVG diagram.
func CurvesSVG(points Points, metricType string, width, height int) (string, error) {
	_, namesPerType := points.MetricsTypes()
	names := namesPerType[metricType]
	if len(names) == 0 {
		return "", errors.Errorf("no metrics of type %q", metricType)
	}
	allPoints := mg.NewSeries()
	series := make([]*mg.Series, 0, len(names))
	for _, name := range names {
		s := mg.NewSeries(mg.Titled(name))
		steps, values := points.Series(name)
		for ii := range steps {
			v := mg.MakeValue(steps[ii], values[ii])
			s.Add(v)
			allPoints.Add(v)
		}
		series = append(series, s)
	}
	diagram := mg.New(width, height,
		mg.WithAutorange(mg.XAxis, series...),
		mg.WithAutorange(mg.YAxis, series...),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range series {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epoch")
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, metricType)
	diagram.Frame()
	diagram.Title(fmt.Sprintf("%s metrics", metricType))
	diagram.Legend(mg.BottomLeft)
	buf := bytes.NewBuffer(nil)
	if err := diagram.Render(buf); err != nil {
		return "", errors.Wrapf(err, "failed to render plot for %q", metricType)
	}
	return buf.String(), nil
}
