// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"math"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoints() Points {
	return NewPoints([]Point{
		{MetricName: "train_loss", Short: "t.loss", MetricType: "loss", Step: 0, Value: 2},
		{MetricName: "valid_loss", Short: "v.loss", MetricType: "loss", Step: 0, Value: 3},
		{MetricName: "valid_f1", Short: "v.f1", MetricType: "f1", Step: 0, Value: 0.25},
		{MetricName: "train_loss", Short: "t.loss", MetricType: "loss", Step: 1, Value: 1},
		{MetricName: "valid_f1", Short: "v.f1", MetricType: "f1", Step: 1, Value: 0.5},
	})
}

func TestPointsWriter(t *testing.T) {
	filePath := path.Join(t.TempDir(), TrainingPlotFileName)
	writer, errChan := CreatePointsWriter(filePath)
	writer <- Point{MetricName: "a", MetricType: "loss", Step: 0, Value: 1}
	writer <- Point{MetricName: "a", MetricType: "loss", Step: 1, Value: math.Inf(1)}
	writer <- Point{MetricName: "a", MetricType: "loss", Step: 2, Value: 0.5}
	close(writer)
	require.NoError(t, <-errChan)

	loaded, err := LoadPoints(filePath)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 0.5, loaded[1].Value)

	_, err = LoadPoints(path.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestPointsTable(t *testing.T) {
	points := testPoints()
	assert.Equal(t, []float64{0, 1}, points.Steps())
	assert.Equal(t, []string{"valid_f1", "train_loss", "valid_loss"}, points.MetricsNames())
	types, perType := points.MetricsTypes()
	assert.Equal(t, []string{"f1", "loss"}, types)
	assert.Equal(t, []string{"train_loss", "valid_loss"}, perType["loss"])

	table := points.TableForMetrics("train_loss", "valid_f1")
	assert.Contains(t, table, "Epoch")
	assert.Contains(t, table, "0.5000")
	assert.NotContains(t, table, "valid_loss")
}

func TestHistoryCSV(t *testing.T) {
	filePath := path.Join(t.TempDir(), HistoryFileName)
	require.NoError(t, WriteHistoryCSV(testPoints(), filePath))
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(contents), "epoch,valid_f1,train_loss,valid_loss"))

	loaded, err := ReadHistoryCSV(filePath, func(name string) string {
		if strings.HasSuffix(name, "f1") {
			return "f1"
		}
		return "loss"
	})
	require.NoError(t, err)
	steps, values := loaded.Series("valid_loss")
	assert.Equal(t, []float64{0}, steps, "missing values are skipped")
	assert.Equal(t, []float64{3}, values)
}

func TestCurves(t *testing.T) {
	dir := t.TempDir()
	files, err := SaveCurves(testPoints(), dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, path.Join(dir, CurvesFileName("f1")), files[0])
	for _, f := range files {
		_, err := os.Stat(f)
		require.NoError(t, err)
	}

	svg, err := CurvesSVG(testPoints(), "loss", 400, 200)
	require.NoError(t, err)
	assert.Contains(t, svg, "<svg")
	_, err = CurvesSVG(testPoints(), "accuracy", 400, 200)
	require.Error(t, err)

	// Outside a notebook it's a no-op.
	DisplayCurves(testPoints(), 400, 200)
}

func TestReconstructionGrid(t *testing.T) {
	dims := [3]int{2, 3, 3}
	img := make([]float32, 2*3*3)
	for ii := range img {
		img[ii] = 1
	}
	converted := ToImage(img, 2, 3, 3)
	assert.Equal(t, 3, converted.Bounds().Dx())
	assert.Equal(t, 2, converted.Bounds().Dy())
	r, _, _, _ := converted.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	filePath := path.Join(t.TempDir(), "recon.png")
	originals := [][]float32{img, img, img}
	require.NoError(t, SaveReconstructions(filePath, originals, originals, dims, 2))
	saved, err := imaging.Open(filePath)
	require.NoError(t, err)
	// 8 columns of 3*2 pixels wide, 2 rows of 2*2 pixels high, padding 2.
	assert.Equal(t, 8*(6+2)+2, saved.Bounds().Dx())
	assert.Equal(t, 2*(4+2)+2, saved.Bounds().Dy())

	require.Error(t, SaveReconstructions(filePath, originals, originals[:1], dims, 1))
}
