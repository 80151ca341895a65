// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// horoma_checkpoints reports on the contents of an experiment directory written by horoma: the saved
// training state, hyperparameters, variables and the per-epoch metrics.
//
//	horoma_checkpoints -summary -params -metrics checkpoints/CAE_BASE_dim=10_split=train_overlapped
package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/horoma/ml/train"
	"github.com/gomlx/horoma/ml/train/optimizers"
	"github.com/gomlx/horoma/ui/plots"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagScope = flag.String("scope", "", "Only variables under this scope are listed by -vars and counted by -summary. "+
		"E.g. \"/autoencoder\" or \"/classifier\".")
	flagSummary = flag.Bool("summary", true, "Displays the saved training state and the model sizes.")
	flagParams  = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars    = flag.Bool("vars", false, "Lists the variables under -scope.")
	flagMetrics = flag.Bool("metrics", false,
		fmt.Sprintf("Lists the per-epoch metrics collected in %q.", plots.TrainingPlotFileName))
	flagMetricsNames = flag.String("metrics_names", "", "Comma-separated list of metric names to include in the metrics report.")
	flagMetricsTypes = flag.String("metrics_types", "", "Comma-separated list of metric types to include in the metrics report.")
	flagCSV          = flag.String("csv", "", "If set, exports the metrics as CSV to this file.")
	flagCurves       = flag.Bool("curves", false, "Saves the training curves as PNG files in the experiment directory.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one experiment directory, got %d arguments. See 'horoma_checkpoints -help'", len(args))
		os.Exit(1)
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2).Align(lipgloss.Center)
	oddRowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).Padding(0, 1)
	evenRowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).Padding(0, 1)
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case withHeader && row == 0:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func inScope(v *context.Variable) bool {
	if *flagScope == "" {
		return true
	}
	scope := strings.TrimSuffix(*flagScope, context.ScopeSeparator)
	return v.Scope() == scope || strings.HasPrefix(v.Scope(), scope+context.ScopeSeparator)
}

func report(dir string) {
	ctx := context.New()
	if *flagSummary || *flagParams || *flagVars {
		_ = must.M1(checkpoints.Build(ctx).Dir(dir).Immediate().Done())
	}
	if *flagSummary {
		summary(ctx, dir)
	}
	if *flagParams {
		fmt.Println(titleStyle.Render("Hyperparameters"))
		table := newPlainTable(true)
		table.Row("Scope", "Name", "Type", "Value")
		ctx.EnumerateParams(func(scope, key string, value any) {
			table.Row(scope, key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
		})
		fmt.Println(table.Render())
	}
	if *flagVars {
		variables(ctx)
	}
	if *flagMetrics || *flagCSV != "" || *flagCurves {
		metrics(dir)
	}
}

// summary prints the training state saved with the best model, the steps taken by each optimizer and
// the size of the model.
func summary(ctx *context.Context, dir string) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("experiment", dir)
	optimizersScope := context.ScopeSeparator + optimizers.Scope + context.ScopeSeparator
	var numVars, totalSize int
	var totalMemory uintptr
	var stateRows, stepRows [][]string
	ctx.EnumerateVariables(func(v *context.Variable) {
		switch {
		case v.Scope() == train.TrainingStateScope:
			stateRows = append(stateRows, []string{v.Name(), fmt.Sprintf("%v", v.Value().Value())})
			return
		case v.Name() == optimizers.GlobalStepVariableName && strings.HasPrefix(v.Scope(), optimizersScope):
			name := strings.TrimPrefix(v.Scope(), optimizersScope)
			step, _ := v.Value().Value().(int64)
			stepRows = append(stepRows, []string{"steps of " + name, humanize.Comma(step)})
			return
		case !inScope(v):
			return
		}
		numVars++
		totalSize += v.Shape().Size()
		totalMemory += v.Shape().Memory()
	})
	slices.SortFunc(stateRows, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	slices.SortFunc(stepRows, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	for _, row := range stateRows {
		table.Row(row...)
	}
	for _, row := range stepRows {
		table.Row(row...)
	}
	table.Row("# variables", humanize.Comma(int64(numVars)))
	table.Row("# parameters", humanize.Comma(int64(totalSize)))
	table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
	fmt.Println(table.Render())
}

func variables(ctx *context.Context) {
	fmt.Println(titleStyle.Render("Variables"))
	table := newPlainTable(true)
	table.Row("Scope", "Name", "Shape", "Size", "Bytes")
	var rows [][]string
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !inScope(v) {
			return
		}
		shape := v.Shape()
		rows = append(rows, []string{
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
		})
	})
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
	for _, row := range rows {
		table.Row(row...)
	}
	fmt.Println(table.Render())
}

func splitList(list string) []string {
	if list == "" {
		return nil
	}
	return strings.Split(list, ",")
}

// metrics prints the per-epoch metrics, optionally filtered by -metrics_names and -metrics_types, and
// exports them.
func metrics(dir string) {
	raw := must.M1(plots.LoadPointsFromCheckpoint(dir))
	if len(raw) == 0 {
		klog.Errorf("No metrics found in %q", path.Join(dir, plots.TrainingPlotFileName))
		return
	}
	names, types := splitList(*flagMetricsNames), splitList(*flagMetricsTypes)
	if len(names) > 0 || len(types) > 0 {
		raw = slices.DeleteFunc(raw, func(p plots.Point) bool {
			return !slices.Contains(names, p.MetricName) && !slices.Contains(names, p.Short) &&
				!slices.Contains(types, p.MetricType)
		})
	}
	points := plots.NewPoints(raw)
	if *flagMetrics {
		fmt.Println(titleStyle.Render("Metrics"))
		fmt.Println(points.TableForMetrics())
	}
	if *flagCSV != "" {
		must.M(plots.WriteHistoryCSV(points, *flagCSV))
		fmt.Printf("Metrics exported to %q\n", *flagCSV)
	}
	if *flagCurves {
		files := must.M1(plots.SaveCurves(points, dir))
		fmt.Printf("Training curves saved to %v\n", files)
	}
}
