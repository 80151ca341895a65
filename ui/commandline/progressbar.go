// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/horoma/ml/train"
	"github.com/gomlx/horoma/ui/plots"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// BatchObserver is implemented by the trainers that report every batch.
type BatchObserver interface {
	OnBatch(hook train.BatchHook)
}

// ProgressbarStyle to use. Defaults to the ASCII version.
var ProgressbarStyle = progressbar.ThemeASCII

// RefreshPeriod is the minimum time between updates of the stats table.
var RefreshPeriod = 200 * time.Millisecond

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// ProgressBar displays one progress bar per training or evaluation phase, with a small table with the
// phase, the batch and the running loss.
type ProgressBar struct {
	writer     io.Writer
	inNotebook bool
	termenv    *termenv.Output
	statsStyle lipgloss.Style
	statsTable *lgtable.Table

	phase      string
	bar        *progressbar.ProgressBar
	start      time.Time
	lastUpdate time.Time
	lossSum    float64
	batches    int
	printed    bool
	suffix     string
}

// NewProgressBar creates a progress bar writing to stdout.
func NewProgressBar() *ProgressBar {
	pBar := &ProgressBar{writer: os.Stdout, inNotebook: plots.IsNotebook()}
	if !pBar.inNotebook {
		pBar.termenv = termenv.NewOutput(os.Stdout)
		pBar.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
		pBar.statsTable = lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			})
	}
	return pBar
}

// AttachProgressBar creates a ProgressBar and attaches it to the trainers.
func AttachProgressBar(trainers ...BatchObserver) *ProgressBar {
	pBar := NewProgressBar()
	for _, t := range trainers {
		t.OnBatch(pBar.OnBatch)
	}
	return pBar
}

// Write implements io.Writer: it's the writer of the progressbar, and appends the current suffix with
// the loss, so the bar and the suffix are written in the same operation.
func (pBar *ProgressBar) Write(data []byte) (n int, err error) {
	n, err = pBar.writer.Write(data)
	if err != nil {
		return n, err
	}
	_, err = pBar.writer.Write([]byte(pBar.suffix))
	return
}

func (pBar *ProgressBar) newBar(phase string, numBatches int) {
	pBar.finishBar()
	pBar.phase = phase
	pBar.start = time.Now()
	pBar.lossSum, pBar.batches = 0, 0
	pBar.printed = false
	if numBatches < 0 {
		numBatches = -1 // Spinner.
	}
	pBar.bar = progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription(fmt.Sprintf("%-12s", phase)),
		progressbar.OptionUseANSICodes(!pBar.inNotebook),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
}

func (pBar *ProgressBar) finishBar() {
	if pBar.bar == nil {
		return
	}
	_ = pBar.bar.Finish()
	_, _ = fmt.Fprintln(pBar.writer)
	pBar.bar = nil
}

// OnBatch implements train.BatchHook.
func (pBar *ProgressBar) OnBatch(phase string, batchIdx, numBatches int, batchLoss float64) error {
	if pBar.bar == nil || phase != pBar.phase || batchIdx == 0 {
		pBar.newBar(phase, numBatches)
	}
	pBar.lossSum += batchLoss
	pBar.batches++
	meanLoss := pBar.lossSum / float64(pBar.batches)
	last := numBatches > 0 && batchIdx+1 >= numBatches
	if !last && time.Since(pBar.lastUpdate) < RefreshPeriod {
		_ = pBar.bar.Set(batchIdx + 1)
		return nil
	}
	pBar.lastUpdate = time.Now()

	if pBar.inNotebook {
		pBar.suffix = fmt.Sprintf(" [batch loss=%.4g]        ", meanLoss)
		_ = pBar.bar.Set(batchIdx + 1)
	} else {
		pBar.suffix = "\033[J"
		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Phase", phase)
		pBar.statsTable.Row("Batch", fmt.Sprintf("%s of %s", humanizeCount(batchIdx+1), humanizeCount(numBatches)))
		pBar.statsTable.Row("Mean batch loss", fmt.Sprintf("%.6g", meanLoss))
		pBar.statsTable.Row("Elapsed", FormatDuration(time.Since(pBar.start)))
		pBar.termenv.HideCursor()
		if pBar.printed {
			// Table with 4 rows and borders, plus the bar line.
			pBar.termenv.CursorPrevLine(4 + 2 + 1)
		}
		pBar.printed = true
		_, _ = fmt.Fprintln(pBar.writer, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Set(batchIdx + 1)
		_, _ = fmt.Fprintln(pBar.writer)
		pBar.termenv.ShowCursor()
	}
	if last {
		pBar.finishBar()
	}
	return nil
}

// Close finishes the current bar, if any.
func (pBar *ProgressBar) Close() {
	pBar.finishBar()
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
}
