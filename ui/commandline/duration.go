// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"time"

	"github.com/dustin/go-humanize"
)

// FormatDuration pretty prints duration with at most 2 decimal places in its largest unit.
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	case d >= time.Microsecond:
		return d.Round(10 * time.Nanosecond).String()
	}
	return d.String()
}

// humanizeCount formats counts with thousands separators; negative counts are unknown.
func humanizeCount(n int) string {
	if n < 0 {
		return "?"
	}
	return humanize.Comma(int64(n))
}
