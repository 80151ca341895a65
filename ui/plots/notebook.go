// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"os"

	"github.com/janpfeifer/gonb/gonbui"
	"k8s.io/klog/v2"
)

// bashKernelEnv is set by the Jupyter bash_kernel (https://github.com/takluyver/bash_kernel).
const bashKernelEnv = "NOTEBOOK_BASH_KERNEL_CAPABILITIES"

// IsNotebook reports whether the program is running inside a Jupyter notebook, either in GoNB or
// launched from a bash_kernel. Terminal cursor control doesn't work in either.
func IsNotebook() bool {
	_, bashKernel := os.LookupEnv(bashKernelEnv)
	return gonbui.IsNotebook || bashKernel
}

// DisplayCurves displays the SVG curves of every metric type in a GoNB notebook. It's a no-op
// elsewhere.
func DisplayCurves(points Points, width, height int) {
	if !gonbui.IsNotebook {
		return
	}
	types, _ := points.MetricsTypes()
	for _, metricType := range types {
		svg, err := CurvesSVG(points, metricType, width, height)
		if err != nil {
			klog.Errorf("Failed to plot %s metrics: %+v", metricType, err)
			continue
		}
		gonbui.DisplayHTML(svg)
	}
}
