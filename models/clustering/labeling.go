// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package clustering

import (
	"github.com/gomlx/exceptions"
)

// Labeling maps clusters to class labels by majority vote of the labeled examples assigned to each
// cluster. Clusters without labeled examples are mapped to Default.
type Labeling struct {
	ClusterToLabel []int32
	Default        int32
}

// NewLabeling builds the labeling from the cluster assignments of labeled examples.
// Ties are resolved in favor of the smallest label.
func NewLabeling(numClusters, numClasses int, clusters []int, labels []int32, defaultLabel int32) *Labeling {
	if len(clusters) != len(labels) {
		exceptions.Panicf("NewLabeling: %d cluster assignments but %d labels", len(clusters), len(labels))
	}
	votes := make([][]int, numClusters)
	for c := range votes {
		votes[c] = make([]int, numClasses)
	}
	for ii, c := range clusters {
		label := labels[ii]
		if label < 0 || int(label) >= numClasses {
			continue
		}
		votes[c][label]++
	}
	l := &Labeling{ClusterToLabel: make([]int32, numClusters), Default: defaultLabel}
	for c, counts := range votes {
		best, bestCount := defaultLabel, 0
		for label, count := range counts {
			if count > bestCount {
				best, bestCount = int32(label), count
			}
		}
		l.ClusterToLabel[c] = best
	}
	return l
}

// Labels returns the label of each cluster assignment.
func (l *Labeling) Labels(clusters []int) []int32 {
	labels := make([]int32, len(clusters))
	for ii, c := range clusters {
		if c < 0 || c >= len(l.ClusterToLabel) {
			labels[ii] = l.Default
			continue
		}
		labels[ii] = l.ClusterToLabel[c]
	}
	return labels
}
