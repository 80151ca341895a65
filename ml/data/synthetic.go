// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"math/rand"
)

// Synthetic generates a deterministic class-conditional image dataset: each class has a random
// prototype image, and each example is its class prototype plus Gaussian noise, clipped to [0, 1].
//
// It is used for tests and dry runs of the trainers without the Horoma files.
func Synthetic(name string, numExamples, numClasses int, dims [3]int, labeled bool, seed int64) *InMemory {
	rng := rand.New(rand.NewSource(seed))
	exampleSize := dims[0] * dims[1] * dims[2]
	prototypes := make([][]float32, numClasses)
	for c := range prototypes {
		prototypes[c] = make([]float32, exampleSize)
		for ii := range prototypes[c] {
			prototypes[c][ii] = rng.Float32()
		}
	}
	const noiseStdDev = 0.1
	images := make([]float32, numExamples*exampleSize)
	var labels []int32
	if labeled {
		labels = make([]int32, numExamples)
	}
	for ii := range numExamples {
		class := rng.Intn(numClasses)
		if labeled {
			labels[ii] = int32(class)
		}
		example := images[ii*exampleSize : (ii+1)*exampleSize]
		for jj := range example {
			v := prototypes[class][jj] + float32(rng.NormFloat64()*noiseStdDev)
			example[jj] = min(max(v, 0), 1)
		}
	}
	if name == "" {
		name = fmt.Sprintf("synthetic-%d", seed)
	}
	return NewInMemory(name, dims, images, labels)
}
