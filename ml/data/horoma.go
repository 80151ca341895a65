// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// HoromaHeight, HoromaWidth and HoromaChannels are the dimensions of the Horoma image tiles.
	HoromaHeight   = 32
	HoromaWidth    = 32
	HoromaChannels = 3

	// NumClasses is the number of tree species in the Horoma labels, plus one "unknown" bucket.
	NumClasses = 17
)

// HoromaDims are the image dimensions of the Horoma dataset.
var HoromaDims = [3]int{HoromaHeight, HoromaWidth, HoromaChannels}

// LoadHoroma loads one split of the Horoma dataset from dir.
//
// The split is stored as:
//
//   - "<split>_x.dat": raw uint8 pixels, N x 32 x 32 x 3, channels last.
//   - "<split>_y.txt" (optional): one integer class id per line. Without it the split is unlabeled.
//
// Pixel values are scaled to [0, 1].
func LoadHoroma(dir, split string) (*InMemory, error) {
	dir = ReplaceTildeInDir(dir)
	imagesPath := path.Join(dir, split+"_x.dat")
	raw, err := os.ReadFile(imagesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Horoma images for split %q", split)
	}
	exampleSize := HoromaHeight * HoromaWidth * HoromaChannels
	if len(raw)%exampleSize != 0 {
		return nil, errors.Errorf("Horoma images file %q has %d bytes, not a multiple of the image size %d",
			imagesPath, len(raw), exampleSize)
	}
	images := make([]float32, len(raw))
	for ii, v := range raw {
		images[ii] = float32(v) / 255.0
	}
	numExamples := len(raw) / exampleSize

	var labels []int32
	labelsPath := path.Join(dir, split+"_y.txt")
	if FileExists(labelsPath) {
		labels, err = readLabels(labelsPath)
		if err != nil {
			return nil, err
		}
		if len(labels) != numExamples {
			return nil, errors.Errorf("Horoma split %q has %d images but %d labels", split, numExamples, len(labels))
		}
	}
	klog.V(1).Infof("Loaded Horoma split %q: %s examples (labeled=%v)", split, humanize.Comma(int64(numExamples)), labels != nil)
	return NewInMemory(fmt.Sprintf("Horoma %s", split), HoromaDims, images, labels), nil
}

func readLabels(labelsPath string) ([]int32, error) {
	f, err := os.Open(labelsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open labels file %q", labelsPath)
	}
	defer func() { _ = f.Close() }()
	var labels []int32
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		value, err := strconv.ParseInt(line, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "labels file %q, line %d", labelsPath, lineNum)
		}
		labels = append(labels, int32(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read labels file %q", labelsPath)
	}
	return labels, nil
}

// WriteHoroma writes ds in the format read by LoadHoroma. Pixel values are expected in [0, 1].
func WriteHoroma(dir, split string, ds Dataset) error {
	if ds.ImageDims() != HoromaDims {
		return errors.Errorf("dataset %q has image dimensions %v, Horoma requires %v", ds.Name(), ds.ImageDims(), HoromaDims)
	}
	dir = ReplaceTildeInDir(dir)
	exampleSize := ExampleSize(ds)
	raw := make([]byte, ds.Len()*exampleSize)
	buf := make([]float32, exampleSize)
	var labels strings.Builder
	for ii := range ds.Len() {
		label := ds.Example(ii, buf)
		for jj, v := range buf {
			raw[ii*exampleSize+jj] = byte(min(max(v, 0), 1)*255 + 0.5)
		}
		if ds.HasLabels() {
			labels.WriteString(strconv.Itoa(int(label)))
			labels.WriteByte('\n')
		}
	}
	if err := os.WriteFile(path.Join(dir, split+"_x.dat"), raw, 0644); err != nil {
		return errors.Wrapf(err, "failed to write Horoma images for split %q", split)
	}
	if ds.HasLabels() {
		if err := os.WriteFile(path.Join(dir, split+"_y.txt"), []byte(labels.String()), 0644); err != nil {
			return errors.Wrapf(err, "failed to write Horoma labels for split %q", split)
		}
	}
	return nil
}
