// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ToImage converts a flat image (height-major, channels last, values in [0, 1]) to an image.Image.
// Channels can be 1 (grayscale) or 3 (RGB).
func ToImage(flat []float32, height, width, channels int) image.Image {
	if channels != 1 && channels != 3 {
		exceptions.Panicf("ToImage: only 1 or 3 channels are supported, got %d", channels)
	}
	if len(flat) != height*width*channels {
		exceptions.Panicf("ToImage: %d values for an image of %dx%dx%d", len(flat), height, width, channels)
	}
	toByte := func(v float32) uint8 {
		return uint8(min(max(v, 0), 1)*255 + 0.5)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			base := (y*width + x) * channels
			c := color.NRGBA{A: 255}
			if channels == 1 {
				c.R = toByte(flat[base])
				c.G, c.B = c.R, c.R
			} else {
				c.R, c.G, c.B = toByte(flat[base]), toByte(flat[base+1]), toByte(flat[base+2])
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// ImageGrid pastes the images in rows of numCols, each scaled by scale (nearest-neighbor), with a
// padding of 2 pixels between them.
func ImageGrid(images []image.Image, numCols, scale int) image.Image {
	if len(images) == 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	const padding = 2
	numCols = max(1, min(numCols, len(images)))
	numRows := (len(images) + numCols - 1) / numCols
	cellW := images[0].Bounds().Dx() * scale
	cellH := images[0].Bounds().Dy() * scale
	grid := imaging.New(numCols*(cellW+padding)+padding, numRows*(cellH+padding)+padding, color.White)
	for ii, img := range images {
		img = imaging.Resize(img, cellW, cellH, imaging.NearestNeighbor)
		row, col := ii/numCols, ii%numCols
		grid = imaging.Paste(grid, img, image.Pt(padding+col*(cellW+padding), padding+row*(cellH+padding)))
	}
	return grid
}

// SaveReconstructions saves a PNG with originals in the first row of each pair of rows and their
// reconstructions underneath. Both are flat images of the given dimensions.
func SaveReconstructions(filePath string, originals, reconstructions [][]float32, dims [3]int, scale int) error {
	if len(originals) != len(reconstructions) {
		return errors.Errorf("%d originals but %d reconstructions", len(originals), len(reconstructions))
	}
	const perRow = 8
	var images []image.Image
	for start := 0; start < len(originals); start += perRow {
		end := min(start+perRow, len(originals))
		for _, group := range [][][]float32{originals[start:end], reconstructions[start:end]} {
			for col := range perRow {
				if col < len(group) {
					images = append(images, ToImage(group[col], dims[0], dims[1], dims[2]))
				} else {
					images = append(images, imaging.New(dims[1], dims[0], color.White))
				}
			}
		}
	}
	if err := imaging.Save(ImageGrid(images, perRow, scale), filePath); err != nil {
		return errors.Wrapf(err, "saving reconstructions to %q", filePath)
	}
	return nil
}
