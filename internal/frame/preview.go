// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package frame

import (
	"bufio"
	"image"
	"image/png"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// False-color gradient keypoints for quick-look previews, blended in CIE Luv.
// Dark blue through teal and green to yellow
var previewGradient = []colorful.Color{
	{R: 0.267, G: 0.005, B: 0.329},
	{R: 0.229, G: 0.322, B: 0.546},
	{R: 0.128, G: 0.567, B: 0.551},
	{R: 0.369, G: 0.789, B: 0.383},
	{R: 0.993, G: 0.906, B: 0.144},
}

// Maps a normalized value in [0,1] onto the preview gradient
func previewColor(v float64) colorful.Color {
	if v <= 0 {
		return previewGradient[0]
	}
	if v >= 1 {
		return previewGradient[len(previewGradient)-1]
	}
	scaled := v * float64(len(previewGradient)-1)
	index := int(scaled)
	return previewGradient[index].BlendLuv(previewGradient[index+1], scaled-float64(index))
}

// Write a false-color quick-look PNG of the image, scaled to its min/max range
func (f *Image) WritePreviewPNG(fileName string) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	min, max := f.Stats.Min, f.Stats.Max
	scale := float32(0)
	if max > min {
		scale = 1 / (max - min)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (f.Data[y*width+x] - min) * scale
			c := previewColor(float64(v))
			r, g, b := c.RGB255()
			offset := y*img.Stride + x*4
			img.Pix[offset] = r
			img.Pix[offset+1] = g
			img.Pix[offset+2] = b
			img.Pix[offset+3] = 255
		}
	}

	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return png.Encode(writer, img)
}
