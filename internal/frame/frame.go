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
	"fmt"
	"strings"

	"github.com/mlnoga/flatfield/internal/stats"
)

// A monochrome image frame in acquisition units.
// Pixel values are held as float32, with Bitpix recording the source format:
// positive values are unsigned integer bit depths (8 or 16), -32 is floating point.
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output
	Channel  string // Channel key this frame belongs to, if known

	Bitpix int32   // Bits per pixel value. 8 or 16 integral, -32 floating
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels int32   // Number of pixels in the image. Product of Naxisn[]

	Data []float32 // The image data

	Stats *stats.Stats // Basic image statistics: min, mean, max
}

// Creates an image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32, bitpix int32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Image{
		Bitpix: bitpix,
		Naxisn: append([]int32(nil), naxisn...), // clone slice
		Pixels: numPixels,
		Data:   data,
		Stats:  stats.CalcStats(data),
	}
}

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Returns the largest representable pixel value for the image format,
// or zero for floating point formats which do not clip
func (f *Image) MaxDN() float32 {
	switch f.Bitpix {
	case 8:
		return 255
	case 16:
		return 65535
	default:
		return 0
	}
}

// Read an image frame from a file, dispatching on the filename suffix
func ReadFile(fileName string, id int) (f *Image, err error) {
	f = &Image{ID: id, FileName: fileName}
	fnLower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff"):
		err = f.ReadTIFF(fileName)
	case strings.HasSuffix(fnLower, ".png"):
		err = f.ReadPNG(fileName)
	case strings.HasSuffix(fnLower, ".fits") || strings.HasSuffix(fnLower, ".fit") || strings.HasSuffix(fnLower, ".fts"):
		err = f.ReadFITS(fileName)
	default:
		err = fmt.Errorf("%s: unknown image suffix", fileName)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Write an image frame to a file, dispatching on the filename suffix.
// Integer formats are clamped and rounded; the bit depth of the image is preserved
func (f *Image) WriteFile(fileName string) error {
	fnLower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff"):
		return f.WriteTIFF(fileName)
	case strings.HasSuffix(fnLower, ".png"):
		return f.WritePNG(fileName)
	case strings.HasSuffix(fnLower, ".fits") || strings.HasSuffix(fnLower, ".fit") || strings.HasSuffix(fnLower, ".fts"):
		return f.WriteFITS(fileName)
	}
	return fmt.Errorf("%s: unknown image suffix", fileName)
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
