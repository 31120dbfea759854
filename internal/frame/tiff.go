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
	"fmt"
	"image"
	"io"
	"os"

	"github.com/mlnoga/flatfield/internal/stats"
	"golang.org/x/image/tiff"
)

// Read a grayscale TIFF file into the image, preserving the source bit depth.
// Multi-page files contribute their first page only
func (f *Image) ReadTIFF(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()
	reader := bufio.NewReader(file)

	t, err := tiff.Decode(reader)
	if err != nil {
		return err
	}
	return f.fromGrayImage(t)
}

// Write the image to a grayscale TIFF file with the bit depth given by Bitpix.
// Values are clamped to the representable range and rounded to nearest
func (f *Image) WriteTIFF(fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return f.writeTIFF(writer)
}

func (f *Image) writeTIFF(writer io.Writer) error {
	img, err := f.toGrayImage()
	if err != nil {
		return err
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}

// Convert a decoded golang image into frame data, keeping running statistics.
// Non-grayscale inputs are converted to 16-bit grayscale
func (f *Image) fromGrayImage(t image.Image) error {
	width, height := t.Bounds().Dx(), t.Bounds().Dy()
	f.Naxisn = []int32{int32(width), int32(height)}
	f.Pixels = int32(width) * int32(height)
	f.Data = make([]float32, f.Pixels)

	switch img := t.(type) {
	case *image.Gray:
		f.Bitpix = 8
		for y := 0; y < height; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+width]
			for x, v := range row {
				f.Data[y*width+x] = float32(v)
			}
		}
	case *image.Gray16:
		f.Bitpix = 16
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				offset := y*img.Stride + x*2
				v := uint16(img.Pix[offset])<<8 | uint16(img.Pix[offset+1])
				f.Data[y*width+x] = float32(v)
			}
		}
	default:
		// color input: fold to 16-bit luminance
		f.Bitpix = 16
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := t.At(t.Bounds().Min.X+x, t.Bounds().Min.Y+y).RGBA()
				f.Data[y*width+x] = 0.2126*float32(r) + 0.7152*float32(g) + 0.0722*float32(b)
			}
		}
	}

	f.Stats = stats.CalcStats(f.Data)
	return nil
}

// Convert frame data into a golang grayscale image of the frame's bit depth
func (f *Image) toGrayImage() (image.Image, error) {
	if len(f.Naxisn) != 2 {
		return nil, fmt.Errorf("%s: cannot write %s pixel image as grayscale", f.FileName, f.DimensionsToString())
	}
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])

	switch f.Bitpix {
	case 8:
		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Pix[y*img.Stride+x] = uint8(clampRound(f.Data[y*width+x], 255))
			}
		}
		return img, nil
	case 16, -32:
		// floating point frames are exported as 16-bit grayscale
		img := image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := uint16(clampRound(f.Data[y*width+x], 65535))
				offset := y*img.Stride + x*2
				img.Pix[offset] = uint8(v >> 8)
				img.Pix[offset+1] = uint8(v)
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("%s: unsupported bit depth %d", f.FileName, f.Bitpix)
}

// Clamp a pixel value into [0,max] and round to the nearest integer, without wraparound
func clampRound(v, max float32) float32 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return float32(int32(v + 0.5))
}
