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
	"math"
	"path/filepath"
	"testing"
)

func makeTestImage(width, height, bitpix int32) *Image {
	f := NewImageFromNaxisn([]int32{width, height}, nil, bitpix)
	max := f.MaxDN()
	if max == 0 {
		max = 1
	}
	for i := range f.Data {
		f.Data[i] = float32(int32(i) % (int32(max) + 1))
	}
	return f
}

func TestTIFFRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, bitpix := range []int32{8, 16} {
		src := makeTestImage(17, 11, bitpix)
		fileName := filepath.Join(dir, "test.tif")
		if err := src.WriteFile(fileName); err != nil {
			t.Fatalf("bitpix %d: write: %s", bitpix, err.Error())
		}

		dst, err := ReadFile(fileName, 0)
		if err != nil {
			t.Fatalf("bitpix %d: read: %s", bitpix, err.Error())
		}
		if dst.Bitpix != bitpix {
			t.Errorf("bitpix=%d; want %d", dst.Bitpix, bitpix)
		}
		if !EqualInt32Slice(dst.Naxisn, src.Naxisn) {
			t.Errorf("naxisn=%v; want %v", dst.Naxisn, src.Naxisn)
		}
		for i, v := range dst.Data {
			if v != src.Data[i] {
				t.Fatalf("bitpix %d: data[%d]=%f; want %f", bitpix, i, v, src.Data[i])
			}
		}
	}
}

func TestPNGRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := makeTestImage(9, 13, 16)
	fileName := filepath.Join(dir, "test.png")
	if err := src.WriteFile(fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}

	dst, err := ReadFile(fileName, 0)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if dst.Bitpix != 16 {
		t.Errorf("bitpix=%d; want 16", dst.Bitpix)
	}
	for i, v := range dst.Data {
		if v != src.Data[i] {
			t.Fatalf("data[%d]=%f; want %f", i, v, src.Data[i])
		}
	}
}

func TestFITSRoundTripBitForBit(t *testing.T) {
	dir := t.TempDir()
	src := NewImageFromNaxisn([]int32{31, 7}, nil, -32)
	for i := range src.Data {
		src.Data[i] = float32(math.Sin(float64(i))) * 1.2345e-3
	}
	fileName := filepath.Join(dir, "map.fits")
	if err := src.WriteFITS(fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}

	dst := &Image{}
	if err := dst.ReadFITS(fileName); err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if dst.Bitpix != -32 {
		t.Errorf("bitpix=%d; want -32", dst.Bitpix)
	}
	if !EqualInt32Slice(dst.Naxisn, src.Naxisn) {
		t.Fatalf("naxisn=%v; want %v", dst.Naxisn, src.Naxisn)
	}
	for i, v := range dst.Data {
		if math.Float32bits(v) != math.Float32bits(src.Data[i]) {
			t.Fatalf("data[%d]=%x; want %x", i, math.Float32bits(v), math.Float32bits(src.Data[i]))
		}
	}
}

func TestWriteClampsAndRounds(t *testing.T) {
	dir := t.TempDir()
	src := NewImageFromNaxisn([]int32{4, 1}, []float32{-12.3, 7.5, 254.4, 1000}, 8)
	fileName := filepath.Join(dir, "clip.tif")
	if err := src.WriteFile(fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}
	dst, err := ReadFile(fileName, 0)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	want := []float32{0, 8, 254, 255}
	for i, v := range dst.Data {
		if v != want[i] {
			t.Errorf("data[%d]=%f; want %f", i, v, want[i])
		}
	}
}

func TestPreviewPNG(t *testing.T) {
	dir := t.TempDir()
	src := makeTestImage(8, 8, 16)
	fileName := filepath.Join(dir, "preview.png")
	if err := src.WritePreviewPNG(fileName); err != nil {
		t.Fatalf("preview: %s", err.Error())
	}
	dst, err := ReadFile(fileName, 0)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if !EqualInt32Slice(dst.Naxisn, src.Naxisn) {
		t.Errorf("naxisn=%v; want %v", dst.Naxisn, src.Naxisn)
	}
}
