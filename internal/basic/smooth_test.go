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

package basic

import (
	"math"
	"testing"
)

func TestGaussianKernel1D(t *testing.T) {
	for _, sigma := range []float64{0.5, 1, 2.5, 4} {
		kernel := GaussianKernel1D(sigma)
		if len(kernel)%2 != 1 {
			t.Errorf("sigma %f: kernel length %d is not odd", sigma, len(kernel))
		}
		sum := float64(0)
		for _, v := range kernel {
			if v < 0 {
				t.Errorf("sigma %f: negative kernel entry %f", sigma, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("sigma %f: kernel sum %f; want 1", sigma, sum)
		}
		mid := len(kernel) / 2
		for i := 0; i < mid; i++ {
			if kernel[i] != kernel[len(kernel)-1-i] {
				t.Errorf("sigma %f: kernel not symmetric at %d", sigma, i)
			}
			if kernel[i] > kernel[i+1] {
				t.Errorf("sigma %f: kernel not monotonic towards center at %d", sigma, i)
			}
		}
	}
}

func TestGaussFilter2DPreservesConstant(t *testing.T) {
	width, height := 16, 12
	data := make([]float64, width*height)
	tmp := make([]float64, width*height)
	for i := range data {
		data[i] = 0.75
	}
	GaussFilter2D(data, tmp, width, 2.0)
	for i, v := range data {
		if math.Abs(v-0.75) > 1e-12 {
			t.Fatalf("data[%d]=%f; want 0.75", i, v)
		}
	}
}

func TestGaussFilter2DSmooths(t *testing.T) {
	width, height := 15, 15
	data := make([]float64, width*height)
	tmp := make([]float64, width*height)
	data[7*width+7] = 1 // single impulse
	GaussFilter2D(data, tmp, width, 1.5)

	center := data[7*width+7]
	if center <= 0 || center >= 1 {
		t.Errorf("center=%f; want in (0,1)", center)
	}
	if data[7*width+8] >= center {
		t.Errorf("neighbor %f not below center %f", data[7*width+8], center)
	}
	sum := float64(0)
	for _, v := range data {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("mass %f; want 1", sum)
	}
}
