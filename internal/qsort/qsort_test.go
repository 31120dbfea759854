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

package qsort

import (
	"testing"

	"github.com/valyala/fastrand"
)

// prepare array of given length with a random permutation of 1..n
func permutation(n int, rng *fastrand.RNG) []float32 {
	arr := make([]float32, n)
	for j := 0; j < len(arr); j++ {
		arr[j] = float32(j + 1)
	}
	for j := 0; j < len(arr); j++ {
		k := rng.Uint32n(uint32(len(arr)))
		arr[j], arr[k] = arr[k], arr[j]
	}
	return arr
}

func TestMedian(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(42)
	for i := 1; i < 1000; i++ {
		arr := permutation(i, &rng)

		// calculate expected result
		var expect float32
		if (i & 1) != 0 {
			expect = float32((i + 1) / 2)
		} else {
			expect = 0.5 * (float32(i/2) + float32(i/2+1))
		}

		// calculate actual result and compare
		res := QSelectMedianFloat32(arr)
		if res != expect {
			t.Logf("median(1..%d) got %f expect %f\n", i, res, expect)
			t.Fail()
		}
	}
}

func TestSelectQuantile(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(43)
	quantiles := []float32{0, 0.25, 0.5, 0.75, 0.95, 1}
	for _, n := range []int{1, 2, 3, 10, 101, 999} {
		for _, q := range quantiles {
			arr := permutation(n, &rng)
			expect := float32(int(q*float32(n-1)+0.5) + 1)
			res := QSelectQuantileFloat32(arr, q)
			if res != expect {
				t.Errorf("quantile(1..%d, %.2f) got %f expect %f", n, q, res, expect)
			}
		}
	}
}

func TestSort(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(44)
	for _, n := range []int{1, 2, 17, 256, 1000} {
		arr := permutation(n, &rng)
		QSortFloat32(arr)
		for j, v := range arr {
			if v != float32(j+1) {
				t.Fatalf("sort(1..%d)[%d]=%f; want %d", n, j, v, j+1)
			}
		}
	}
}
