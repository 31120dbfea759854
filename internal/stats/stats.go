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

package stats

import (
	"fmt"
	"math"

	"github.com/mlnoga/flatfield/internal/qsort"
	"github.com/valyala/fastrand"
)

// Basic statistics on data arrays
type Stats struct {
	Min    float32 // Minimum
	Max    float32 // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Standard deviation (norm 2, sigma)
}

// Pretty print basic stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g",
		s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculate basic statistics for a data array.
func CalcStats(data []float32) (s *Stats) {
	s = &Stats{}
	s.Min, s.Mean, s.Max = calcMinMeanMax(data)

	variance := calcVariance(data, s.Mean)
	s.StdDev = float32(math.Sqrt(float64(variance)))

	return s
}

// Calculate minimum, mean and maximum of given data
func calcMinMeanMax(data []float32) (min, mean, max float32) {
	mmin, msum, mmax := data[0], float64(0), data[0]
	for _, v := range data {
		if v < mmin {
			mmin = v
		}
		if v > mmax {
			mmax = v
		}
		msum += float64(v)
	}
	return mmin, float32(msum / float64(len(data))), mmax
}

// Calculate variance of given data around a known mean
func calcVariance(data []float32, mean float32) float32 {
	sum := float64(0)
	for _, v := range data {
		diff := float64(v - mean)
		sum += diff * diff
	}
	return float32(sum / float64(len(data)))
}

// Number of samples used by the fast approximate quantile estimators
const numQuantileSamples = 128 * 1024

// Fixed seed so repeated runs on the same inputs sample identically
const quantileSeed = 0x1e5bf1d

// Returns an approximation of the given quantile in [0,1] of the data,
// via deterministic sampling for large arrays, exact selection otherwise.
// Data must not contain IEEE NaN
func FastApproxQuantile(data []float32, q float32) float32 {
	if len(data) <= numQuantileSamples {
		samples := make([]float32, len(data))
		copy(samples, data)
		return qsort.QSelectQuantileFloat32(samples, q)
	}
	rng := fastrand.RNG{}
	rng.Seed(quantileSeed)
	samples := make([]float32, numQuantileSamples)
	for i := range samples {
		index := rng.Uint32n(uint32(len(data)))
		samples[i] = data[index]
	}
	return qsort.QSelectQuantileFloat32(samples, q)
}

// Returns an approximation of the median of the data. Data must not contain IEEE NaN
func FastApproxMedian(data []float32) float32 {
	return FastApproxQuantile(data, 0.5)
}
