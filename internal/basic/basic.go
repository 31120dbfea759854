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

// Package basic estimates per-channel flat-field correction profiles from a
// batch of raw frames, by iterative decomposition of the observed stack into
// a smooth multiplicative shading map, an additive dark-offset map, a
// per-frame intensity baseline, and a sparse outlier residual:
//
//	observed[i] ≈ baseline[i]*shading + darkfield + sparse[i]
package basic

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mlnoga/flatfield/internal/frame"
	"github.com/mlnoga/flatfield/internal/stats"
	"gonum.org/v1/gonum/floats"
)

// Reported when a channel's batch holds too few frames to separate shading from content
var ErrInsufficientImages = errors.New("insufficient images for estimation")

// Reported when frames in a batch do not share identical pixel dimensions
var ErrDimensionMismatch = errors.New("frame dimensions differ within channel")

// Reported when estimation produces non-finite intermediate values
var ErrDivergence = errors.New("numerical divergence during estimation")

// Tunable constants of the estimation. Zero values are replaced by defaults
type Config struct {
	MaxIterations int     `yaml:"maxIterations" json:"maxIterations"` // iteration cap; reaching it yields a usable, unconverged estimate
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`         // relative Frobenius-norm change below which iteration stops
	SmoothSigma   float64 `yaml:"smoothSigma" json:"smoothSigma"`     // gaussian smoothing sigma as a fraction of image width
	SparseLambda  float64 `yaml:"sparseLambda" json:"sparseLambda"`   // soft threshold for the sparse outlier residual, in normalized units
	Darkfield     bool    `yaml:"darkfield" json:"darkfield"`         // estimate an additive dark-offset map as well
	Epsilon       float64 `yaml:"epsilon" json:"epsilon"`             // strictly positive floor for the shading map
	MinImages     int     `yaml:"minImages" json:"minImages"`         // below this batch size estimation fails
	MaxImages     int     `yaml:"maxImages" json:"maxImages"`         // reference batch cap per channel
}

func DefaultConfig() Config {
	return Config{
		MaxIterations: 50,
		Tolerance:     1e-4,
		SmoothSigma:   0.125,
		SparseLambda:  0.1,
		Darkfield:     false,
		Epsilon:       1e-6,
		MinImages:     8,
		MaxImages:     48,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = def.Tolerance
	}
	if c.SmoothSigma <= 0 {
		c.SmoothSigma = def.SmoothSigma
	}
	if c.SparseLambda <= 0 {
		c.SparseLambda = def.SparseLambda
	}
	if c.Epsilon <= 0 {
		c.Epsilon = def.Epsilon
	}
	if c.MinImages <= 0 {
		c.MinImages = def.MinImages
	}
	if c.MaxImages <= 0 {
		c.MaxImages = def.MaxImages
	}
}

// An estimated flat-field profile for one channel
type Profile struct {
	Channel    string
	Shading    *frame.Image // multiplicative map, mean 1.0, strictly positive
	Darkfield  *frame.Image // additive map in raw intensity units, all zero if disabled
	Baseline   []float64    // per-frame scalar trend in raw intensity units, diagnostic only
	Iterations int
	Converged  bool
}

type Estimator struct {
	Config Config
	Log    io.Writer
}

func NewEstimator(cfg Config, log io.Writer) *Estimator {
	cfg.applyDefaults()
	return &Estimator{Config: cfg, Log: log}
}

// Mutable state of the iterative decomposition, in normalized intensity scale
type iterState struct {
	width     int
	shading   []float64
	darkfield []float64
	baseline  []float64
	sparse    [][]float32
	tmp       []float64
	relChange float64
	iteration int
}

// EstimateChannel computes a flat-field profile from one channel's frames.
// All frames must share identical pixel dimensions. The input data is not modified
func (e *Estimator) EstimateChannel(channel string, frames []*frame.Image) (*Profile, error) {
	cfg := e.Config
	if len(frames) < cfg.MinImages {
		return nil, fmt.Errorf("channel %s: %w: have %d frames, need %d",
			channel, ErrInsufficientImages, len(frames), cfg.MinImages)
	}
	naxisn := frames[0].Naxisn
	for _, f := range frames[1:] {
		if !frame.EqualInt32Slice(f.Naxisn, naxisn) {
			return nil, fmt.Errorf("channel %s: %w: %s has %s pixels, expected %s",
				channel, ErrDimensionMismatch, f.FileName, f.DimensionsToString(), frames[0].DimensionsToString())
		}
	}
	width, pixels := int(naxisn[0]), int(frames[0].Pixels)

	// Normalize to a scale-invariant working range via the batch 95th percentile
	scale := e.workingScale(frames)
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("channel %s: %w: degenerate intensity scale %g", channel, ErrDivergence, scale)
	}
	obs := make([][]float32, len(frames))
	invScale := float32(1.0 / scale)
	for i, f := range frames {
		norm := make([]float32, pixels)
		for p, v := range f.Data {
			norm[p] = v * invScale
		}
		obs[i] = norm
	}

	// Initialize: uniform shading, zero darkfield, per-frame mean baselines
	st := &iterState{
		width:     width,
		shading:   make([]float64, pixels),
		darkfield: make([]float64, pixels),
		baseline:  make([]float64, len(frames)),
		sparse:    make([][]float32, len(frames)),
		tmp:       make([]float64, pixels),
	}
	for p := range st.shading {
		st.shading[p] = 1
	}
	for i, o := range obs {
		st.baseline[i] = float64(stats.CalcStats(o).Mean)
		st.sparse[i] = make([]float32, pixels)
	}

	// Iterate until the maps stop changing, or the cap is reached
	converged := false
	for st.iteration = 1; st.iteration <= cfg.MaxIterations; st.iteration++ {
		if err := e.step(st, obs); err != nil {
			return nil, fmt.Errorf("channel %s: %w", channel, err)
		}
		if st.relChange < cfg.Tolerance {
			converged = true
			break
		}
	}
	iterations := st.iteration
	if iterations > cfg.MaxIterations {
		iterations = cfg.MaxIterations
	}
	if !converged && e.Log != nil {
		fmt.Fprintf(e.Log, "%s: estimation hit iteration cap %d with relative change %.3g, using best estimate\n",
			channel, cfg.MaxIterations, st.relChange)
	}

	// Rescale so the shading mean is exactly 1.0, compensating via the baselines,
	// and return the darkfield and baselines to raw intensity units
	meanShading := floats.Sum(st.shading) / float64(pixels)
	if meanShading <= 0 || math.IsNaN(meanShading) {
		return nil, fmt.Errorf("channel %s: %w: shading mean %g", channel, ErrDivergence, meanShading)
	}
	floats.Scale(1/meanShading, st.shading)
	for i := range st.baseline {
		st.baseline[i] *= meanShading * scale
	}
	floats.Scale(scale, st.darkfield)
	clampFloor(st.shading, cfg.Epsilon)

	shadingData := make([]float32, pixels)
	darkData := make([]float32, pixels)
	for p := range shadingData {
		shadingData[p] = float32(st.shading[p])
		darkData[p] = float32(st.darkfield[p])
	}
	shadingImg := frame.NewImageFromNaxisn(naxisn, shadingData, -32)
	shadingImg.Channel = channel
	darkImg := frame.NewImageFromNaxisn(naxisn, darkData, -32)
	darkImg.Channel = channel

	return &Profile{
		Channel:    channel,
		Shading:    shadingImg,
		Darkfield:  darkImg,
		Baseline:   st.baseline,
		Iterations: iterations,
		Converged:  converged,
	}, nil
}

// One pass of the block-coordinate descent: refit the maps against the current
// baselines and sparse residuals, smooth them, update the sparse residuals,
// and refit the baselines. Updates st.relChange with the relative Frobenius
// change of the maps for the convergence test
func (e *Estimator) step(st *iterState, obs [][]float32) error {
	cfg := e.Config
	n := len(obs)
	pixels := len(st.shading)

	prevShading := append([]float64(nil), st.shading...)
	prevDark := append([]float64(nil), st.darkfield...)

	// Per-pixel least-squares fit of shading (and darkfield) against the baselines
	sumB, sumBB := float64(0), float64(0)
	for _, b := range st.baseline {
		sumB += b
		sumBB += b * b
	}
	const ridge = 1e-9
	for p := 0; p < pixels; p++ {
		sumY, sumBY := float64(0), float64(0)
		for i := 0; i < n; i++ {
			y := float64(obs[i][p] - st.sparse[i][p])
			sumY += y
			sumBY += st.baseline[i] * y
		}
		if cfg.Darkfield {
			denom := float64(n)*sumBB - sumB*sumB
			if math.Abs(denom) > ridge {
				slope := (float64(n)*sumBY - sumB*sumY) / denom
				st.shading[p] = slope
				st.darkfield[p] = (sumY - slope*sumB) / float64(n)
			} else {
				st.shading[p] = sumBY / (sumBB + ridge)
				st.darkfield[p] = 0
			}
		} else {
			st.shading[p] = sumBY / (sumBB + ridge)
		}
	}

	// Smoothness prior: both maps are low-frequency by construction
	sigma := cfg.SmoothSigma * float64(st.width)
	GaussFilter2D(st.shading, st.tmp, st.width, sigma)
	if cfg.Darkfield {
		GaussFilter2D(st.darkfield, st.tmp, st.width, sigma)
	}
	clampFloor(st.shading, cfg.Epsilon)

	// Sparse residual: soft-threshold what the smooth model cannot explain,
	// so debris and saturated regions do not bleed into the shading map
	lambda := float32(cfg.SparseLambda)
	for i := 0; i < n; i++ {
		b := st.baseline[i]
		for p := 0; p < pixels; p++ {
			r := obs[i][p] - float32(b*st.shading[p]+st.darkfield[p])
			st.sparse[i][p] = softThreshold(r, lambda)
		}
	}

	// Closed-form least-squares baseline refit per frame
	sumSS := float64(0)
	for p := 0; p < pixels; p++ {
		sumSS += st.shading[p] * st.shading[p]
	}
	for i := 0; i < n; i++ {
		sum := float64(0)
		for p := 0; p < pixels; p++ {
			sum += st.shading[p] * (float64(obs[i][p]-st.sparse[i][p]) - st.darkfield[p])
		}
		b := sum / (sumSS + ridge)
		if b < 1e-9 {
			b = 1e-9
		}
		st.baseline[i] = b
	}

	if !allFinite(st.shading) || !allFinite(st.darkfield) || !allFinite(st.baseline) {
		return fmt.Errorf("%w at iteration %d", ErrDivergence, st.iteration)
	}

	// Relative Frobenius-norm change of both maps since the previous iteration
	shadingChange := floats.Distance(st.shading, prevShading, 2) / (floats.Norm(prevShading, 2) + 1e-12)
	darkNorm := floats.Norm(prevDark, 2)
	if darkNorm < 1 {
		darkNorm = 1
	}
	darkChange := floats.Distance(st.darkfield, prevDark, 2) / darkNorm
	st.relChange = math.Max(shadingChange, darkChange)
	return nil
}

// The normalization scale for a batch: mean of the per-frame 95th percentiles
func (e *Estimator) workingScale(frames []*frame.Image) float64 {
	sum := float64(0)
	for _, f := range frames {
		sum += float64(stats.FastApproxQuantile(f.Data, 0.95))
	}
	return sum / float64(len(frames))
}

func softThreshold(v, lambda float32) float32 {
	if v > lambda {
		return v - lambda
	}
	if v < -lambda {
		return v + lambda
	}
	return 0
}

func clampFloor(data []float64, floor float64) {
	for i, v := range data {
		if v < floor {
			data[i] = floor
		}
	}
}

func allFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
