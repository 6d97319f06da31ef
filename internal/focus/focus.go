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

// Package focus collects focuser V-curve samples and fits them to find the
// best focus position.
package focus

import (
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/mlnoga/nightwatch/internal/fits"
	"github.com/mlnoga/nightwatch/internal/star"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var ErrNotEnoughSamples = errors.New("not enough valid focus samples for curve fitting")

// Fit methods, in cascade order
const (
	MethodParabolic  = "parabolic"
	MethodHyperbolic = "hyperbolic"
	MethodMinimum    = "minimum"
)

// Star detection parameters for focus frames
const (
	detectStarSig    float32 = 10
	detectBPSig      float32 = 5
	detectStarInOut  float32 = 1.4
	detectStarRadius int32   = 16
)

// half-width of the sample window around the raw minimum used for the
// parabolic fit
const parabolaWindow = 2

// One FWHM measurement at a focuser position
type Sample struct {
	Position  int     `json:"position"`
	FWHM      float32 `json:"fwhm"`
	StarCount int     `json:"star_count"`
	Valid     bool    `json:"valid"`
}

// Accumulates focus curve samples across an autofocus run
type Analyzer struct {
	MinStars int
	Samples  []Sample
	log      *slog.Logger
}

func NewAnalyzer(minStars int, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{MinStars: minStars, log: log}
}

func (a *Analyzer) Reset() { a.Samples = a.Samples[:0] }

// Counts detectable stars in a frame, used by the field search before
// sampling begins
func (a *Analyzer) CountStars(img *fits.Image) int {
	lum := img.Luminance()
	stars, _, _ := star.FindStars(lum.Data, lum.Naxisn[0], lum.Stats.Location(), lum.Stats.Scale(),
		detectStarSig, detectBPSig, detectStarInOut, detectStarRadius, nil)
	return len(stars)
}

// Detects stars in the frame, measures their mean FWHM, and appends a
// sample for the given focuser position. The sample is valid iff enough
// stars were found and measured
func (a *Analyzer) AnalyzeImage(img *fits.Image, position int) Sample {
	lum := img.Luminance()
	stars, _, _ := star.FindStars(lum.Data, lum.Naxisn[0], lum.Stats.Location(), lum.Stats.Scale(),
		detectStarSig, detectBPSig, detectStarInOut, detectStarRadius, nil)

	s := Sample{Position: position, StarCount: len(stars)}
	if len(stars) >= a.MinStars {
		fwhm, num := star.MeanFWHM(lum.Data, lum.Naxisn[0], stars)
		if num >= a.MinStars {
			s.FWHM, s.Valid = fwhm, true
		}
	}
	if !s.Valid {
		a.log.Warn("invalid focus sample", "position", position, "stars", s.StarCount)
	} else {
		a.log.Info("focus sample", "position", position, "fwhm", s.FWHM, "stars", s.StarCount)
	}
	a.Samples = append(a.Samples, s)
	return s
}

// Determines the best focus position from the collected samples. Samples
// sharing a position are averaged. The cascade tries a parabolic fit on a
// window around the raw minimum, then a hyperbolic fit over all points,
// then falls back to the raw minimum
func (a *Analyzer) CalculateBestFocus() (best int, method string, err error) {
	positions, fwhms := a.averagedCurve()
	if len(positions) < 3 {
		return 0, "", ErrNotEnoughSamples
	}

	minIdx := 0
	for i, f := range fwhms {
		if f < fwhms[minIdx] {
			minIdx = i
		}
	}

	lo, hi := minIdx-parabolaWindow, minIdx+parabolaWindow+1
	if lo < 0 {
		lo = 0
	}
	if hi > len(positions) {
		hi = len(positions)
	}
	if pos, ok := fitParabola(positions[lo:hi], fwhms[lo:hi], positions[0], positions[len(positions)-1]); ok {
		a.log.Info("focus curve fit", "method", MethodParabolic, "position", pos)
		return pos, MethodParabolic, nil
	}

	if pos, ok := fitHyperbola(positions, fwhms, positions[minIdx], fwhms[minIdx]); ok {
		a.log.Info("focus curve fit", "method", MethodHyperbolic, "position", pos)
		return pos, MethodHyperbolic, nil
	}

	a.log.Info("focus curve fit", "method", MethodMinimum, "position", positions[minIdx])
	return int(math.Round(positions[minIdx])), MethodMinimum, nil
}

// Averages FWHM measurements of valid samples sharing a focuser position,
// returning position-sorted parallel slices
func (a *Analyzer) averagedCurve() (positions, fwhms []float64) {
	sums := map[int]float64{}
	counts := map[int]int{}
	for _, s := range a.Samples {
		if !s.Valid {
			continue
		}
		sums[s.Position] += float64(s.FWHM)
		counts[s.Position]++
	}
	keys := make([]int, 0, len(sums))
	for p := range sums {
		keys = append(keys, p)
	}
	sort.Ints(keys)
	for _, p := range keys {
		positions = append(positions, float64(p))
		fwhms = append(fwhms, sums[p]/float64(counts[p]))
	}
	return positions, fwhms
}

// Least-squares parabola fit. Succeeds only if the parabola opens upward
// and the vertex lies inside [minPos, maxPos]
func fitParabola(xs, ys []float64, minPos, maxPos float64) (int, bool) {
	if len(xs) < 3 {
		return 0, false
	}
	A := mat.NewDense(len(xs), 3, nil)
	b := mat.NewVecDense(len(xs), nil)
	for i, x := range xs {
		A.Set(i, 0, x*x)
		A.Set(i, 1, x)
		A.Set(i, 2, 1)
		b.SetVec(i, ys[i])
	}
	var qr mat.QR
	qr.Factorize(A)
	coeffs := mat.NewVecDense(3, nil)
	if err := qr.SolveVecTo(coeffs, false, b); err != nil {
		return 0, false
	}
	pa, pb := coeffs.AtVec(0), coeffs.AtVec(1)
	if pa <= 0 {
		return 0, false
	}
	vertex := -pb / (2 * pa)
	if vertex < minPos || vertex > maxPos {
		return 0, false
	}
	return int(math.Round(vertex)), true
}

// Nelder-Mead fit of the hyperbolic model a*sqrt((x-b)^2+c)+d, the
// upward-opening V-curve; b is the best focus position
func fitHyperbola(xs, ys []float64, posAtMin, minFWHM float64) (int, bool) {
	maxFWHM, span := minFWHM, 1.0
	for i, y := range ys {
		if y > maxFWHM {
			maxFWHM = y
		}
		if dx := math.Abs(xs[i] - posAtMin); dx > span {
			span = dx
		}
	}

	sse := func(p []float64) float64 {
		a, b, c, d := p[0], p[1], math.Abs(p[2]), p[3]
		if c < 1e-6 {
			c = 1e-6
		}
		sum := 0.0
		for i, x := range xs {
			dx := x - b
			r := a*math.Sqrt(dx*dx+c) + d - ys[i]
			sum += r * r
		}
		return sum
	}

	init := []float64{(maxFWHM - minFWHM) / span, posAtMin, 1000, minFWHM}
	result, err := optimize.Minimize(optimize.Problem{Func: sse}, init, nil, &optimize.NelderMead{})
	if err != nil || result == nil {
		return 0, false
	}
	b := result.X[1]
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return 0, false
	}
	return int(math.Round(b)), true
}
