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

	"github.com/mlnoga/nightwatch/internal/qsort"
	"github.com/valyala/fastrand"
)

// Factor to convert the median absolute deviation into a standard deviation
// estimate for normally distributed data
const MADToStdDev float32 = 1.4826

const numApproxSamples int = 128 * 1024

// Basic statistics on a data array, calculated eagerly in a single pass
type Basic struct {
	Min    float32
	Max    float32
	Mean   float32
	StdDev float32
}

// Calculate basic statistics for a data array
func CalcBasicStats(data []float32) (s *Basic) {
	s = &Basic{}
	s.Min, s.Mean, s.Max = calcMinMeanMax(data)
	variance := calcVariance(data, s.Mean)
	s.StdDev = float32(math.Sqrt(float64(variance)))
	return s
}

func (s *Basic) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Statistics on an image channel, with lazily evaluated estimators.
// Location and scale use a randomized median/MAD approximation, which is
// robust to stars and hot pixels dominating the mean
type Stats struct {
	data  []float32 // underlying data array
	width int32     // line width of the underlying image

	min, max, mean   float32
	haveMinMaxMean   bool
	stdDev           float32
	haveStdDev       bool
	location, scale  float32
	haveLocScale     bool
}

// Creates statistics about the given data array, with lazy evaluation
func NewStats(data []float32, width int32) *Stats {
	return &Stats{data: data, width: width}
}

// Creates statistics about the given data array, with known min/max/mean
func NewStatsWithMMM(data []float32, width int32, min, max, mean float32) *Stats {
	return &Stats{data: data, width: width, min: min, max: max, mean: mean, haveMinMaxMean: true}
}

// Creates statistics about one channel plane of a channel-planar image.
// The data holds stride planes of equal size, channel ch is selected
func NewStatsForChannel(data []float32, width int32, ch, stride int32) *Stats {
	l := int32(len(data)) / stride
	return &Stats{data: data[ch*l : (ch+1)*l], width: width}
}

func (s *Stats) Data() []float32 { return s.data }

func (s *Stats) Min() float32 {
	if !s.haveMinMaxMean {
		s.min, s.mean, s.max = calcMinMeanMax(s.data)
		s.haveMinMaxMean = true
	}
	return s.min
}

func (s *Stats) Max() float32 {
	if !s.haveMinMaxMean {
		s.min, s.mean, s.max = calcMinMeanMax(s.data)
		s.haveMinMaxMean = true
	}
	return s.max
}

func (s *Stats) Mean() float32 {
	if !s.haveMinMaxMean {
		s.min, s.mean, s.max = calcMinMeanMax(s.data)
		s.haveMinMaxMean = true
	}
	return s.mean
}

func (s *Stats) StdDev() float32 {
	if !s.haveStdDev {
		variance := calcVariance(s.data, s.Mean())
		s.stdDev = float32(math.Sqrt(float64(variance)))
		s.haveStdDev = true
	}
	return s.stdDev
}

// Location estimate of the background, a randomized approximate median
func (s *Stats) Location() float32 {
	s.calcLocationScale()
	return s.location
}

// Scale estimate of the background noise, a randomized approximate MAD
// scaled to standard deviations
func (s *Stats) Scale() float32 {
	s.calcLocationScale()
	return s.scale
}

func (s *Stats) calcLocationScale() {
	if s.haveLocScale {
		return
	}
	numSamples := numApproxSamples
	if numSamples > len(s.data) {
		numSamples = len(s.data)
	}
	samples := make([]float32, numSamples)
	s.location = FastApproxMedian(s.data, samples)
	s.scale = FastApproxMAD(s.data, s.location, samples) * MADToStdDev
	s.haveLocScale = true
}

// Invalidates all cached estimators after the underlying data changed
func (s *Stats) Clear() {
	s.haveMinMaxMean = false
	s.haveStdDev = false
	s.haveLocScale = false
}

// Adjusts cached estimators for a linear pixel transformation x' = x*scale + offset,
// avoiding a full recalculation
func (s *Stats) UpdateCachedWith(scale, offset float32) {
	if s.haveMinMaxMean {
		s.min = s.min*scale + offset
		s.max = s.max*scale + offset
		s.mean = s.mean*scale + offset
		if scale < 0 {
			s.min, s.max = s.max, s.min
		}
	}
	if s.haveStdDev {
		s.stdDev *= float32(math.Abs(float64(scale)))
	}
	if s.haveLocScale {
		s.location = s.location*scale + offset
		s.scale *= float32(math.Abs(float64(scale)))
	}
}

func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g Location %.6g Scale %.6g",
		s.Min(), s.Max(), s.Mean(), s.Location(), s.Scale())
}

// Calculates the median of a random sample of the data, the sample size
// given by len(samples). Reuses the samples buffer across calls
func FastApproxMedian(data []float32, samples []float32) float32 {
	if len(samples) >= len(data) {
		copy(samples, data)
		return qsort.QSelectMedianFloat32(samples[:len(data)])
	}
	rng := fastrand.RNG{}
	for i := range samples {
		index := rng.Uint32n(uint32(len(data)))
		samples[i] = data[index]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates the median absolute deviation of a random sample of the data
// around the given location. Reuses the samples buffer across calls
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	if len(samples) >= len(data) {
		for i, d := range data {
			samples[i] = float32(math.Abs(float64(d - location)))
		}
		return qsort.QSelectMedianFloat32(samples[:len(data)])
	}
	rng := fastrand.RNG{}
	for i := range samples {
		index := rng.Uint32n(uint32(len(data)))
		samples[i] = float32(math.Abs(float64(data[index] - location)))
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Exact median of the data. Allocates a scratch copy
func Median(data []float32) float32 {
	tmp := make([]float32, len(data))
	copy(tmp, data)
	return qsort.QSelectMedianFloat32(tmp)
}

// Exact median absolute deviation around the given location. Allocates a scratch copy
func MAD(data []float32, location float32) float32 {
	tmp := make([]float32, len(data))
	for i, d := range data {
		tmp[i] = float32(math.Abs(float64(d - location)))
	}
	return qsort.QSelectMedianFloat32(tmp)
}

// Exact percentile in [0,100] of the data, nearest-rank. Allocates a scratch copy
func Percentile(data []float32, percentile float32) float32 {
	tmp := make([]float32, len(data))
	copy(tmp, data)
	return qsort.QSelectPercentileFloat32(tmp, percentile)
}

// Mean absolute deviation of the data around the given location
func AvgAbsDeviation(data []float32, location float32) float32 {
	sum := float64(0)
	for _, d := range data {
		sum += math.Abs(float64(d - location))
	}
	return float32(sum / float64(len(data)))
}

func calcMinMeanMax(data []float32) (min, mean, max float32) {
	min, max, sum := float32(math.MaxFloat32), float32(-math.MaxFloat32), float64(0)
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += float64(v)
	}
	return min, float32(sum / float64(len(data))), max
}

func calcVariance(data []float32, mean float32) float32 {
	sum := float64(0)
	for _, v := range data {
		d := float64(v - mean)
		sum += d * d
	}
	return float32(sum / float64(len(data)))
}
