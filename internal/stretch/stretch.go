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

// Package stretch renders screen-ready previews from linear image data:
// automatic histogram stretching, black point clipping and light denoising.
package stretch

import (
	"fmt"
	"math"

	"github.com/mlnoga/nightwatch/internal/fits"
	"github.com/mlnoga/nightwatch/internal/median"
	"github.com/mlnoga/nightwatch/internal/stats"
)

// An automatic stretch algorithm
type Algo int

const (
	AlgoLinearPercentile Algo = iota // linear stretch between symmetric percentiles, best for star fields
	AlgoMTF                          // PixInsight midtones transfer function, best for nebulae
	AlgoStdDev                       // standard deviation contrast stretch
)

// Clipping point for MTF shadows, in average deviations below the median
const mtfShadowsClip float32 = -2.0

// Applies the given automatic stretch to the image, per channel plane for
// color images. Data must be normalized to [0,1] before. Operates in-place
func AutoStretch(f *fits.Image, algo Algo, strength float32) error {
	channels := int32(1)
	if f.IsColor() {
		channels = 3
	}
	for ch := int32(0); ch < channels; ch++ {
		data := f.Channel(ch)
		switch algo {
		case AlgoLinearPercentile:
			stretchLinearPercentile(data, strength)
		case AlgoMTF:
			stretchMTF(data, strength)
		case AlgoStdDev:
			stretchStdDev(data, strength)
		default:
			return fmt.Errorf("unknown stretch algorithm %d", algo)
		}
	}
	f.Stats.Clear()
	return nil
}

// Linear stretch between the strength-th and (100-strength)-th percentile,
// clipping results to [0,1]. strength is in percent
func stretchLinearPercentile(data []float32, strength float32) {
	low := stats.Percentile(data, strength)
	high := stats.Percentile(data, 100-strength)
	if high <= low {
		return
	}
	scale := 1.0 / (high - low)
	for i, d := range data {
		v := (d - low) * scale
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		data[i] = v
	}
}

// The PixInsight midtones transfer function.
// MTF(m,x) is 0 for x=0, 0.5 for x=m, 1 for x=1, and
// (m-1)x / ((2m-1)x - m) otherwise
func mtf(m, x float32) float32 {
	switch {
	case x <= 0:
		return 0
	case x == m:
		return 0.5
	case x >= 1:
		return 1
	}
	return (m - 1) * x / ((2*m-1)*x - m)
}

// Midtones transfer function stretch with automatic parameter estimation.
// targetBkg is the desired background level in [0,1]. The shadows clipping
// point sits at mtfShadowsClip average deviations below the median
func stretchMTF(data []float32, targetBkg float32) {
	max := float32(-math.MaxFloat32)
	for _, d := range data {
		if d > max {
			max = d
		}
	}
	if max <= 0 {
		return
	}
	norm := 1.0 / max
	for i, d := range data {
		data[i] = d * norm
	}

	med := stats.Median(data)
	avgDev := stats.AvgAbsDeviation(data, med)

	c0 := med + mtfShadowsClip*avgDev
	if c0 < 0 {
		c0 = 0
	} else if c0 > 1 {
		c0 = 1
	}
	m := mtf(targetBkg, med-c0)

	rescale := 1.0 / (1 - c0)
	for i, d := range data {
		if d < c0 {
			data[i] = 0
		} else {
			data[i] = mtf(m, (d-c0)*rescale)
		}
	}
}

// Standard deviation contrast stretch. strength in (0,8] selects the
// contrast factor; results are clipped to [0,1]
func stretchStdDev(data []float32, strength float32) {
	s := stats.CalcBasicStats(data)
	if s.StdDev == 0 || strength <= 0 {
		return
	}
	contrastFactor := 1.0 / (2000 * strength)
	scale := 1.0 / (s.StdDev * contrastFactor)
	for i, d := range data {
		v := (d - s.Mean) * scale
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		data[i] = v
	}
}

// Replaces the lowest percent of values by zero, per channel plane for color
// images. Used as an automatic black point clip after stretching
func ReplaceLowestPercentByZero(f *fits.Image, percent float32) {
	if percent <= 0 {
		return
	}
	channels := int32(1)
	if f.IsColor() {
		channels = 3
	}
	for ch := int32(0); ch < channels; ch++ {
		data := f.Channel(ch)
		min, max := data[0], data[0]
		for _, d := range data {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
		}
		// histogram percentile avoids a scratch copy of the full plane
		threshold := stats.HistogramPercentile(data, min, max, percent)
		for i, d := range data {
			if d < threshold {
				data[i] = 0
			}
		}
	}
	f.Stats.Clear()
}

// Applies a 3x3 median filter to each channel plane to suppress residual
// shot noise in previews. Operates in-place
func Denoise(f *fits.Image) {
	channels := int32(1)
	if f.IsColor() {
		channels = 3
	}
	width := f.Naxisn[0]
	buffer := make([]float32, f.PlaneSize())
	for ch := int32(0); ch < channels; ch++ {
		data := f.Channel(ch)
		median.MedianFilter3x3(buffer, data, width)
		copy(data, buffer)
	}
	f.Stats.Clear()
}
