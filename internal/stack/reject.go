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

package stack

import (
	"math"

	"github.com/mlnoga/nightwatch/internal/median"
	"github.com/mlnoga/nightwatch/internal/qsort"
	"github.com/mlnoga/nightwatch/internal/stats"
)

// Fraction of outlier pixels above which a frame is passed through
// unclipped rather than winsorized
const maxClipFraction float32 = 0.40

// Percentile of the per-pixel sigma distribution used as a floor, guarding
// against division-near-zero in flat image regions
const sigmaFloorPercentile float32 = 5

// Percentile of |frame-master| used as the base threshold for the cheap
// post-history rejection path
const rejectPercentile float32 = 95

// Per-pixel robust location and scale across a stack of aligned frames
type robustStats struct {
	med   []float32
	sigma []float32
	floor float32
}

// Computes the per-pixel median and MAD-derived sigma over the given frame
// planes, plus the sigma floor
func computeRobustStats(planes [][]float32) *robustStats {
	n := len(planes[0])
	k := len(planes)
	rs := &robustStats{med: make([]float32, n), sigma: make([]float32, n)}

	buf := make([]float32, k)
	for i := 0; i < n; i++ {
		for j, p := range planes {
			buf[j] = p[i]
		}
		med := median.MedianFloat32(buf)
		rs.med[i] = med
		for j, p := range planes {
			buf[j] = float32(math.Abs(float64(p[i] - med)))
		}
		rs.sigma[i] = stats.MADToStdDev * median.MedianFloat32(buf)
	}

	tmp := make([]float32, n)
	copy(tmp, rs.sigma)
	rs.floor = qsort.QSelectPercentileFloat32(tmp, sigmaFloorPercentile)
	return rs
}

// Winsorized sigma clipping of one frame plane against the robust stats of
// its history. NaN pixels (out-of-bounds after alignment) are always
// replaced by the median. Other outliers beyond sigmaThr sigmas are
// replaced by the median only when they make up less than 40% of the
// plane. Returns the outlier fraction
func clipPlane(plane []float32, rs *robustStats, sigmaThr float32) float32 {
	outliers := 0
	for i, v := range plane {
		if math.IsNaN(float64(v)) {
			plane[i] = rs.med[i]
			continue
		}
		sigma := rs.sigma[i]
		if sigma < rs.floor {
			sigma = rs.floor
		}
		if abs32(v-rs.med[i]) > sigmaThr*sigma {
			outliers++
		}
	}
	frac := float32(outliers) / float32(len(plane))
	if frac >= maxClipFraction {
		return frac
	}
	for i, v := range plane {
		sigma := rs.sigma[i]
		if sigma < rs.floor {
			sigma = rs.floor
		}
		if abs32(v-rs.med[i]) > sigmaThr*sigma {
			plane[i] = rs.med[i]
		}
	}
	return frac
}

// Cheap post-history rejection: pixels deviating from the master by more
// than factor times the 95th percentile deviation are replaced by the
// master value. NaN pixels are always replaced first and excluded from the
// threshold sample, so they cannot inflate the percentile to infinity.
// Returns the fraction of replaced pixels
func rejectPlane(plane, master []float32, factor float32) float32 {
	replaced := 0
	diffs := make([]float32, 0, len(plane))
	for i, v := range plane {
		if math.IsNaN(float64(v)) {
			plane[i] = master[i]
			replaced++
			continue
		}
		diffs = append(diffs, abs32(v-master[i]))
	}
	if len(diffs) == 0 {
		return 1
	}
	threshold := qsort.QSelectPercentileFloat32(diffs, rejectPercentile) * factor

	for i, v := range plane {
		if abs32(v-master[i]) > threshold {
			plane[i] = master[i]
			replaced++
		}
	}
	return float32(replaced) / float32(len(plane))
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
