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

// Calculate histogram of data between min and max into given bins
func Histogram(data []float32, min, max float32, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	scale := float32(len(bins)-1) / (max - min)
	for _, d := range data {
		index := (d - min) * scale
		bins[int(index)]++
	}
}

// Approximate percentile in [0,100] of the data via a histogram, avoiding a
// scratch copy of the full array. Suitable for large image planes
func HistogramPercentile(data []float32, min, max, percentile float32) float32 {
	if max <= min {
		return min
	}
	bins := make([]int32, 4096)
	Histogram(data, min, max, bins)

	target := int64(float64(percentile) * 0.01 * float64(len(data)))
	sum := int64(0)
	for i, b := range bins {
		sum += int64(b)
		if sum >= target {
			return min + (float32(i)+0.5)*(max-min)/float32(len(bins)-1)
		}
	}
	return max
}
