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

package median

import (
	"math/rand"
	"sort"
	"testing"
)

func TestMedianFloat32(t *testing.T) {
	cases := []struct {
		data []float32
		want float32
	}{
		{[]float32{5}, 5},
		{[]float32{3, 1, 2}, 2},
		{[]float32{9, 1, 8, 2, 7, 3, 6, 4, 5}, 5},
	}
	for _, c := range cases {
		in := append([]float32(nil), c.data...)
		if got := MedianFloat32(in); got != c.want {
			t.Errorf("median(%v)=%f; want %f", c.data, got, c.want)
		}
	}
}

func TestMedianFloat32Slice9MatchesSort(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for n := 0; n < 100; n++ {
		a := make([]float32, 9)
		for i := range a {
			a[i] = rng.Float32()
		}
		sorted := append([]float32(nil), a...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		want := sorted[4]

		if got := MedianFloat32Slice9(a); got != want {
			t.Errorf("run %d: median=%f; want %f", n, got, want)
		}
	}
}

func TestMedianFilter3x3RemovesSpike(t *testing.T) {
	width := int32(8)
	data := make([]float32, width*width)
	for i := range data {
		data[i] = 0.5
	}
	data[3*width+3] = 100 // hot pixel

	out := make([]float32, len(data))
	MedianFilter3x3(out, data, width)
	if out[3*width+3] != 0.5 {
		t.Errorf("hot pixel survived the filter: %f", out[3*width+3])
	}
}
