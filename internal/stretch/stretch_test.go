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

package stretch

import (
	"testing"

	"github.com/mlnoga/nightwatch/internal/fits"
)

func TestLinearPercentileBounds(t *testing.T) {
	f := fits.NewImageFromNaxisn([]int32{10, 10}, nil)
	for i := range f.Data {
		f.Data[i] = float32(i) / float32(len(f.Data))
	}
	if err := AutoStretch(f, AlgoLinearPercentile, 5); err != nil {
		t.Fatalf("stretch: %s", err.Error())
	}
	for i, d := range f.Data {
		if d < 0 || d > 1 {
			t.Fatalf("data[%d]=%f outside [0,1]", i, d)
		}
	}
	// values at or below the 5th percentile clip to zero, at or above the 95th to one
	if f.Data[0] != 0 {
		t.Errorf("lowest value %f; want 0", f.Data[0])
	}
	if f.Data[len(f.Data)-1] != 1 {
		t.Errorf("highest value %f; want 1", f.Data[len(f.Data)-1])
	}
}

func TestMTFMonotonic(t *testing.T) {
	m := float32(0.25)
	prev := float32(-1)
	for i := 0; i <= 100; i++ {
		x := float32(i) / 100
		y := mtf(m, x)
		if y < prev {
			t.Fatalf("mtf(%f,%f)=%f < previous %f", m, x, y, prev)
		}
		if y < 0 || y > 1 {
			t.Fatalf("mtf(%f,%f)=%f outside [0,1]", m, x, y)
		}
		prev = y
	}
	if got := mtf(m, m); got != 0.5 {
		t.Errorf("mtf(m,m)=%f; want 0.5", got)
	}
	if got := mtf(m, 0); got != 0 {
		t.Errorf("mtf(m,0)=%f; want 0", got)
	}
	if got := mtf(m, 1); got != 1 {
		t.Errorf("mtf(m,1)=%f; want 1", got)
	}
}

func TestUnknownAlgoFails(t *testing.T) {
	f := fits.NewImageFromNaxisn([]int32{4, 4}, nil)
	if err := AutoStretch(f, Algo(99), 0.5); err == nil {
		t.Errorf("unknown algorithm did not fail")
	}
}

func TestReplaceLowestPercentByZero(t *testing.T) {
	f := fits.NewImageFromNaxisn([]int32{10, 10}, nil)
	for i := range f.Data {
		f.Data[i] = float32(i + 1)
	}
	ReplaceLowestPercentByZero(f, 10)

	zeros := 0
	for _, d := range f.Data {
		if d == 0 {
			zeros++
		}
	}
	if zeros < 5 || zeros > 15 {
		t.Errorf("%d values zeroed; want roughly 10%% of %d", zeros, len(f.Data))
	}
	// highest values untouched
	if f.Data[len(f.Data)-1] != float32(len(f.Data)) {
		t.Errorf("highest value %f modified", f.Data[len(f.Data)-1])
	}

	// zero percent is a no-op
	g := fits.NewImageFromNaxisn([]int32{4, 4}, nil)
	for i := range g.Data {
		g.Data[i] = 5
	}
	ReplaceLowestPercentByZero(g, 0)
	for i, d := range g.Data {
		if d != 5 {
			t.Errorf("data[%d]=%f modified by zero-percent clip", i, d)
		}
	}
}

func TestDenoiseRemovesHotPixel(t *testing.T) {
	width := int32(8)
	f := fits.NewImageFromNaxisn([]int32{width, width}, nil)
	for i := range f.Data {
		f.Data[i] = 0.5
	}
	f.Data[3*width+3] = 1.0

	Denoise(f)
	if f.Data[3*width+3] != 0.5 {
		t.Errorf("hot pixel survived: %f", f.Data[3*width+3])
	}
	// flat interior stays flat
	if f.Data[4*width+4] != 0.5 {
		t.Errorf("flat pixel changed: %f", f.Data[4*width+4])
	}
}
