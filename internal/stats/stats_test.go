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
	"math"
	"testing"
)

func TestCalcBasicStats(t *testing.T) {
	data := []float32{2, 4, 4, 4, 5, 5, 7, 9}
	s := CalcBasicStats(data)
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("min=%f max=%f; want 2 and 9", s.Min, s.Max)
	}
	if s.Mean != 5 {
		t.Errorf("mean=%f; want 5", s.Mean)
	}
	if math.Abs(float64(s.StdDev-2)) > 1e-4 {
		t.Errorf("stdDev=%f; want 2", s.StdDev)
	}
}

func TestMedianAndMAD(t *testing.T) {
	data := []float32{1, 2, 3, 4, 100}
	if m := Median(data); m != 3 {
		t.Errorf("median=%f; want 3", m)
	}
	// data must survive the call unchanged
	if data[4] != 100 {
		t.Errorf("median mutated its input")
	}
	// absolute deviations around 3: {2,1,0,1,97}, median 1
	if m := MAD(data, 3); m != 1 {
		t.Errorf("MAD=%f; want 1", m)
	}
}

func TestPercentile(t *testing.T) {
	data := make([]float32, 100)
	for i := range data {
		data[i] = float32(i)
	}
	if p := Percentile(data, 0); p != 0 {
		t.Errorf("P0=%f; want 0", p)
	}
	p50 := Percentile(data, 50)
	if p50 < 48 || p50 > 51 {
		t.Errorf("P50=%f; want around 49.5", p50)
	}
	p95 := Percentile(data, 95)
	if p95 < 93 || p95 > 96 {
		t.Errorf("P95=%f; want around 94", p95)
	}
}

func TestHistogramPercentile(t *testing.T) {
	data := make([]float32, 1000)
	for i := range data {
		data[i] = float32(i) * 0.001
	}
	p50 := HistogramPercentile(data, 0, 0.999, 50)
	if p50 < 0.49 || p50 > 0.51 {
		t.Errorf("P50=%f; want around 0.5", p50)
	}
	p95 := HistogramPercentile(data, 0, 0.999, 95)
	if p95 < 0.94 || p95 > 0.96 {
		t.Errorf("P95=%f; want around 0.95", p95)
	}
	// degenerate range falls back to min
	if p := HistogramPercentile(data, 0.5, 0.5, 50); p != 0.5 {
		t.Errorf("degenerate P50=%f; want 0.5", p)
	}
}

func TestLocationScale(t *testing.T) {
	data := []float32{10, 10, 10, 10, 10, 10, 10, 10}
	s := NewStats(data, 4)
	if loc := s.Location(); loc != 10 {
		t.Errorf("location=%f; want 10", loc)
	}
	if sc := s.Scale(); sc < 0 {
		t.Errorf("scale=%f; want non-negative", sc)
	}
}
