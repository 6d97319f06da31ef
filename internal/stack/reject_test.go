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
	"math/rand"
	"testing"
)

// builds n noisy planes of the given size around a base level
func noisyPlanes(n, size int, base, noise float32, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	planes := make([][]float32, n)
	for i := range planes {
		p := make([]float32, size)
		for j := range p {
			p[j] = base + noise*float32(rng.NormFloat64())
		}
		planes[i] = p
	}
	return planes
}

func TestComputeRobustStats(t *testing.T) {
	planes := [][]float32{
		{1, 10, 100},
		{2, 20, 200},
		{3, 30, 300},
	}
	rs := computeRobustStats(planes)
	wantMed := []float32{2, 20, 200}
	for i, m := range rs.med {
		if m != wantMed[i] {
			t.Errorf("med[%d]=%f; want %f", i, m, wantMed[i])
		}
	}
	// MAD of {1,2,3} around 2 is 1
	want := float32(1.4826)
	if math.Abs(float64(rs.sigma[0]-want)) > 1e-3 {
		t.Errorf("sigma[0]=%f; want %f", rs.sigma[0], want)
	}
}

func TestClipPlaneReplacesTrailPixels(t *testing.T) {
	size := 1000
	planes := noisyPlanes(5, size, 0.2, 0.01, 42)
	rs := computeRobustStats(planes)

	// simulate a satellite trail across the new frame
	frame := make([]float32, size)
	copy(frame, planes[0])
	for i := 100; i < 140; i++ {
		frame[i] = 0.9
	}
	frac := clipPlane(frame, rs, 4)
	if frac < 0.03 || frac > 0.08 {
		t.Errorf("outlier fraction %f; want around 0.04", frac)
	}
	for i := 100; i < 140; i++ {
		if frame[i] > 0.5 {
			t.Fatalf("trail pixel %d not replaced: %f", i, frame[i])
		}
	}
}

func TestClipPlaneReplacesNaN(t *testing.T) {
	planes := noisyPlanes(5, 100, 0.2, 0.01, 7)
	rs := computeRobustStats(planes)

	frame := make([]float32, 100)
	copy(frame, planes[1])
	frame[3] = float32(math.NaN())
	clipPlane(frame, rs, 4)
	if math.IsNaN(float64(frame[3])) {
		t.Errorf("NaN pixel not replaced")
	}
}

func TestClipPlanePassThroughAboveMaxFraction(t *testing.T) {
	planes := noisyPlanes(5, 100, 0.2, 0.01, 3)
	rs := computeRobustStats(planes)

	// half the frame is wildly off, e.g. clouds rolled in
	frame := make([]float32, 100)
	copy(frame, planes[2])
	for i := 0; i < 50; i++ {
		frame[i] = 0.95
	}
	frac := clipPlane(frame, rs, 4)
	if frac < maxClipFraction {
		t.Fatalf("outlier fraction %f below pass-through threshold", frac)
	}
	replaced := 0
	for i := 0; i < 50; i++ {
		if frame[i] != 0.95 {
			replaced++
		}
	}
	if replaced != 0 {
		t.Errorf("%d pixels clipped despite pass-through", replaced)
	}
}

func TestRejectPlane(t *testing.T) {
	size := 1000
	rng := rand.New(rand.NewSource(11))
	master := make([]float32, size)
	frame := make([]float32, size)
	for i := range master {
		master[i] = 0.3
		frame[i] = 0.3 + 0.005*float32(rng.NormFloat64())
	}
	frame[10] = 0.9
	frame[20] = float32(math.NaN())

	frac := rejectPlane(frame, master, 4)
	if frame[10] != master[10] {
		t.Errorf("outlier not replaced: %f", frame[10])
	}
	if frame[20] != master[20] {
		t.Errorf("NaN not replaced: %f", frame[20])
	}
	if frac <= 0 || frac > 0.05 {
		t.Errorf("replaced fraction %f; want small and positive", frac)
	}
}

func TestRejectPlaneHeavyNaNFraction(t *testing.T) {
	// beyond the 95th percentile, NaN diffs must not drive the threshold
	// itself to infinity and slip through into the master
	size := 100
	master := make([]float32, size)
	frame := make([]float32, size)
	for i := range master {
		master[i] = 0.3
		frame[i] = 0.3
	}
	for i := 0; i < 10; i++ {
		frame[i*10] = float32(math.NaN())
	}

	frac := rejectPlane(frame, master, 4)
	for i, v := range frame {
		if math.IsNaN(float64(v)) {
			t.Fatalf("NaN at %d survived rejection", i)
		}
	}
	if frac < 0.1 {
		t.Errorf("replaced fraction %f; want at least the 10%% NaN share", frac)
	}
}
