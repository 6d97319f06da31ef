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

package star

import (
	"math"
	"math/rand"
	"testing"
)

// renders gaussian stars of the given sigma onto a flat noisy background
func synthImage(width, height int32, centers []Point2D, sigma float32, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, width*height)
	for i := range data {
		data[i] = 0.1 + 0.005*float32(rng.NormFloat64())
	}
	for _, c := range centers {
		for y := int32(0); y < height; y++ {
			for x := int32(0); x < width; x++ {
				dx, dy := float32(x)-c.X, float32(y)-c.Y
				distSq := dx*dx + dy*dy
				if distSq > 100 {
					continue
				}
				data[y*width+x] += 0.8 * float32(math.Exp(float64(-distSq/(2*sigma*sigma))))
			}
		}
	}
	return data
}

var testCenters = []Point2D{
	{30, 25}, {90, 30}, {60, 64}, {25, 95}, {100, 100}, {70, 20},
}

func TestFindStarsSynthetic(t *testing.T) {
	width, height := int32(128), int32(128)
	data := synthImage(width, height, testCenters, 1.5, 7)

	stars, _, hfr := FindStars(data, width, 0.1, 0.005, 10, 5, 1.4, 16, nil)
	if len(stars) < len(testCenters)-1 {
		t.Fatalf("found %d stars; want at least %d", len(stars), len(testCenters)-1)
	}
	if hfr <= 0 || hfr > 8 {
		t.Errorf("avgHFR=%f; want small positive", hfr)
	}

	// every detection corresponds to an injected star
	for _, s := range stars {
		bestDist := float32(math.MaxFloat32)
		for _, c := range testCenters {
			dx, dy := s.X-c.X, s.Y-c.Y
			if d := dx*dx + dy*dy; d < bestDist {
				bestDist = d
			}
		}
		if bestDist > 4 {
			t.Errorf("detection at (%f,%f) is %f pixels from any injected star",
				s.X, s.Y, math.Sqrt(float64(bestDist)))
		}
	}
}

func TestMeanFWHMSynthetic(t *testing.T) {
	width, height := int32(128), int32(128)
	sigma := float32(1.5)
	data := synthImage(width, height, testCenters, sigma, 8)

	stars, _, _ := FindStars(data, width, 0.1, 0.005, 10, 5, 1.4, 16, nil)
	if len(stars) == 0 {
		t.Fatalf("no stars found")
	}
	fwhm, num := MeanFWHM(data, width, stars)
	if num == 0 {
		t.Fatalf("no FWHM measurements")
	}
	want := sigma * SigmaToFWHM
	if fwhm < want*0.5 || fwhm > want*2 {
		t.Errorf("mean FWHM %f; want around %f", fwhm, want)
	}
}

func TestAlignIdentity(t *testing.T) {
	naxisn := []int32{128, 128}
	stars := make([]Star, len(testCenters))
	for i, c := range testCenters {
		stars[i] = Star{X: c.X, Y: c.Y, Mass: float32(100 - i)}
	}

	aligner := NewAligner(naxisn, stars, 20)
	trans, residual := aligner.Align(naxisn, stars, 1)
	if residual > 0.1 {
		t.Fatalf("identity alignment residual %f; want near 0", residual)
	}
	for _, c := range testCenters {
		p := trans.Apply(c)
		dx, dy := p.X-c.X, p.Y-c.Y
		if dist := math.Sqrt(float64(dx*dx + dy*dy)); dist > 0.1 {
			t.Errorf("identity transform moved (%f,%f) by %f pixels", c.X, c.Y, dist)
		}
	}
}

func TestAlignTranslation(t *testing.T) {
	naxisn := []int32{128, 128}
	ref := make([]Star, len(testCenters))
	shifted := make([]Star, len(testCenters))
	for i, c := range testCenters {
		ref[i] = Star{X: c.X, Y: c.Y, Mass: float32(100 - i)}
		shifted[i] = Star{X: c.X + 3.5, Y: c.Y - 2.25, Mass: float32(100 - i)}
	}

	aligner := NewAligner(naxisn, ref, 20)
	_, residual := aligner.Align(naxisn, shifted, 2)
	if residual > 1.0 {
		t.Errorf("translation alignment residual %f; want below 1", residual)
	}
}

func TestTransform2DApplyInvert(t *testing.T) {
	trans := Transform2D{A: 1, B: 0, C: 3.5, D: 0, E: 1, F: -2.25}
	p := Point2D{X: 10, Y: 20}
	q := trans.Apply(p)
	if q.X != 13.5 || q.Y != 17.75 {
		t.Errorf("apply=(%f,%f); want (13.5,17.75)", q.X, q.Y)
	}

	inv, err := trans.Invert()
	if err != nil {
		t.Fatalf("invert: %s", err.Error())
	}
	r := inv.Apply(q)
	if math.Abs(float64(r.X-p.X)) > 1e-4 || math.Abs(float64(r.Y-p.Y)) > 1e-4 {
		t.Errorf("roundtrip=(%f,%f); want (%f,%f)", r.X, r.Y, p.X, p.Y)
	}
}
