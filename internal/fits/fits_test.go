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

package fits

import (
	"io"
	"math"
	"path/filepath"
	"testing"
)

func approxEqual(a, b, eps float32) bool {
	return float32(math.Abs(float64(a-b))) <= eps
}

func TestBinNxN(t *testing.T) {
	width, height := int32(8), int32(6)
	data := make([]float32, width*height)
	for i := range data {
		data[i] = float32(i)
	}
	src := NewImageFromNaxisn([]int32{width, height}, data)

	binned := NewImageBinNxN(src, 2)
	if binned.Naxisn[0] != width/2 || binned.Naxisn[1] != height/2 {
		t.Errorf("binned dimensions %v; want [%d %d]", binned.Naxisn, width/2, height/2)
	}
	// upper left 2x2 block of a row-major ramp: 0,1,8,9
	want := float32(0+1+8+9) / 4
	if !approxEqual(binned.Data[0], want, 1e-6) {
		t.Errorf("binned[0]=%f; want %f", binned.Data[0], want)
	}

	// binning twice by 2 equals binning once by 4
	twice := NewImageBinNxN(binned, 2)
	once := NewImageBinNxN(src, 4)
	if !EqualInt32Slice(twice.Naxisn, once.Naxisn) {
		t.Errorf("composed bin dimensions %v differ from direct %v", twice.Naxisn, once.Naxisn)
	}
	for i := range twice.Data {
		if !approxEqual(twice.Data[i], once.Data[i], 1e-4) {
			t.Errorf("composed bin[%d]=%f; direct %f", i, twice.Data[i], once.Data[i])
		}
	}
}

func TestDebayerRebayerRoundTrip(t *testing.T) {
	width, height := int32(8), int32(8)
	data := make([]float32, width*height)
	for row := int32(0); row < height; row++ {
		for col := int32(0); col < width; col++ {
			// distinct values per mosaic channel
			switch {
			case row&1 == 0 && col&1 == 0:
				data[row*width+col] = 1000 // red
			case row&1 == 1 && col&1 == 1:
				data[row*width+col] = 3000 // blue
			default:
				data[row*width+col] = 2000 // green
			}
		}
	}
	mono := NewImageFromNaxisn([]int32{width, height}, data)
	mono.Bayer = "RGGB"

	color, err := mono.Debayer("")
	if err != nil {
		t.Fatalf("debayer: %s", err.Error())
	}
	if !color.IsColor() {
		t.Errorf("debayer result is not color: %v", color.Naxisn)
	}

	back, err := color.Rebayer("RGGB")
	if err != nil {
		t.Fatalf("rebayer: %s", err.Error())
	}
	if back.IsColor() {
		t.Errorf("rebayer result is color: %v", back.Naxisn)
	}
	// sampled positions survive the round trip exactly
	for row := int32(0); row < back.Naxisn[1]; row++ {
		for col := int32(0); col < back.Naxisn[0]; col++ {
			got, want := back.Data[row*back.Naxisn[0]+col], data[row*width+col]
			if !approxEqual(got, want, 1e-3) {
				t.Errorf("rebayer (%d,%d)=%f; want %f", col, row, got, want)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	data := []float32{100, 200, 300, 400, 500, 600}
	f := NewImageFromNaxisn([]int32{3, 2}, data)
	f.Normalize()
	if !approxEqual(f.Stats.Min(), 0, 1e-6) || !approxEqual(f.Stats.Max(), 1, 1e-6) {
		t.Errorf("normalized range [%f,%f]; want [0,1]", f.Stats.Min(), f.Stats.Max())
	}
}

func TestSubtractDark(t *testing.T) {
	light := NewImageFromNaxisn([]int32{4, 4}, nil)
	for i := range light.Data {
		light.Data[i] = 100
	}
	dark := NewImageFromNaxisn([]int32{4, 4}, nil)
	for i := range dark.Data {
		dark.Data[i] = float32(90 + i) // exceeds light level for i>10
	}
	if err := light.SubtractDark(dark); err != nil {
		t.Fatalf("subtract dark: %s", err.Error())
	}
	for i, d := range light.Data {
		want := float32(100 - (90 + i))
		if want < 0 {
			want = 0
		}
		if !approxEqual(d, want, 1e-6) {
			t.Errorf("data[%d]=%f; want %f", i, d, want)
		}
	}

	mismatched := NewImageFromNaxisn([]int32{2, 2}, nil)
	if err := light.SubtractDark(mismatched); err == nil {
		t.Errorf("subtracting mismatched dark did not fail")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	width, height := int32(16), int32(12)
	f := NewImageFromNaxisn([]int32{width, height}, nil)
	for i := range f.Data {
		f.Data[i] = float32(i) * 0.25
	}
	f.Exposure = 30
	f.Header.Strings["FILTER"] = "Ha"
	f.Header.Floats["EXPTIME"] = 30

	fileName := filepath.Join(t.TempDir(), "roundtrip.fits")
	if err := f.WriteFile(fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}

	g, err := NewImageFromFile(fileName, 0, io.Discard)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if !EqualInt32Slice(g.Naxisn, f.Naxisn) {
		t.Errorf("read dimensions %v; want %v", g.Naxisn, f.Naxisn)
	}
	for i := range g.Data {
		if !approxEqual(g.Data[i], f.Data[i], 1e-3) {
			t.Fatalf("data[%d]=%f; want %f", i, g.Data[i], f.Data[i])
		}
	}
	if g.Header.Strings["FILTER"] != "Ha" {
		t.Errorf("FILTER=%q; want Ha", g.Header.Strings["FILTER"])
	}
}

func TestWriteUint16RawCounts(t *testing.T) {
	f := NewImageFromNaxisn([]int32{8, 8}, nil)
	for i := range f.Data {
		f.Data[i] = 100 + float32(i)*500 // raw ADU ramp up to 31600
	}
	f.Data[0] = 0
	f.Data[1] = 70000 // beyond full scale, must clamp
	f.Data[2] = float32(math.NaN())

	fileName := filepath.Join(t.TempDir(), "raw.fits")
	if err := f.WriteUint16File(fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}
	g, err := NewImageFromFile(fileName, 0, io.Discard)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}

	if g.Data[0] != 0 {
		t.Errorf("data[0]=%f; want 0", g.Data[0])
	}
	if g.Data[1] != 65535 {
		t.Errorf("data[1]=%f; want clamp to 65535", g.Data[1])
	}
	if g.Data[2] != 0 {
		t.Errorf("data[2]=%f; want NaN written as 0", g.Data[2])
	}
	saturated := 0
	for i := 3; i < len(g.Data); i++ {
		want := 100 + float32(i)*500
		if g.Data[i] != want {
			t.Fatalf("data[%d]=%f; want raw count %f", i, g.Data[i], want)
		}
		if g.Data[i] >= 65535 {
			saturated++
		}
	}
	if saturated != 0 {
		t.Errorf("%d in-range pixels saturated to full scale", saturated)
	}
}

func TestWriteReadHeaderFloats(t *testing.T) {
	f := NewImageFromNaxisn([]int32{4, 4}, nil)
	f.Header.Floats["DEC"] = 42 // integral value must stay a float on re-read
	f.Header.Floats["RA"] = 83.82208

	fileName := filepath.Join(t.TempDir(), "floats.fits")
	if err := f.WriteFile(fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}
	g, err := NewImageFromFile(fileName, 0, io.Discard)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if g.Header.Floats["DEC"] != 42 {
		t.Errorf("DEC=%f; want 42", g.Header.Floats["DEC"])
	}
	if !approxEqual(g.Header.Floats["RA"], 83.82208, 1e-4) {
		t.Errorf("RA=%f; want 83.82208", g.Header.Floats["RA"])
	}
}

func TestLuminance(t *testing.T) {
	width, height := int32(4), int32(4)
	plane := width * height
	data := make([]float32, plane*3)
	for i := int32(0); i < plane; i++ {
		data[i] = 0.9          // red
		data[plane+i] = 0.5    // green
		data[2*plane+i] = 0.1  // blue
	}
	color := NewImageFromNaxisn([]int32{width, height, 3}, data)
	lum := color.Luminance()
	if lum.IsColor() {
		t.Fatalf("luminance is color: %v", lum.Naxisn)
	}
	want := 0.2126*float32(0.9) + 0.7152*float32(0.5) + 0.0722*float32(0.1)
	if !approxEqual(lum.Data[0], want, 1e-3) {
		t.Errorf("luminance=%f; want %f", lum.Data[0], want)
	}
}
