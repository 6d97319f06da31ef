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

	"github.com/mlnoga/nightwatch/internal/qsort"
)

// Factor to convert a gaussian sigma into a full width at half maximum
const SigmaToFWHM float32 = 2.3548

// Patch half-width around the star center for FWHM estimation
const fwhmPatchRadius int32 = 5

// FWHM values outside this range are considered fit failures
const minValidFWHM float32 = 0.5
const maxValidFWHM float32 = 20.0

// Estimates the full width at half maximum of the star's point spread
// function by fitting a gaussian to the background-subtracted patch around
// the star center, via the second moment of the radial mass distribution.
// Returns ok=false if the star is too close to the border or the fit is
// implausible
func CalcFWHM(data []float32, width int32, s Star) (fwhm float32, ok bool) {
	height:=int32(len(data))/width
	cx, cy:=int32(s.X+0.5), int32(s.Y+0.5)
	r:=fwhmPatchRadius
	if cx-r<0 || cx+r>=width || cy-r<0 || cy+r>=height { return 0, false }

	// local background from the patch minimum
	background:=float32(math.MaxFloat32)
	for y:=-r; y<=r; y++ {
		for x:=-r; x<=r; x++ {
			v:=data[(cy+y)*width+(cx+x)]
			if v<background { background=v }
		}
	}

	// second moment of the radial mass distribution. E[r^2]=2 sigma^2 for a
	// circular gaussian
	mass, momentSq:=float32(0), float32(0)
	for y:=-r; y<=r; y++ {
		for x:=-r; x<=r; x++ {
			v:=data[(cy+y)*width+(cx+x)]-background
			if v<=0 { continue }
			dx, dy:=float32(cx+x)-s.X, float32(cy+y)-s.Y
			mass    +=v
			momentSq+=v*(dx*dx+dy*dy)
		}
	}
	if mass<=0 { return 0, false }

	sigma:=float32(math.Sqrt(float64(momentSq/(2*mass))))
	fwhm=sigma*SigmaToFWHM
	if fwhm<minValidFWHM || fwhm>maxValidFWHM { return 0, false }
	return fwhm, true
}

// Calculates the mean FWHM over all given stars, discarding failed fits and
// interquartile-range outliers. Returns the number of stars contributing
func MeanFWHM(data []float32, width int32, stars []Star) (mean float32, num int) {
	fwhms:=make([]float32, 0, len(stars))
	for _,s:=range stars {
		if f, ok:=CalcFWHM(data, width, s); ok {
			fwhms=append(fwhms, f)
		}
	}
	if len(fwhms)==0 { return 0, 0 }
	if len(fwhms)<4 {
		sum:=float32(0)
		for _,f:=range fwhms { sum+=f }
		return sum/float32(len(fwhms)), len(fwhms)
	}

	// reject outliers beyond 1.5 IQR from the quartiles
	tmp:=make([]float32, len(fwhms))
	copy(tmp, fwhms)
	q1:=qsort.QSelectPercentileFloat32(tmp, 25)
	copy(tmp, fwhms)
	q3:=qsort.QSelectPercentileFloat32(tmp, 75)
	iqr:=q3-q1
	lo, hi:=q1-1.5*iqr, q3+1.5*iqr

	sum:=float32(0)
	for _,f:=range fwhms {
		if f>=lo && f<=hi {
			sum+=f
			num++
		}
	}
	if num==0 { return 0, 0 }
	return sum/float32(num), num
}
