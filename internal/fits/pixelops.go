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
	"math"
	"runtime"
	colorful "github.com/lucasb-eyer/go-colorful"
)


//////////////////////////////////////////////////////////////////
// Complex, CPU-limited pixel operations. Parallelized across CPUs
//////////////////////////////////////////////////////////////////

// A pixel function. Operates in-place. For parallelization across CPUs.
type PixelFunction func(data []float32, params interface{}) 

// A three-channel pixel function. Data must be normalized to [0,1]. Operates in-place. For parallelization across CPUs.
type PixelFunction3Chan func(c0,c1,c2 []float32, params interface{}) 


// Apply given pixel function to the image. Uses thead parallelism across all available CPUs. Operates in-place. 
func (f* Image) ApplyPixelFunction(pf PixelFunction, args interface{}) {
	data:=f.Data

	// split into 8*NumCPU() work packages, limit parallelism to NumCPUS()
	numBatches:=8*runtime.NumCPU()
	batchSize :=(len(data)+numBatches-1)/(numBatches)
	sem       :=make(chan bool, runtime.NumCPU())
	for lower:=0; lower<len(data); lower+=batchSize {
		upper:=lower+batchSize
		if upper>len(data) { upper=len(data) }

		sem <- true 
		go func(data []float32) {
			pf(data, args)
			<-sem
		}(data[lower:upper])
	}

	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
}


// Apply given pixel function to all channels of the image. Uses thead parallelism across all available CPUs. Data must be normalized to [0,1]. Operates in-place. 
func (f* Image) ApplyPixelFunction3Chan(pf PixelFunction3Chan, args interface{}) {
	data:=f.Data
	l   :=len(data)/3

	// split into 8*NumCPU() work packages, limit parallelism to NumCPUS()
	numBatches:=8*runtime.NumCPU()
	batchSize :=(l+numBatches-1)/(numBatches)
	sem       :=make(chan bool, runtime.NumCPU())
	for lower:=0; lower<l; lower+=batchSize {
		upper:=lower+batchSize
		if upper>l { upper=l }

		sem <- true 
		go func(c0,c1,c2 []float32) {
			pf(c0,c1,c2, args)
			<-sem
		}(data[lower:upper], data[lower+l:upper+l], data[lower+2*l:upper+2*l])
	}

	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
}


type pfScaleOffsetArgs struct {
	Scale   float32
	Offset  float32
}

// Pixel function to apply a scale and an offset. 2nd parameter must be a pfScaleOffsetArgs. Operates in-place. 
func pfScaleOffset(data []float32, params interface{}) {
	scale, offset :=params.(pfScaleOffsetArgs).Scale, params.(pfScaleOffsetArgs).Offset
	for i, d:=range data {
		data[i]=d*scale+offset
	}
}

// Applies given scale factor and offset to image.  Operates in-place. 
func (f* Image) ApplyScaleOffset(scale, offset float32) {
	f.ApplyPixelFunction(pfScaleOffset, pfScaleOffsetArgs{scale, offset})
	f.Stats.UpdateCachedWith(scale, offset)
}

// Normalize image to [0..1] based on basic stats.  Operates in-place.
func (f* Image) Normalize() {
	if f.Stats.Max()==f.Stats.Min() { return }
	scale:=1.0/(f.Stats.Max()-f.Stats.Min())
	offset:=-f.Stats.Min()*scale
	f.ApplyScaleOffset(scale, offset)
}

// Full scale of 16-bit sensor ADU counts
const ADUFullScale float32 = 65535

// Scales raw ADU counts to [0..1] by the fixed 16-bit full scale, so light
// frames and master darks share one scale.  Operates in-place.
func (f* Image) NormalizeFullScale() {
	f.ApplyScaleOffset(1.0/ADUFullScale, 0)
}


// Pixel function to convert RGB to CIE HSL pixels. Operates in-place.
// https://en.wikipedia.org/wiki/Colorfulness#Saturation
func pf3ChanRGBToCIEHSL(rs,gs,bs []float32, params interface{}) {
	for i:=0; i<len(rs); i++ {
		r, g, b:=rs[i], gs[i], bs[i]

		col:=colorful.LinearRgb(float64(r),float64(g),float64(b))
		h,c,l:=col.Hcl()
		s:=c/math.Sqrt(c*c+l*l)

		rs[i], gs[i], bs[i]=float32(h), float32(s), float32(l) 
	}
}

// Convert RGB to CIE HSL pixels. Operates in-place.
// https://en.wikipedia.org/wiki/Colorfulness#Saturation
func (f* Image) RGBToCIEHSL() {
	f.ApplyPixelFunction3Chan(pf3ChanRGBToCIEHSL, nil)
	f.Stats.Clear()
}


// Pixel function to convert CIE HSL to RGB pixels. Operates in-place.
// https://en.wikipedia.org/wiki/Colorfulness#Saturation
func pf3ChanCIEHSLToRGB(hs,ss,ls []float32, params interface{}) {
	for i:=0; i<len(hs); i++ {
		h, s, l:=hs[i], ss[i], ls[i]
		c:=l*s/float32(math.Sqrt(float64(1-s*s)))

		col:=colorful.Hcl(float64(h), float64(c), float64(l)).Clamped()
		r,g,b:=col.LinearRgb()

		hs[i], ss[i], ls[i]=float32(r), float32(g), float32(b) 
	}
}

// Convert CIE HSL to RGB pixels. Operates in-place.
// https://en.wikipedia.org/wiki/Colorfulness#Saturation
func (f* Image) CIEHSLToRGB() {
	f.ApplyPixelFunction3Chan(pf3ChanCIEHSLToRGB, nil)
	f.Stats.Clear()
}


type pf3ChanChromaArgs struct {
	Gamma float32
	Threshold float32
}

// Pixel function to apply given gamma correction to color saturation, for luminances above the given threshold. 
// Data must be CIE HSL. 2nd parameter must be a pf3ChanChromaArgs. Operates in-place. 
func pf3ChanChroma(hs,ss,ls []float32, params interface{}) {
	gamma, threshold:=params.(pf3ChanChromaArgs).Gamma, params.(pf3ChanChromaArgs).Threshold 
	gg:=float64(1.0/gamma)
	for i,l:=range ls {
		if l < threshold { continue }
		ss[i]=float32(math.Pow(float64(ss[i]), gg))
	}
}

//  Apply given gamma correction to color saturation, for luminances above the given threshold. 
//  Data must be CIE HSL. Operates in-place. 
func (f* Image) AdjustChroma(gamma, threshold float32) {
	f.ApplyPixelFunction3Chan(pf3ChanChroma, pf3ChanChromaArgs{gamma, threshold})
	f.Stats.Clear()
}

