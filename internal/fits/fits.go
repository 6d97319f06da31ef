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
	"fmt"
	"strings"

	"github.com/mlnoga/nightwatch/internal/star"
	"github.com/mlnoga/nightwatch/internal/stats"
)

// A FITS image. 
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int         // Sequential ID number, for log output. Counted upwards from 0 for light frames. By convention, dark is -1
	FileName string      // Original file name, if any, for log output.

	Header Header 	     // The header with all keys, values, comments, history entries etc.
	Bitpix int32         // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 		 // Zero offset. True pixel value is Bzero + Bscale * Data[i]. 
	Bscale float32 		 // Value scaler. True pixel value is Bzero + Bscale * Data[i]. 
						 // Helps implement unsigned values with signed data types.
	Naxisn []int32 		 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y[,C])
	Pixels int32 		 // Number of pixels in the image. Product of Naxisn[]

	Data   []float32     // The image data. Color images are channel-planar

	Exposure float32     // Image exposure in seconds
	Bayer    string      // Bayer pattern of the sensor mosaic, or "" for mono and debayered color

	Stats  *stats.Stats  // Basic image statistics: min, mean, max

	Stars  []star.Star   // Star detections
	HFR    float32       // Half-flux radius of the star detections

	Trans    star.Transform2D // Transformation to reference frame
	Residual float32     // Residual error from the above transformation 
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header:  NewHeader(),
		Bscale:  1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels:=int32(1)
	for _,naxis:=range(naxisn) {
		numPixels*=naxis
	}
	if data==nil {
		data=make([]float32, numPixels)
	}
	return &Image{
		Header:   NewHeader(),
		Bitpix:   -32,
		Bzero:    0,
		Bscale:   1,
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
		Stats:    stats.NewStats(data, naxisn[0]),
		Trans:    star.IdentityTransform2D(),
	}
}

// Creates a FITS image with the shape and metadata of the given image. A new data array is allocated
func NewImageFromImage(img *Image) *Image {
	data:=make([]float32, img.Pixels)
	return &Image{
		ID:       img.ID,
		FileName: img.FileName,
		Header:   img.Header,
		Bitpix:   img.Bitpix,
		Bzero:    img.Bzero,
		Bscale:   img.Bscale,
		Naxisn:   append([]int32(nil), img.Naxisn...), // clone slice
		Pixels:   img.Pixels,
		Data:     data,
		Exposure: img.Exposure,
		Bayer:    img.Bayer,
		Stats:    stats.NewStats(data, img.Naxisn[0]),
		Stars:    img.Stars,
		HFR:      img.HFR,
		Trans:    star.IdentityTransform2D(),
	}
}


// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool), 
		Ints:    make(map[string]int32),
		Floats:  make(map[string]float32),
		Strings: make(map[string]string),
		Dates:   make(map[string]string),
		Comments:make([]string,0),
		History: make([]string,0),
		End:     false,
	}
}

const fitsBlockSize int  = 2880    // Block size of FITS header and data units
const HeaderLineSize int =   80    // Line size of a FITS header


// Returns true if the image has a trailing channel axis with three channels
func (f *Image) IsColor() bool {
	return len(f.Naxisn)==3 && f.Naxisn[2]==3
}

// Returns the number of pixels in one channel plane
func (f *Image) PlaneSize() int32 {
	return f.Naxisn[0]*f.Naxisn[1]
}

// Returns the data of the given channel plane. For mono images, channel 0 is the whole image
func (f *Image) Channel(ch int32) []float32 {
	if !f.IsColor() { return f.Data }
	l:=f.PlaneSize()
	return f.Data[ch*l:(ch+1)*l]
}

func (f *Image) DimensionsToString() string {
	b:=strings.Builder{}
	for i,naxis:=range(f.Naxisn) {
		if i>0 { 
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	} 
	return b.String()
}

// ITU-R BT.709 luminance weights
const lumR, lumG, lumB float32 = 0.2126, 0.7152, 0.0722

// Returns a new mono image containing the BT.709 luminance of a color image.
// Returns the image itself if it is already mono
func (f *Image) Luminance() *Image {
	if !f.IsColor() { return f }
	l:=f.PlaneSize()
	lum:=NewImageFromNaxisn(f.Naxisn[:2], nil)
	lum.ID, lum.FileName, lum.Exposure = f.ID, f.FileName, f.Exposure
	rs, gs, bs:=f.Data[:l], f.Data[l:2*l], f.Data[2*l:]
	for i:=range lum.Data {
		lum.Data[i]=lumR*rs[i] + lumG*gs[i] + lumB*bs[i]
	}
	return lum
}

// Apply NxN binning to source image and return new resulting image.
// A trailing channel axis is preserved, binning each plane separately
func NewImageBinNxN(src *Image, n int32) *Image {
	width, height:=src.Naxisn[0], src.Naxisn[1]
	binnedNaxisn:=append([]int32(nil), src.Naxisn...)
	binnedNaxisn[0], binnedNaxisn[1]=width/n, height/n

	binned:=NewImageFromNaxisn(binnedNaxisn, nil)
	binned.ID, binned.FileName, binned.Exposure = src.ID, src.FileName, src.Exposure

	channels:=int32(1)
	if src.IsColor() { channels=3 }
	srcPlane, dstPlane:=width*height, binnedNaxisn[0]*binnedNaxisn[1]

	normalizer:=1.0/float32(n*n)
	for ch:=int32(0); ch<channels; ch++ {
		srcData:=src.Data[ch*srcPlane:(ch+1)*srcPlane]
		dstData:=binned.Data[ch*dstPlane:(ch+1)*dstPlane]
		for y:=int32(0); y<binnedNaxisn[1]; y++ {
			for x:=int32(0); x<binnedNaxisn[0]; x++ {
				sum:=float32(0)
				for yoff:=int32(0); yoff<n; yoff++ {
					for xoff:=int32(0); xoff<n; xoff++ {
						sum+=srcData[(y*n+yoff)*width + (x*n+xoff)]
					}
				}
				dstData[y*binnedNaxisn[0]+x]=sum*normalizer
			}		
		}
	}

	return binned
}


// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
    if len(a) != len(b) {
        return false
    }
    for i, v := range a {
        if v != b[i] {
            return false
        }
    }
    return true
}
