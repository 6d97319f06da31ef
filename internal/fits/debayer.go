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
	"errors"
	"fmt"

	"github.com/mlnoga/nightwatch/internal/stats"
)

// Translates a color filter array pattern into the offsets of the R pixel.
// Pattern: RGRGRGRG
//          GBGBGBGB
//          RGRGRGRG
//          GBGBGBGB
func cfaOffsets(cfa string) (xOffset, yOffset int32, err error) {
	switch cfa {
	case "RGGB", "rggb":
		return 0, 0, nil
	case "GRBG", "grbg":
		return 1, 0, nil
	case "GBRG", "gbrg":
		return 0, 1, nil
	case "BGGR", "bggr":
		return 1, 1, nil
	}
	return 0, 0, errors.New("Unknown CFA value " + cfa)
}

// Debayers a monochrome CFA image into a channel-planar color image by
// bilinear interpolation, using the image's own mosaic pattern if cfa is
// empty. Odd trailing rows and columns are dropped
func (f *Image) Debayer(cfa string) (res *Image, err error) {
	if f.IsColor() {
		return nil, fmt.Errorf("%d: cannot debayer color image", f.ID)
	}
	if cfa == "" {
		cfa = f.Bayer
	}
	xOffset, yOffset, err := cfaOffsets(cfa)
	if err != nil {
		return nil, err
	}

	width := f.Naxisn[0]
	rs, adjWidth := debayerBilinearRGGBToRed(f.Data, width, xOffset, yOffset)
	gs, _ := debayerBilinearRGGBToGreen(f.Data, width, xOffset, yOffset)
	bs, _ := debayerBilinearRGGBToBlue(f.Data, width, xOffset, yOffset)
	adjHeight := int32(len(rs)) / adjWidth

	res = NewImageFromImage(f)
	res.Naxisn = []int32{adjWidth, adjHeight, 3}
	res.Pixels = adjWidth * adjHeight * 3
	res.Data = make([]float32, int(res.Pixels))
	copy(res.Data[0:len(rs)], rs)
	copy(res.Data[len(rs):2*len(rs)], gs)
	copy(res.Data[2*len(rs):3*len(rs)], bs)
	res.Bayer = ""
	res.Stats = stats.NewStats(res.Data, adjWidth)
	return res, nil
}

// Rebayers a channel-planar color image back into a monochrome CFA mosaic by
// exact inverse sampling: each pixel takes the value of the channel plane its
// mosaic position samples. Inverse of Debayer up to interpolated positions
func (f *Image) Rebayer(cfa string) (res *Image, err error) {
	if !f.IsColor() {
		return nil, fmt.Errorf("%d: cannot rebayer mono image", f.ID)
	}
	xOffset, yOffset, err := cfaOffsets(cfa)
	if err != nil {
		return nil, err
	}

	width, height := f.Naxisn[0], f.Naxisn[1]
	plane := width * height
	res = NewImageFromImage(f)
	res.Naxisn = []int32{width, height}
	res.Pixels = plane
	res.Data = make([]float32, int(plane))
	res.Bayer = cfa
	res.Stats = stats.NewStats(res.Data, width)

	for row := int32(0); row < height; row++ {
		for col := int32(0); col < width; col++ {
			var ch int32
			if (row+yOffset)&1 == 0 {
				if (col+xOffset)&1 == 0 {
					ch = 0 // red
				} else {
					ch = 1 // green
				}
			} else {
				if (col+xOffset)&1 == 0 {
					ch = 1 // green
				} else {
					ch = 2 // blue
				}
			}
			res.Data[row*width+col] = f.Data[ch*plane+row*width+col]
		}
	}
	return res, nil
}

func debayerBilinearRGGBToRed(data []float32, width, xOffset, yOffset int32) (rs []float32, adjWidth int32) {
	height   :=int32(len(data))/width
	adjWidth  =(width-xOffset)  & ^1            // ignore last column and row in odd-sized images
	adjHeight:=(height-yOffset) & ^1
	rs        =make([]float32,int(adjWidth)*int(adjHeight))

	// for all pixels in adjusted range
	for row:=int32(0); row<adjHeight; row+=2 {
		for col:=int32(0); col<adjWidth; col+=2 {
			srcOffset :=(row+yOffset)*   width +(col+xOffset)
			destOffset:=(row        )*adjWidth +(col        )

			// read relevant red values
			r:=data[srcOffset]
			rRight, rDown, rRD:=r, r, r
			if col+2<adjWidth {
				rRight=data[srcOffset+2]
	 			if row+2<adjHeight {
	 				rDown=data[srcOffset+  2*width]
	 				rRD  =data[srcOffset+2+2*width]
	 			}			
			} else if row+2<adjHeight {
	 				rDown=data[srcOffset+2*width]
			}

			// interpolate and write red values
			rs[destOffset           ]=      r
			rs[destOffset+1         ]=0.5 *(r+rRight)
 			rs[destOffset  +adjWidth]=0.5 *(r+rDown)
 			rs[destOffset+1+adjWidth]=0.25*(r+rRight+rDown+rRD)
		}
	}

	return rs, adjWidth
}

func debayerBilinearRGGBToGreen(data []float32, width, xOffset, yOffset int32) (gs []float32, adjWidth int32) {
	height   :=int32(len(data))/width
	adjWidth  =(width-xOffset)  & ^1            // ignore last column and row in odd-sized images
	adjHeight:=(height-yOffset) & ^1
	gs        =make([]float32,int(adjWidth)*int(adjHeight))

	// for all pixels in adjusted range
	for row:=int32(0); row<adjHeight; row+=2 {
		for col:=int32(0); col<adjWidth; col+=2 {
			srcOffset :=(row+yOffset)*   width +(col+xOffset)
			destOffset:=(row        )*adjWidth +(col        )

			// read relevant green values
			g1:=data[srcOffset+1      ]
			g2:=data[srcOffset  +width]

			g1Left, g2Up:=g1, 0.5*(g1+g2)
			if col>=2 {
				g1Left=data[srcOffset-1      ]
	 			if row>=2 {
	 				g2Up=data[srcOffset-1-width]
	 			}			
			}
			g2Right, g1Down:=g2, 0.5*(g1+g2)
			if col<adjWidth-2 {
				g2Right=data[srcOffset+2+width]
	 			if row<adjHeight-2 {
	 				g1Down=data[srcOffset+1+2*width]
	 			}			
			}

			// interpolate and write green values
			gs[destOffset           ]=0.25*(g1+g2+g1Left+g2Up)
			gs[destOffset+1         ]=      g1
 			gs[destOffset  +adjWidth]=         g2
 			gs[destOffset+1+adjWidth]=0.25*(g1+g2+g2Right+g1Down)
		}
	}

	return gs, adjWidth
}

func debayerBilinearRGGBToBlue(data []float32, width, xOffset, yOffset int32) (bs []float32, adjWidth int32) {
	height   :=int32(len(data))/width
	adjWidth  =(width-xOffset)  & ^1            // ignore last column and row in odd-sized images
	adjHeight:=(height-yOffset) & ^1
	bs        =make([]float32,int(adjWidth)*int(adjHeight))

	// for all pixels in adjusted range
	for row:=int32(0); row<adjHeight; row+=2 {
		for col:=int32(0); col<adjWidth; col+=2 {
			srcOffset :=(row+yOffset)*   width +(col+xOffset)
			destOffset:=(row        )*adjWidth +(col        )

			// read relevant blue values
			b:=data[srcOffset+1+width]
			bLeft, bUp, bLU:=b, b, b
			if col>=2 {
				bLeft=data[srcOffset-1+width]
	 			if row>=2 {
	 				bUp=data[srcOffset+1-width]
	 				bLU=data[srcOffset-1-width]
	 			}			
			} else if row>=2 {
	 				bUp=data[srcOffset+1-width]
			}

			// interpolate and write blue values
			bs[destOffset           ]=0.25*(b+bLeft+bUp+bLU)
			bs[destOffset+1         ]=0.5 *(b+bUp)
 			bs[destOffset  +adjWidth]=0.5 *(b+bLeft)
 			bs[destOffset+1+adjWidth]=      b
		}
	}

	return bs, adjWidth
}
