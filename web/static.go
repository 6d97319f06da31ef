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

// Package web provides the placeholder preview asset served when no
// camera frame has been captured yet.
package web

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

var fallbackJPEG []byte

// Returns a dark placeholder JPEG, rendered once on first use
func FallbackJPEG() []byte {
	if fallbackJPEG == nil {
		fallbackJPEG = renderFallback(320, 180)
	}
	return fallbackJPEG
}

func renderFallback(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		// subtle vertical gradient so the placeholder is visibly not a capture
		v := uint8(8 + 24*y/h)
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil
	}
	return buf.Bytes()
}
