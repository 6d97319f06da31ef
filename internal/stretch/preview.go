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
	"bytes"

	"github.com/mlnoga/nightwatch/internal/fits"
)

// Controls the preview render pipeline
type PreviewSettings struct {
	Stretch    float32 // linear percentile stretch strength in [0,1]
	BlackPoint float32 // percent of lowest pixels clipped to zero
	Saturation float32 // chroma multiplier for color frames, 1 is neutral, 0 disables
	Denoise    bool    // 3x3 median pass after the black point clip
	Quality    int     // JPEG quality, 0 selects the default
}

const defaultJPEGQuality = 85

// Renders a screen-ready JPEG of the given frame: normalize, linear
// percentile stretch, black point clip, optional denoise and chroma boost.
// The source image is not modified
func RenderPreview(src *fits.Image, s PreviewSettings) ([]byte, error) {
	f := fits.NewImageFromImage(src)
	copy(f.Data, src.Data)

	f.Normalize()
	if err := AutoStretch(f, AlgoLinearPercentile, s.Stretch); err != nil {
		return nil, err
	}
	if s.BlackPoint > 0 {
		ReplaceLowestPercentByZero(f, s.BlackPoint)
	}
	if s.Denoise {
		Denoise(f)
	}
	if f.IsColor() && s.Saturation > 0 && s.Saturation != 1 {
		f.RGBToCIEHSL()
		f.AdjustChroma(s.Saturation, 0)
		f.CIEHSLToRGB()
	}

	quality := s.Quality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	buf := &bytes.Buffer{}
	var err error
	if f.IsColor() {
		err = f.WriteJPG(buf, 0, 1, 1, quality)
	} else {
		err = f.WriteMonoJPG(buf, 0, 1, 1, quality)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
