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
)

// Subtracts the given dark frame from the image, clamping results at zero.
// Operates in-place. Fails if the dimensions do not match
func (f *Image) SubtractDark(dark *Image) error {
	if !EqualInt32Slice(f.Naxisn, dark.Naxisn) {
		return fmt.Errorf("%d: dark dimensions %v differ from light dimensions %v",
			f.ID, dark.Naxisn, f.Naxisn)
	}
	for i, d := range f.Data {
		v := d - dark.Data[i]
		if v < 0 {
			v = 0
		}
		f.Data[i] = v
	}
	f.Stats.Clear()
	return nil
}
