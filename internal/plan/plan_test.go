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

package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validItem(start float64, object string) Observation {
	return Observation{Start: start, Expo: 30, Count: 10, RA: 5.5, Dec: 42, Object: object}
}

func TestSortStable(t *testing.T) {
	items := []Observation{
		validItem(22, "M31"),
		validItem(21, "M42"),
		validItem(22, "M45"),
		validItem(25.5, "M81"),
	}
	Sort(items)
	assert.Equal(t, "M42", items[0].Object)
	assert.Equal(t, "M31", items[1].Object) // tie keeps submission order
	assert.Equal(t, "M45", items[2].Object)
	assert.Equal(t, "M81", items[3].Object)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate([]Observation{validItem(20, "M31")}))

	bad := validItem(20, "M31")
	bad.Expo = 0
	assert.Error(t, Validate([]Observation{bad}))

	bad = validItem(20, "M31")
	bad.Count = -1
	assert.Error(t, Validate([]Observation{bad}))

	bad = validItem(20, "M31")
	bad.RA = 24
	assert.Error(t, Validate([]Observation{bad}))

	bad = validItem(20, "M31")
	bad.Dec = -90.5
	assert.Error(t, Validate([]Observation{bad}))
}

func TestStartTime(t *testing.T) {
	now := time.Date(2023, 9, 14, 18, 30, 0, 0, time.UTC)

	got := StartTime(22.5, now)
	assert.Equal(t, time.Date(2023, 9, 14, 22, 30, 0, 0, time.UTC), got)

	// hours past 24 wrap into the following day
	got = StartTime(25.25, now)
	assert.Equal(t, time.Date(2023, 9, 15, 1, 15, 0, 0, time.UTC), got)
}

func TestNextStartTime(t *testing.T) {
	now := time.Date(2023, 9, 14, 18, 30, 0, 0, time.UTC)

	first := NextStartTime(22, now, time.Time{})
	assert.Equal(t, time.Date(2023, 9, 14, 22, 0, 0, 0, time.UTC), first)

	// an item starting earlier than its predecessor crosses midnight
	second := NextStartTime(1.5, now, first)
	assert.Equal(t, time.Date(2023, 9, 15, 1, 30, 0, 0, time.UTC), second)

	// equal start also moves to the next day
	third := NextStartTime(1.5, now, second)
	assert.Equal(t, time.Date(2023, 9, 16, 1, 30, 0, 0, time.UTC), third)
}
