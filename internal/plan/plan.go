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

// Package plan defines the human-authored observation plan the scheduler
// executes: a list of sky targets with time windows, exposure parameters
// and filters.
package plan

import (
	"fmt"
	"sort"
	"time"
)

// One item of an observation plan. Start is a UTC wall-clock hour of day;
// values past 24 represent the following UTC day
type Observation struct {
	Start  float64 `json:"start"`
	Expo   float32 `json:"expo"`  // exposure in seconds
	Count  int     `json:"count"` // number of exposures
	RA     float64 `json:"ra"`    // hours
	Dec    float64 `json:"dec"`   // degrees
	Filter string  `json:"filter"`
	Object string  `json:"object"`
	Focus  bool    `json:"focus"` // force refocus at acquisition
	Gain   int     `json:"gain"`
}

// Sorts the plan in execution order: lexicographic by (start, original
// index). The sort is stable so ties keep submission order
func Sort(items []Observation) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Start < items[j].Start
	})
}

// Validates that each item can be executed at all
func Validate(items []Observation) error {
	for i, o := range items {
		if o.Expo <= 0 {
			return fmt.Errorf("item %d (%s): exposure must be positive, got %g", i, o.Object, o.Expo)
		}
		if o.Count <= 0 {
			return fmt.Errorf("item %d (%s): count must be positive, got %d", i, o.Object, o.Count)
		}
		if o.RA < 0 || o.RA >= 24 {
			return fmt.Errorf("item %d (%s): right ascension %g outside [0,24)", i, o.Object, o.RA)
		}
		if o.Dec < -90 || o.Dec > 90 {
			return fmt.Errorf("item %d (%s): declination %g outside [-90,90]", i, o.Object, o.Dec)
		}
	}
	return nil
}

// Converts a start hour to a wall-clock time on the UTC day of now.
// Hours past 24 wrap into the following day
func StartTime(startHour float64, now time.Time) time.Time {
	midnight := now.UTC().Truncate(24 * time.Hour)
	return midnight.Add(time.Duration(startHour * float64(time.Hour)))
}

// Computes the wall-clock start of an item given the start time of its
// predecessor. A start at or before the previous item's crosses midnight
// and moves to the next day
func NextStartTime(startHour float64, now, previous time.Time) time.Time {
	t := StartTime(startHour, now)
	if previous.IsZero() {
		return t
	}
	for !t.After(previous) {
		t = t.Add(24 * time.Hour)
	}
	return t
}
