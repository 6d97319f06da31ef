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

// Package hist persists the per-observation execution record: what was
// planned, when it actually ran, how many frames were captured, and the
// preview written at the end.
package hist

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/mlnoga/nightwatch/internal/plan"
)

var ErrNoCurrent = errors.New("no open history entry")

// One executed (or executing) plan item. Timestamps are RFC 3339 UTC;
// empty strings mean not started / not ended yet
type PlanExecution struct {
	plan.Observation
	RealStart string `json:"real_start,omitempty"`
	End       string `json:"end,omitempty"`
	Images    int    `json:"images"`
	Jpg       string `json:"jpg,omitempty"`
}

// Append-only record of plan executions backed by a JSON file. The file is
// fully rewritten on Save; the scheduler is the only writer while HTTP
// handlers read copies
type Recorder struct {
	mu      sync.Mutex
	path    string
	entries []PlanExecution
	index   int // position of the currently executing entry
}

// Opens the history file, creating an empty record when it does not exist
func Open(path string) (*Recorder, error) {
	r := &Recorder{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &r.entries); err != nil {
		return nil, err
	}
	r.index = len(r.entries)
	return r, nil
}

// Appends one pending entry per plan item and positions the cursor on the
// first of them
func (r *Recorder) AppendFromPlan(items []plan.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = len(r.entries)
	for _, o := range items {
		r.entries = append(r.entries, PlanExecution{Observation: o})
	}
}

// Marks the current entry as started now
func (r *Recorder) StartCurrent() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index >= len(r.entries) {
		return ErrNoCurrent
	}
	r.entries[r.index].RealStart = time.Now().UTC().Format(time.RFC3339)
	return nil
}

// Increments the capture count of the current entry
func (r *Recorder) IncrementImages() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index >= len(r.entries) {
		return ErrNoCurrent
	}
	r.entries[r.index].Images++
	return nil
}

// Records the preview image path on the current entry
func (r *Recorder) AttachPreview(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index >= len(r.entries) {
		return ErrNoCurrent
	}
	r.entries[r.index].Jpg = path
	return nil
}

// Marks the current entry as ended now and advances to the next one
func (r *Recorder) CloseCurrent() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index >= len(r.entries) {
		return ErrNoCurrent
	}
	r.entries[r.index].End = time.Now().UTC().Format(time.RFC3339)
	r.index++
	return nil
}

// Returns a copy of all entries, oldest first
func (r *Recorder) Entries() []PlanExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	// non-nil also when empty, so JSON encodes [] rather than null
	out := make([]PlanExecution, len(r.entries))
	copy(out, r.entries)
	return out
}

// Returns a copy of the entry at the given position
func (r *Recorder) Entry(i int) (PlanExecution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.entries) {
		return PlanExecution{}, false
	}
	return r.entries[i], true
}

// Rewrites the history file with the current entries
func (r *Recorder) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := json.MarshalIndent(r.entries, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0644)
}
