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

// Package state holds the process-wide telescope state record. Automation
// workers are the only writers; HTTP and WebSocket handlers read snapshots.
// Image buffers are published by reference swap and must be treated as
// immutable once stored.
package state

import (
	"sync"

	"github.com/mlnoga/nightwatch/internal/fits"
)

// Stretch strength and black point used by every preview render
type ImageSettings struct {
	Stretch    float32 `json:"stretch"`     // linear percentile stretch strength in [0,1]
	BlackPoint float32 `json:"black_point"` // percent of lowest pixels clipped to zero
}

// Per-device connection bits
type Connections struct {
	Mount       bool `json:"telescope"`
	Camera      bool `json:"camera"`
	Focuser     bool `json:"focuser"`
	FilterWheel bool `json:"filterwheel"`
}

// Read-only copy of the mutable state, safe to serialize
type Snapshot struct {
	Slewing    bool        `json:"is_slewing"`
	Capturing  bool        `json:"is_capturing"`
	Focusing   bool        `json:"is_focusing"`
	Focused    bool        `json:"is_focused"`
	PlanActive bool        `json:"plan_active"`
	Connected  Connections `json:"connected"`
	LastFocus  int         `json:"last_focus"`
	Settings   ImageSettings `json:"image_settings"`
}

// The process-wide telescope state record
type TelescopeState struct {
	mu sync.RWMutex

	slewing    bool
	capturing  bool
	focusing   bool
	focused    bool
	planActive bool
	connected  Connections

	lastRawFrame       *fits.Image
	lastStacked        *fits.Image
	lastStackedPreview []byte
	lastFocus          int

	settings ImageSettings
}

func New() *TelescopeState {
	return &TelescopeState{
		settings: ImageSettings{Stretch: 0.15, BlackPoint: 60},
	}
}

func (t *TelescopeState) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Slewing:    t.slewing,
		Capturing:  t.capturing,
		Focusing:   t.focusing,
		Focused:    t.focused,
		PlanActive: t.planActive,
		Connected:  t.connected,
		LastFocus:  t.lastFocus,
		Settings:   t.settings,
	}
}

func (t *TelescopeState) SetSlewing(v bool)   { t.mu.Lock(); t.slewing = v; t.mu.Unlock() }
func (t *TelescopeState) SetCapturing(v bool) { t.mu.Lock(); t.capturing = v; t.mu.Unlock() }
func (t *TelescopeState) SetFocusing(v bool)  { t.mu.Lock(); t.focusing = v; t.mu.Unlock() }
func (t *TelescopeState) SetFocused(v bool)   { t.mu.Lock(); t.focused = v; t.mu.Unlock() }

func (t *TelescopeState) Focused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.focused
}

func (t *TelescopeState) SetPlanActive(v bool) { t.mu.Lock(); t.planActive = v; t.mu.Unlock() }

func (t *TelescopeState) PlanActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.planActive
}

func (t *TelescopeState) SetConnected(c Connections) { t.mu.Lock(); t.connected = c; t.mu.Unlock() }

func (t *TelescopeState) Connected() Connections {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Publishes the latest raw camera frame. The frame must not be mutated
// after this call
func (t *TelescopeState) PublishRawFrame(f *fits.Image) {
	t.mu.Lock()
	t.lastRawFrame = f
	t.mu.Unlock()
}

func (t *TelescopeState) LastRawFrame() *fits.Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRawFrame
}

// Publishes the latest stacked master and its rendered JPEG preview
func (t *TelescopeState) PublishStacked(f *fits.Image, preview []byte) {
	t.mu.Lock()
	t.lastStacked = f
	t.lastStackedPreview = preview
	t.mu.Unlock()
}

func (t *TelescopeState) LastStacked() (*fits.Image, []byte) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastStacked, t.lastStackedPreview
}

func (t *TelescopeState) SetLastFocus(position int) {
	t.mu.Lock()
	t.lastFocus = position
	t.mu.Unlock()
}

func (t *TelescopeState) Settings() ImageSettings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

func (t *TelescopeState) SetSettings(s ImageSettings) {
	t.mu.Lock()
	t.settings = s
	t.mu.Unlock()
}
