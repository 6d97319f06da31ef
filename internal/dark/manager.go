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

package dark

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mlnoga/nightwatch/internal/device"
	"github.com/mlnoga/nightwatch/internal/fits"
	"github.com/mlnoga/nightwatch/internal/telemetry"
)

var ErrBusy = errors.New("a dark capture run is already active")

// One entry of a dark capture plan
type PlanItem struct {
	Gain        int     `json:"gain"`
	Temperature *int    `json:"temperature,omitempty"` // nil skips cooling
	Exposition  float32 `json:"exposition"`
	Count       int     `json:"count"`
}

// Progress of the active dark capture run
type Progress struct {
	Running    bool    `json:"running"`
	Item       int     `json:"item"`
	Items      int     `json:"items"`
	Captured   int     `json:"captured"`
	Count      int     `json:"count"`
	EtaSeconds float32 `json:"eta"`
}

// Background worker that captures dark frame series, averages them into
// master darks, and appends them to the library. One run at a time;
// mutual exclusion with the scheduler is enforced by the caller
type Manager struct {
	dev device.Device
	lib *Library
	hub *telemetry.Hub
	log *slog.Logger

	mu       sync.Mutex
	running  bool
	stop     bool
	progress Progress
}

func NewManager(dev device.Device, lib *Library, hub *telemetry.Hub, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{dev: dev, lib: lib, hub: hub, log: log}
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Requests a cooperative stop; the worker observes it between frames
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stop = true
	m.mu.Unlock()
}

func (m *Manager) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop
}

func (m *Manager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

func (m *Manager) setProgress(p Progress) {
	m.mu.Lock()
	m.progress = p
	m.mu.Unlock()
}

// Starts a dark capture run for the given camera in the background.
// Returns ErrBusy while a previous run is active
func (m *Manager) Start(camera string, items []PlanItem) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrBusy
	}
	m.running, m.stop = true, false
	m.mu.Unlock()

	go m.run(camera, items)
	return nil
}

func (m *Manager) run(camera string, items []PlanItem) {
	coolerOn := false
	defer func() {
		if coolerOn {
			m.dev.SetCooler(false)
		}
		m.mu.Lock()
		m.running = false
		m.progress = Progress{}
		m.mu.Unlock()
		m.status("stopped")
	}()

	m.log.Info("dark capture run starting", "camera", camera, "items", len(items))
	for i, item := range items {
		if m.stopped() {
			return
		}
		if item.Temperature != nil {
			m.status("cooling")
			coolerOn = true
			ok := device.StabilizeTemperature(m.dev, *item.Temperature, m.stopped, func(current int) {
				m.hub.Broadcast(telemetry.SenderDarkManager, telemetry.MsgTemperature,
					fmt.Sprintf("%d / %d°C", current, *item.Temperature))
			})
			if !ok {
				m.log.Warn("temperature stabilization aborted", "item", i)
				return
			}
		}
		if err := m.captureItem(camera, i, len(items), item); err != nil {
			m.log.Error("dark capture item failed", "item", i, "error", err)
			return
		}
	}
	if !m.stopped() {
		m.status("finished")
	}
}

// Captures one series of darks and writes the incremental mean as a single
// master dark FITS, then records it in the library index
func (m *Manager) captureItem(camera string, item, items int, p PlanItem) error {
	if err := m.dev.SetGain(p.Gain); err != nil {
		return err
	}
	m.status("capturing")

	var mean *fits.Image
	captured := 0
	for ; captured < p.Count; captured++ {
		if m.stopped() {
			return nil
		}
		m.setProgress(Progress{
			Running: true, Item: item, Items: items,
			Captured: captured, Count: p.Count,
			EtaSeconds: float32(p.Count-captured) * p.Exposition,
		})

		frame, err := m.dev.CaptureFrame(p.Exposition, false)
		if err != nil {
			return err
		}
		if mean == nil {
			mean = fits.NewImageFromImage(frame)
		} else if !fits.EqualInt32Slice(mean.Naxisn, frame.Naxisn) {
			return fmt.Errorf("dark frame dimensions %v differ from first frame %v", frame.Naxisn, mean.Naxisn)
		}
		scale := 1.0 / float32(p.Count)
		for j, v := range frame.Data {
			mean.Data[j] += v * scale
		}
		m.hub.Broadcast(telemetry.SenderDarkManager, telemetry.MsgNewImage,
			fmt.Sprintf("%d/%d", captured+1, p.Count))
	}
	if mean == nil {
		return nil
	}

	temperature := 0
	if p.Temperature != nil {
		temperature = *p.Temperature
	}
	fileName := FrameFileName(p.Exposition, p.Gain, temperature)
	dir := filepath.Join(m.lib.root, camera)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	mean.Exposure = p.Exposition
	mean.Stats.Clear()
	if err := mean.WriteUint16File(filepath.Join(dir, fileName)); err != nil {
		return err
	}

	d := Descriptor{
		Gain:        p.Gain,
		Temperature: temperature,
		Exposition:  p.Exposition,
		Count:       captured,
		Date:        time.Now().UTC().Format(device.DateObsLayout),
		Filename:    fileName,
	}
	m.log.Info("master dark written", "camera", camera, "file", fileName, "frames", captured)
	return m.lib.Add(camera, d)
}

func (m *Manager) status(s string) {
	m.hub.Broadcast(telemetry.SenderDarkManager, telemetry.MsgStatus, s)
}
