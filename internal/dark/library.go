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

// Package dark maintains the master dark frame library: capture, averaging,
// persistence and the matching policy used by the stacker and scheduler.
package dark

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrNotFound = errors.New("no matching dark frame")

const indexFileName = "config.json"

// Describes one master dark frame on disk
type Descriptor struct {
	Gain        int     `json:"gain"`
	Temperature int     `json:"temperature"`
	Exposition  float32 `json:"exposition"`
	Count       int     `json:"count"`
	Date        string  `json:"date"`
	Filename    string  `json:"filename"`
}

// The on-disk dark library: one subdirectory per camera holding master
// dark FITS files and a JSON index keyed by camera name. The index is
// read-modify-write under a single mutex; the scheduler/dark-manager
// exclusivity rule keeps file writers unique
type Library struct {
	mu   sync.Mutex
	root string
}

func NewLibrary(root string) *Library {
	return &Library{root: root}
}

func (l *Library) indexPath() string { return filepath.Join(l.root, indexFileName) }

// Absolute path of a master dark file for the given camera
func (l *Library) FramePath(camera string, d Descriptor) string {
	return filepath.Join(l.root, camera, d.Filename)
}

// File name convention for master darks
func FrameFileName(exposition float32, gain, temperature int) string {
	return fmt.Sprintf("dark_%g_%d_%d.fits", exposition, gain, temperature)
}

func (l *Library) load() (map[string][]Descriptor, error) {
	index := map[string][]Descriptor{}
	data, err := os.ReadFile(l.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return nil, err
	}
	return index, json.Unmarshal(data, &index)
}

func (l *Library) save(index map[string][]Descriptor) error {
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(index, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.indexPath(), data, 0644)
}

// Lists the descriptors for a camera, in library order
func (l *Library) List(camera string) ([]Descriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	index, err := l.load()
	if err != nil {
		return nil, err
	}
	return index[camera], nil
}

// Appends a descriptor to the camera's list and rewrites the index
func (l *Library) Add(camera string, d Descriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	index, err := l.load()
	if err != nil {
		return err
	}
	index[camera] = append(index[camera], d)
	return l.save(index)
}

// Removes the descriptor with the given capture date and deletes its file
func (l *Library) Remove(camera, date string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	index, err := l.load()
	if err != nil {
		return err
	}
	descriptors := index[camera]
	for i, d := range descriptors {
		if d.Date == date {
			os.Remove(l.FramePath(camera, d))
			index[camera] = append(descriptors[:i], descriptors[i+1:]...)
			return l.save(index)
		}
	}
	return ErrNotFound
}

// Selects the first descriptor matching exposition and gain. When a
// temperature is given, it must match exactly; otherwise any temperature
// qualifies. Deterministic for a fixed library: first match in list order
func (l *Library) Choose(camera string, exposition float32, gain int, temperature *int) (Descriptor, error) {
	descriptors, err := l.List(camera)
	if err != nil {
		return Descriptor{}, err
	}
	for _, d := range descriptors {
		if d.Exposition != exposition || d.Gain != gain {
			continue
		}
		if temperature != nil && d.Temperature != *temperature {
			continue
		}
		return d, nil
	}
	return Descriptor{}, ErrNotFound
}
