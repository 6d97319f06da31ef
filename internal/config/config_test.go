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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "simulator", cfg.Driver)
	assert.Equal(t, filepath.Join(dir, "darks"), cfg.DarkRoot)
	assert.Equal(t, 3, cfg.Scheduler.SolveRetries)
	assert.Equal(t, 7, cfg.Stacker.MaxHistory)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `{"listen": ":9000", "driver": "alpaca", "scheduler": {"solve_retries": 5}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "alpaca", cfg.Driver)
	assert.Equal(t, 5, cfg.Scheduler.SolveRetries)
	// untouched keys keep their defaults
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, float32(4), cfg.Stacker.SigmaThreshold)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{oops"), 0644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestStoreCRUD(t *testing.T) {
	s := NewStore(t.TempDir())

	items, err := s.List("cameras")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.List("rockets")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	put := []Item{
		{"name": "ASI294MC", "pixel_size": 4.63},
		{"name": "ASI120MM", "pixel_size": 3.75},
	}
	require.NoError(t, s.Put("cameras", put))

	items, err = s.List("cameras")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ASI294MC", items[0]["name"])

	// entries without a name are rejected
	err = s.Put("cameras", []Item{{"pixel_size": 4.63}})
	assert.Error(t, err)
}

func TestStoreSchemaValidation(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	schema := `{"name": "str", "pixel_size": "float", "bits": "int", "cooled": "bool"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "camerasschema.json"), []byte(schema), 0644))

	got, err := s.Schema("cameras")
	require.NoError(t, err)
	assert.Equal(t, "float", got["pixel_size"])

	ok := []Item{{"name": "cam", "pixel_size": 4.63, "bits": 14.0, "cooled": true}}
	assert.NoError(t, s.Put("cameras", ok))

	bad := []Item{{"name": "cam", "bits": 14.5}}
	assert.Error(t, s.Put("cameras", bad), "fractional value for int field")

	bad = []Item{{"name": "cam", "cooled": "yes"}}
	assert.Error(t, s.Put("cameras", bad))

	// fields outside the schema pass unchecked
	extra := []Item{{"name": "cam", "notes": "borrowed"}}
	assert.NoError(t, s.Put("cameras", extra))
}

func TestStoreCurrentSelection(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Put("telescopes", []Item{
		{"name": "newton200", "focal_length": 1000.0},
		{"name": "apo80", "focal_length": 480.0},
	}))

	_, err := s.Current("telescopes")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.SetCurrent("telescopes", "unknown"), ErrNotFound)
	require.NoError(t, s.SetCurrent("telescopes", "apo80"))

	item, err := s.Current("telescopes")
	require.NoError(t, err)
	assert.Equal(t, "apo80", item["name"])
	assert.Equal(t, 480.0, item["focal_length"])
}
