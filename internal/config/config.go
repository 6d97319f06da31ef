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

// Package config reads the JSON configuration files consumed at startup
// and watches them for changes: the global config, the per-category
// equipment lists with their typed schemas, and the current selections.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const globalFileName = "config.json"

// Top-level server configuration, read from config.json in the conf dir
type Config struct {
	Listen   string `json:"listen"`
	DataRoot string `json:"data_root"`
	DarkRoot string `json:"dark_root"`
	History  string `json:"history_file"`
	LogLevel string `json:"log_level"` // debug, info, warn, error
	LogFile  string `json:"log_file"`  // empty disables file logging
	Debug    bool   `json:"debug"`     // keep solver scratch files

	Driver    string          `json:"driver"` // "simulator" or "alpaca"
	Simulator SimulatorConfig `json:"simulator"`
	Alpaca    AlpacaConfig    `json:"alpaca"`

	Observatory ObservatoryConfig `json:"observatory"`
	Solver      SolverConfig      `json:"solver"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Stacker     StackerConfig     `json:"stacker"`
}

type SimulatorConfig struct {
	LightDir string `json:"light_dir"`
	DarkDir  string `json:"dark_dir"`
}

type AlpacaConfig struct {
	BaseURL      string `json:"base_url"`
	TelescopeNum int    `json:"telescope_num"`
	CameraNum    int    `json:"camera_num"`
	FocuserNum   int    `json:"focuser_num"`
	WheelNum     int    `json:"wheel_num"`
}

type ObservatoryConfig struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation float64  `json:"elevation"`
	HasGPS    bool     `json:"has_gps"`
	Filters   []string `json:"filters"` // filter wheel labels in position order
}

type SolverConfig struct {
	Executable string  `json:"executable"`
	Catalog    string  `json:"catalog"`
	MaxStars   int     `json:"max_stars"`
	Downsample int     `json:"downsample"`
	Radius     float64 `json:"radius"` // degrees
}

type SchedulerConfig struct {
	SolveRetries     int     `json:"solve_retries"`
	MaxPositionError float64 `json:"max_position_error"` // degrees
	TargetTemp       *int    `json:"target_temp,omitempty"`
	FocusRange       int     `json:"focus_range"`
	FocusStep        int     `json:"focus_step"`
	FocusFrames      int     `json:"focus_frames"`
	FocusExposure    float32 `json:"focus_exposure"`
}

type StackerConfig struct {
	SigmaThreshold float32 `json:"sigma_threshold"`
	MaxHistory     int     `json:"max_history"`
	TargetWidth    int32   `json:"target_width"`
}

// Working defaults for a simulator rig rooted in dir
func Default(dir string) Config {
	return Config{
		Listen:   ":8080",
		DataRoot: filepath.Join(dir, "captures"),
		DarkRoot: filepath.Join(dir, "darks"),
		History:  filepath.Join(dir, "history.json"),
		LogLevel: "info",
		Driver:   "simulator",
		Observatory: ObservatoryConfig{
			Filters: []string{"L", "R", "G", "B"},
		},
		Solver: SolverConfig{
			Executable: "astap",
			MaxStars:   500,
			Downsample: 2,
			Radius:     10,
		},
		Scheduler: SchedulerConfig{
			SolveRetries:     3,
			MaxPositionError: 0.5,
		},
		Stacker: StackerConfig{
			SigmaThreshold: 4,
			MaxHistory:     7,
			TargetWidth:    1024,
		},
	}
}

// Loads config.json from the conf dir, falling back to defaults when the
// file does not exist. Unknown keys are ignored, missing keys keep their
// default values
func Load(dir string) (Config, error) {
	cfg := Default(dir)
	data, err := os.ReadFile(filepath.Join(dir, globalFileName))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
