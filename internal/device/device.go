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

// Package device defines the hardware capability set the automation engine
// depends on, with an Alpaca HTTP client for real rigs and a file-backed
// simulator.
package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mlnoga/nightwatch/internal/fits"
)

var ErrNotConnected = errors.New("device not connected")

// Timestamp layout used in FITS DATE-OBS headers and capture file names
const DateObsLayout = "2006-01-02T15.04.05"

// Human-readable names of the connected devices
type Names struct {
	Mount       string `json:"telescope"`
	Camera      string `json:"camera"`
	Focuser     string `json:"focuser"`
	FilterWheel string `json:"filterwheel"`
}

// Per-device connection outcome; partial success is permitted
type Connections struct {
	Mount       bool `json:"telescope"`
	Camera      bool `json:"camera"`
	Focuser     bool `json:"focuser"`
	FilterWheel bool `json:"filterwheel"`
}

// The capability set the engine requires from any rig backend. All blocking
// operations return only once the hardware reports completion. Errors are
// reported to the caller; implementations never panic into the scheduler
type Device interface {
	// Connects all devices, recording per-device success bits
	Connect() Connections
	Disconnect() error

	// Mount
	SlewTo(ra, dec float64) error // ra in hours, dec in degrees; blocks until stationary
	SyncTo(ra, dec float64) error // overrides mount coordinates without moving
	SetTracking(rate int) error
	Unpark() error
	Location() string
	UTCDate() (string, error)
	SetUTCDate(date string) error

	// Filter wheel
	ChangeFilter(label string) error

	// Focuser
	MoveFocuser(position int) error // blocks until settled
	HaltFocuser() error
	FocuserPosition() (int, error)
	MaxFocuserStep() (int, error)

	// Camera
	CaptureFrame(exposureSec float32, isLight bool) (*fits.Image, error)
	SetGain(gain int) error
	SetBinX(n int) error
	SetBinY(n int) error
	SetCcdTemperature(temp int) error
	CcdTemperature() (int, error)
	SetCooler(on bool) error
	BayerPattern() (sensor, bayer, colorType string)

	Names() Names
}

const (
	tempTolerance    = 1 // degrees C
	tempPollInterval = 5 * time.Second
)

// Commands the camera cooler to the target temperature and polls until the
// readout is within 1 degree C. Reports every poll via report, checks stop
// between polls. Returns false when stopped or the readout fails
func StabilizeTemperature(dev Device, target int, stop func() bool, report func(current int)) bool {
	if err := dev.SetCcdTemperature(target); err != nil {
		return false
	}
	if err := dev.SetCooler(true); err != nil {
		return false
	}
	for {
		time.Sleep(tempPollInterval)
		if stop != nil && stop() {
			return false
		}
		current, err := dev.CcdTemperature()
		if err != nil {
			return false
		}
		if report != nil {
			report(current)
		}
		if abs(current-target) < tempTolerance {
			return true
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Captures a light frame and persists it as a 16-bit FITS file named
// capture-{object}-{filter}-{DATE-OBS}.fits in the given directory, with
// sensor, gain, coordinate and timing headers filled in
func CaptureToFile(dev Device, dir string, exposure float32, ra, dec float64, filterName, targetName string, gain int) (string, error) {
	if err := dev.SetGain(gain); err != nil {
		return "", err
	}
	frame, err := dev.CaptureFrame(exposure, true)
	if err != nil {
		return "", err
	}
	dateObs := time.Now().UTC().Format(DateObsLayout)
	FillCaptureHeader(dev, frame, exposure, gain, dateObs)
	frame.Header.Floats["RA"] = float32(ra)
	frame.Header.Floats["DEC"] = float32(dec)
	frame.Header.Strings["OBJECT"] = targetName
	frame.Header.Strings["FILTER"] = filterName

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	fileName := fmt.Sprintf("capture-%s-%s-%s.fits",
		strings.ReplaceAll(targetName, " ", "_"),
		strings.ReplaceAll(filterName, " ", "_"),
		dateObs)
	path := filepath.Join(dir, fileName)
	if err := frame.WriteUint16File(path); err != nil {
		return "", err
	}
	return path, nil
}

// Fills the standard capture headers on a frame: SENSOR, BAYERPAT,
// COLORTYP, EXPTIME, GAIN and DATE-OBS
func FillCaptureHeader(dev Device, frame *fits.Image, exposure float32, gain int, dateObs string) {
	sensor, bayer, colorType := dev.BayerPattern()
	frame.Header.Strings["SENSOR"] = sensor
	if bayer != "" {
		frame.Bayer = bayer
	}
	if colorType != "" {
		frame.Header.Strings["COLORTYP"] = colorType
	}
	frame.Exposure = exposure
	frame.Header.Ints["GAIN"] = int32(gain)
	frame.Header.Dates["DATE-OBS"] = dateObs
}
