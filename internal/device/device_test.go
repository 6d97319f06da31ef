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

package device

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/nightwatch/internal/fits"
)

type captureDevice struct {
	gain int
}

func (d *captureDevice) Connect() Connections          { return Connections{Camera: true} }
func (d *captureDevice) Disconnect() error             { return nil }
func (d *captureDevice) SlewTo(ra, dec float64) error  { return nil }
func (d *captureDevice) SyncTo(ra, dec float64) error  { return nil }
func (d *captureDevice) SetTracking(rate int) error    { return nil }
func (d *captureDevice) Unpark() error                 { return nil }
func (d *captureDevice) Location() string              { return "" }
func (d *captureDevice) UTCDate() (string, error)      { return "", nil }
func (d *captureDevice) SetUTCDate(date string) error  { return nil }
func (d *captureDevice) ChangeFilter(label string) error { return nil }
func (d *captureDevice) MoveFocuser(position int) error  { return nil }
func (d *captureDevice) HaltFocuser() error              { return nil }
func (d *captureDevice) FocuserPosition() (int, error)   { return 0, nil }
func (d *captureDevice) MaxFocuserStep() (int, error)    { return 0, nil }

func (d *captureDevice) CaptureFrame(exposureSec float32, isLight bool) (*fits.Image, error) {
	f := fits.NewImageFromNaxisn([]int32{16, 16}, nil)
	for i := range f.Data {
		f.Data[i] = 100 + float32(i)*123 // raw ADU ramp up to 31465
	}
	f.Exposure = exposureSec
	return f, nil
}

func (d *captureDevice) SetGain(gain int) error {
	d.gain = gain
	return nil
}
func (d *captureDevice) SetBinX(n int) error              { return nil }
func (d *captureDevice) SetBinY(n int) error              { return nil }
func (d *captureDevice) SetCcdTemperature(temp int) error { return nil }
func (d *captureDevice) CcdTemperature() (int, error)     { return 0, nil }
func (d *captureDevice) SetCooler(on bool) error          { return nil }
func (d *captureDevice) Names() Names                     { return Names{Camera: "testcam"} }

func (d *captureDevice) BayerPattern() (sensor, bayer, colorType string) {
	return "IMX294", "RGGB", "color"
}

func TestCaptureToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2023-09-14-M_31")
	dev := &captureDevice{}

	path, err := CaptureToFile(dev, dir, 30, 5.5, 42, "Ha", "M 31", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, dev.gain)

	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "capture-M_31-Ha-"), "file name %q", base)
	assert.True(t, strings.HasSuffix(base, ".fits"))

	f, err := fits.NewImageFromFile(path, 0, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "M 31", f.Header.Strings["OBJECT"])
	assert.Equal(t, "Ha", f.Header.Strings["FILTER"])
	assert.Equal(t, "IMX294", f.Header.Strings["SENSOR"])
	assert.Equal(t, "RGGB", f.Bayer)
	assert.Equal(t, int32(100), f.Header.Ints["GAIN"])
	dateObs := f.Header.Dates["DATE-OBS"]
	if dateObs == "" {
		dateObs = f.Header.Strings["DATE-OBS"]
	}
	assert.NotEmpty(t, dateObs)
	assert.InDelta(t, 5.5, f.Header.Floats["RA"], 1e-4)
	assert.InDelta(t, 42, f.Header.Floats["DEC"], 1e-4)

	// raw counts survive persistence without rescaling or saturation
	assert.Equal(t, float32(100), f.Data[0])
	assert.Equal(t, float32(100+255*123), f.Data[255])
	saturated := 0
	for _, v := range f.Data {
		if v >= 65535 {
			saturated++
		}
	}
	assert.Zero(t, saturated, "pixels clipped to full scale")
}

func TestFillCaptureHeader(t *testing.T) {
	dev := &captureDevice{}
	f := fits.NewImageFromNaxisn([]int32{4, 4}, nil)
	FillCaptureHeader(dev, f, 30, 120, "2023-09-14T21.30.00")

	assert.Equal(t, float32(30), f.Exposure)
	assert.Equal(t, "RGGB", f.Bayer)
	assert.Equal(t, "color", f.Header.Strings["COLORTYP"])
	assert.Equal(t, "2023-09-14T21.30.00", f.Header.Dates["DATE-OBS"])
}
