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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/nightwatch/internal/device"
	"github.com/mlnoga/nightwatch/internal/fits"
	"github.com/mlnoga/nightwatch/internal/telemetry"
)

func intPtr(v int) *int { return &v }

func TestLibraryRoundTrip(t *testing.T) {
	lib := NewLibrary(t.TempDir())

	list, err := lib.List("cam1")
	require.NoError(t, err)
	assert.Empty(t, list)

	d1 := Descriptor{Gain: 100, Temperature: -10, Exposition: 30, Count: 20,
		Date: "2023-09-14T21.00.00", Filename: FrameFileName(30, 100, -10)}
	d2 := Descriptor{Gain: 100, Temperature: 0, Exposition: 30, Count: 20,
		Date: "2023-09-15T21.00.00", Filename: FrameFileName(30, 100, 0)}
	require.NoError(t, lib.Add("cam1", d1))
	require.NoError(t, lib.Add("cam1", d2))

	list, err = lib.List("cam1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dark_30_100_-10.fits", list[0].Filename)

	// other cameras are unaffected
	list, err = lib.List("cam2")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, lib.Remove("cam1", d1.Date))
	list, err = lib.List("cam1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, d2.Date, list[0].Date)

	assert.ErrorIs(t, lib.Remove("cam1", "1999-01-01T00.00.00"), ErrNotFound)
}

func TestLibraryChoose(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	require.NoError(t, lib.Add("cam1", Descriptor{Gain: 100, Temperature: -10, Exposition: 30, Date: "a"}))
	require.NoError(t, lib.Add("cam1", Descriptor{Gain: 100, Temperature: 0, Exposition: 30, Date: "b"}))
	require.NoError(t, lib.Add("cam1", Descriptor{Gain: 200, Temperature: 0, Exposition: 60, Date: "c"}))

	// temperature nil: first match on exposition and gain wins
	d, err := lib.Choose("cam1", 30, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", d.Date)

	// exact temperature match required when given
	d, err = lib.Choose("cam1", 30, 100, intPtr(0))
	require.NoError(t, err)
	assert.Equal(t, "b", d.Date)

	_, err = lib.Choose("cam1", 30, 100, intPtr(-20))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = lib.Choose("cam1", 120, 100, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = lib.Choose("nocam", 30, 100, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

// minimal rig backend producing flat dark frames
type fakeDevice struct {
	level   float32
	block   chan struct{} // when non-nil, CaptureFrame waits on it
	created int
}

func (d *fakeDevice) Connect() device.Connections       { return device.Connections{Camera: true} }
func (d *fakeDevice) Disconnect() error                 { return nil }
func (d *fakeDevice) SlewTo(ra, dec float64) error      { return nil }
func (d *fakeDevice) SyncTo(ra, dec float64) error      { return nil }
func (d *fakeDevice) SetTracking(rate int) error        { return nil }
func (d *fakeDevice) Unpark() error                     { return nil }
func (d *fakeDevice) Location() string                  { return "" }
func (d *fakeDevice) UTCDate() (string, error)          { return "", nil }
func (d *fakeDevice) SetUTCDate(date string) error      { return nil }
func (d *fakeDevice) ChangeFilter(label string) error   { return nil }
func (d *fakeDevice) MoveFocuser(position int) error    { return nil }
func (d *fakeDevice) HaltFocuser() error                { return nil }
func (d *fakeDevice) FocuserPosition() (int, error)     { return 0, nil }
func (d *fakeDevice) MaxFocuserStep() (int, error)      { return 50000, nil }
func (d *fakeDevice) SetGain(gain int) error            { return nil }
func (d *fakeDevice) SetBinX(n int) error               { return nil }
func (d *fakeDevice) SetBinY(n int) error               { return nil }
func (d *fakeDevice) SetCcdTemperature(temp int) error  { return nil }
func (d *fakeDevice) CcdTemperature() (int, error)      { return -10, nil }
func (d *fakeDevice) SetCooler(on bool) error           { return nil }
func (d *fakeDevice) Names() device.Names               { return device.Names{Camera: "fake"} }

func (d *fakeDevice) BayerPattern() (sensor, bayer, colorType string) {
	return "fake", "", "mono"
}

func (d *fakeDevice) CaptureFrame(exposureSec float32, isLight bool) (*fits.Image, error) {
	if d.block != nil {
		<-d.block
	}
	d.created++
	f := fits.NewImageFromNaxisn([]int32{8, 8}, nil)
	for i := range f.Data {
		f.Data[i] = d.level
	}
	f.Exposure = exposureSec
	return f, nil
}

func newTestManager(dev device.Device, root string) (*Manager, *Library) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	lib := NewLibrary(root)
	return NewManager(dev, lib, telemetry.NewHub(log), log), lib
}

func waitNotRunning(t *testing.T, m *Manager) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if !m.Running() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dark capture run did not finish")
}

func TestManagerCapturesMasterDark(t *testing.T) {
	dev := &fakeDevice{level: 320}
	m, lib := newTestManager(dev, t.TempDir())

	err := m.Start("cam1", []PlanItem{{Gain: 100, Exposition: 2, Count: 4}})
	require.NoError(t, err)
	waitNotRunning(t, m)

	list, err := lib.List("cam1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	d := list[0]
	assert.Equal(t, 100, d.Gain)
	assert.Equal(t, float32(2), d.Exposition)
	assert.Equal(t, 4, d.Count)
	assert.Equal(t, 4, dev.created)

	// the persisted master keeps the raw ADU level of the inputs
	master, err := fits.NewImageFromFile(lib.FramePath("cam1", d), 0, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, float32(320), master.Data[0])

	// the stacker finds it afterwards
	chosen, err := lib.Choose("cam1", 2, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, d.Filename, chosen.Filename)
}

func TestManagerBusyAndStop(t *testing.T) {
	dev := &fakeDevice{level: 320, block: make(chan struct{})}
	m, lib := newTestManager(dev, t.TempDir())

	require.NoError(t, m.Start("cam1", []PlanItem{{Gain: 100, Exposition: 1, Count: 1000}}))
	assert.ErrorIs(t, m.Start("cam1", nil), ErrBusy)

	m.Stop()
	close(dev.block)
	waitNotRunning(t, m)

	// the aborted series must not enter the library
	list, err := lib.List("cam1")
	require.NoError(t, err)
	assert.Empty(t, list)

	// a new run is accepted after the stop
	require.NoError(t, m.Start("cam1", nil))
	waitNotRunning(t, m)
}
