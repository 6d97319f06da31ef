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

package rest

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/nightwatch/internal/config"
	"github.com/mlnoga/nightwatch/internal/dark"
	"github.com/mlnoga/nightwatch/internal/device"
	"github.com/mlnoga/nightwatch/internal/fits"
	"github.com/mlnoga/nightwatch/internal/hist"
	"github.com/mlnoga/nightwatch/internal/sched"
	"github.com/mlnoga/nightwatch/internal/solve"
	"github.com/mlnoga/nightwatch/internal/state"
	"github.com/mlnoga/nightwatch/internal/telemetry"
)

type fakeDevice struct {
	position int
	rng      *rand.Rand
}

func (d *fakeDevice) Connect() device.Connections {
	return device.Connections{Mount: true, Camera: true}
}
func (d *fakeDevice) Disconnect() error             { return nil }
func (d *fakeDevice) SlewTo(ra, dec float64) error  { return nil }
func (d *fakeDevice) SyncTo(ra, dec float64) error  { return nil }
func (d *fakeDevice) SetTracking(rate int) error    { return nil }
func (d *fakeDevice) Unpark() error                 { return nil }
func (d *fakeDevice) Location() string              { return "" }
func (d *fakeDevice) UTCDate() (string, error)      { return "", nil }
func (d *fakeDevice) SetUTCDate(date string) error  { return nil }
func (d *fakeDevice) ChangeFilter(label string) error { return nil }

func (d *fakeDevice) MoveFocuser(position int) error {
	d.position = position
	return nil
}
func (d *fakeDevice) HaltFocuser() error            { return nil }
func (d *fakeDevice) FocuserPosition() (int, error) { return d.position, nil }
func (d *fakeDevice) MaxFocuserStep() (int, error)  { return 50000, nil }

func (d *fakeDevice) CaptureFrame(exposureSec float32, isLight bool) (*fits.Image, error) {
	f := fits.NewImageFromNaxisn([]int32{32, 32}, nil)
	for i := range f.Data {
		f.Data[i] = 0.25 + 0.01*float32(d.rng.NormFloat64())
	}
	f.Exposure = exposureSec
	return f, nil
}
func (d *fakeDevice) SetGain(gain int) error           { return nil }
func (d *fakeDevice) SetBinX(n int) error              { return nil }
func (d *fakeDevice) SetBinY(n int) error              { return nil }
func (d *fakeDevice) SetCcdTemperature(temp int) error { return nil }
func (d *fakeDevice) CcdTemperature() (int, error)     { return -10, nil }
func (d *fakeDevice) SetCooler(on bool) error          { return nil }
func (d *fakeDevice) Names() device.Names              { return device.Names{Camera: "fake"} }
func (d *fakeDevice) BayerPattern() (sensor, bayer, colorType string) {
	return "fake", "", "mono"
}

type fakeSolver struct{}

func (fakeSolver) Solve(fitsPath string, raHint, decHint, radiusDeg float64) (solve.Solution, error) {
	return solve.Solution{RA: raHint, Dec: decHint}, nil
}

type fixture struct {
	router    *gin.Engine
	st        *state.TelescopeState
	scheduler *sched.Scheduler
	rec       *hist.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	dev := &fakeDevice{position: 25000, rng: rand.New(rand.NewSource(1))}
	st := state.New()
	hub := telemetry.NewHub(log)
	lib := dark.NewLibrary(filepath.Join(root, "darks"))
	rec, err := hist.Open(filepath.Join(root, "history.json"))
	require.NoError(t, err)

	scheduler := sched.New(dev, fakeSolver{}, lib, hub, st, rec, sched.Config{
		DataRoot:   filepath.Join(root, "captures"),
		SessionDir: filepath.Join(root, "session"),
		Camera:     "fake",
	}, log)
	darks := dark.NewManager(dev, lib, hub, log)
	store := config.NewStore(filepath.Join(root, "conf"))

	srv := NewServer(dev, st, hub, scheduler, darks, lib, store, rec, "fake", false, log)
	return &fixture{router: srv.Router(), st: st, scheduler: scheduler, rec: rec}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestIsRunning(t *testing.T) {
	f := newFixture(t)
	w := f.do("GET", "/api/v1/observation/is_running", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "false", w.Body.String())
}

func TestObservationStartValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do("POST", "/api/v1/observation/start", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// an empty plan is accepted and completes immediately
	w = f.do("POST", "/api/v1/observation/start", "[]")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items": 0}`, w.Body.String())
	assert.False(t, f.scheduler.Running())

	// invalid items are rejected by plan validation
	w = f.do("POST", "/api/v1/observation/start", `[{"expo": 0, "count": 1, "ra": 5, "dec": 40}]`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAutomationConflict(t *testing.T) {
	f := newFixture(t)
	farFuture := float64(time.Now().UTC().Hour()) + 2
	body, _ := json.Marshal([]map[string]interface{}{{
		"start": farFuture, "expo": 10, "count": 5, "ra": 5.5, "dec": 42, "object": "M31",
	}})

	w := f.do("POST", "/api/v1/observation/start", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	defer func() {
		f.scheduler.Stop()
		f.scheduler.Join()
	}()

	// scheduler owns the hardware: everything mutating is rejected
	w = f.do("POST", "/api/v1/observation/start", string(body))
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do("PUT", "/api/v1/dark/fake", `[{"gain": 100, "exposition": 30, "count": 5}]`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do("POST", "/api/v1/observation/capture", `{"exposition": 1}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do("POST", "/api/v1/focuser/30000", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do("POST", "/api/v1/focuser/autofocus", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// reads keep working
	w = f.do("GET", "/api/v1/observation/is_running", "")
	assert.Equal(t, "true", w.Body.String())

	w = f.do("POST", "/api/v1/observation/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestImageSettingsRoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/api/v1/observation/image_settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stretch": 0.15, "black_point": 60}`, w.Body.String())

	w = f.do("PUT", "/api/v1/observation/image_settings", `{"stretch": 0.3, "black_point": 40}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/api/v1/observation/image_settings", "")
	assert.JSONEq(t, `{"stretch": 0.3, "black_point": 40}`, w.Body.String())
	assert.Equal(t, float32(0.3), f.st.Settings().Stretch)

	w = f.do("PUT", "/api/v1/observation/image_settings", "oops")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLastImageFallback(t *testing.T) {
	f := newFixture(t)
	w := f.do("GET", "/api/v1/observation/last_image", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	w = f.do("GET", "/api/v1/observation/last_stacked_image", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestCaptureAndFWHM(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/api/v1/observation/fwhm", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("POST", "/api/v1/observation/capture", `{"exposition": 0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", "/api/v1/observation/capture", `{"exposition": 0.01}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.st.LastRawFrame())

	w = f.do("GET", "/api/v1/observation/fwhm", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sample map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sample))
	assert.Contains(t, sample, "fwhm")
	assert.Contains(t, sample, "star_count")

	// a stretched render of the buffered frame is served
	w = f.do("GET", "/api/v1/observation/last_image", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/api/v1/observation/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = f.do("GET", "/api/v1/observation/history/0", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do("GET", "/api/v1/observation/history/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFocuserEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/api/v1/focuser", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"position": 25000}`, w.Body.String())

	w = f.do("GET", "/api/v1/focuser/max", "")
	assert.JSONEq(t, `{"max": 50000}`, w.Body.String())

	w = f.do("POST", "/api/v1/focuser/30000", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do("GET", "/api/v1/focuser", "")
	assert.JSONEq(t, `{"position": 30000}`, w.Body.String())

	w = f.do("POST", "/api/v1/focuser/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do("POST", "/api/v1/focuser/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/api/v1/status/is_connected", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"telescope":false`)

	w = f.do("POST", "/api/v1/status/connect_hardware", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do("GET", "/api/v1/status/is_connected", "")
	assert.Contains(t, w.Body.String(), `"telescope":true`)
	assert.Contains(t, w.Body.String(), `"focuser":false`)

	w = f.do("POST", "/api/v1/status/set_telescope_date", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"synced":true`)
}

func TestDarkEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/api/v1/dark/fake", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "null", w.Body.String())

	w = f.do("DELETE", "/api/v1/dark/fake/2020-01-01T00.00.00", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("GET", "/api/v1/dark/current_process", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":false`)

	w = f.do("POST", "/api/v1/dark/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEquipmentEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/api/v1/cameras", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = f.do("POST", "/api/v1/cameras", `[{"name": "ASI294MC", "pixel_size": 4.63}]`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/api/v1/cameras", "")
	assert.Contains(t, w.Body.String(), "ASI294MC")

	w = f.do("GET", "/api/v1/cameras/current", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("POST", "/api/v1/cameras/current", `{"name": "ASI294MC"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do("GET", "/api/v1/cameras/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ASI294MC")

	w = f.do("GET", "/api/v1/cameras/schema", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// unrouted categories fall through to 404
	w = f.do("GET", "/api/v1/rockets", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
