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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mlnoga/nightwatch/internal/fits"
)

// Alpaca camera states (ASCOM CameraStates enumeration)
const (
	cameraStateIdle     = 0
	cameraStateExposing = 2
)

// Configures the Alpaca rig client
type AlpacaConfig struct {
	BaseURL      string // e.g. http://localhost:11111
	TelescopeNum int
	CameraNum    int
	FocuserNum   int
	WheelNum     int
	Filters      []string // filter wheel labels in wheel position order
	Latitude     float64
	Longitude    float64
	Elevation    float64
	HasGPS       bool
	OnFrame      func(*fits.Image) // invoked with every captured frame
	Log          *slog.Logger
}

// A rig backend speaking the ASCOM Alpaca HTTP protocol. One instance per
// rig; safe for use by a single automation at a time plus concurrent
// read-only status queries
type Alpaca struct {
	cfg    AlpacaConfig
	client *http.Client
	log    *slog.Logger
	tx     uint32

	mu     sync.Mutex
	names  Names
	sensor int
}

func NewAlpaca(cfg AlpacaConfig) *Alpaca {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Alpaca{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Minute},
		log:    cfg.Log,
	}
}

type alpacaResponse struct {
	Value        json.RawMessage `json:"Value"`
	Rank         int             `json:"Rank"`
	ErrorNumber  int             `json:"ErrorNumber"`
	ErrorMessage string          `json:"ErrorMessage"`
}

func (a *Alpaca) endpoint(device string, num int, method string) string {
	return fmt.Sprintf("%s/api/v1/%s/%d/%s", strings.TrimRight(a.cfg.BaseURL, "/"), device, num, method)
}

func (a *Alpaca) get(device string, num int, method string) (json.RawMessage, int, error) {
	u := a.endpoint(device, num, method) +
		"?ClientID=1&ClientTransactionID=" + strconv.FormatUint(uint64(atomic.AddUint32(&a.tx, 1)), 10)
	resp, err := a.client.Get(u)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	return a.decode(device, method, resp.Body)
}

func (a *Alpaca) put(device string, num int, method string, params url.Values) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("ClientID", "1")
	params.Set("ClientTransactionID", strconv.FormatUint(uint64(atomic.AddUint32(&a.tx, 1)), 10))
	resp, err := a.client.PostForm(a.endpoint(device, num, method), params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _, err = a.decode(device, method, resp.Body)
	return err
}

func (a *Alpaca) decode(device, method string, body io.Reader) (json.RawMessage, int, error) {
	var r alpacaResponse
	if err := json.NewDecoder(body).Decode(&r); err != nil {
		return nil, 0, fmt.Errorf("alpaca %s/%s: %w", device, method, err)
	}
	if r.ErrorNumber != 0 {
		return nil, 0, fmt.Errorf("alpaca %s/%s: %d %s", device, method, r.ErrorNumber, r.ErrorMessage)
	}
	return r.Value, r.Rank, nil
}

func (a *Alpaca) getBool(device string, num int, method string) (bool, error) {
	raw, _, err := a.get(device, num, method)
	if err != nil {
		return false, err
	}
	var v bool
	return v, json.Unmarshal(raw, &v)
}

func (a *Alpaca) getInt(device string, num int, method string) (int, error) {
	raw, _, err := a.get(device, num, method)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return int(v), nil
}

func (a *Alpaca) getFloat(device string, num int, method string) (float64, error) {
	raw, _, err := a.get(device, num, method)
	if err != nil {
		return 0, err
	}
	var v float64
	return v, json.Unmarshal(raw, &v)
}

func (a *Alpaca) getString(device string, num int, method string) (string, error) {
	raw, _, err := a.get(device, num, method)
	if err != nil {
		return "", err
	}
	var v string
	return v, json.Unmarshal(raw, &v)
}

func (a *Alpaca) connectDevice(device string, num int) (string, error) {
	if err := a.put(device, num, "connected", url.Values{"Connected": {"True"}}); err != nil {
		return "", err
	}
	return a.getString(device, num, "name")
}

func (a *Alpaca) Connect() Connections {
	var conns Connections
	var names Names
	var err error

	if names.Focuser, err = a.connectDevice("focuser", a.cfg.FocuserNum); err != nil {
		a.log.Warn("focuser connect failed", "error", err)
	} else {
		conns.Focuser = true
	}
	if names.Camera, err = a.connectDevice("camera", a.cfg.CameraNum); err != nil {
		a.log.Warn("camera connect failed", "error", err)
	} else {
		conns.Camera = true
		if sensor, err := a.getInt("camera", a.cfg.CameraNum, "sensortype"); err == nil {
			a.mu.Lock()
			a.sensor = sensor
			a.mu.Unlock()
		}
	}
	if names.Mount, err = a.connectDevice("telescope", a.cfg.TelescopeNum); err != nil {
		a.log.Warn("telescope connect failed", "error", err)
	} else {
		conns.Mount = true
	}
	if len(a.cfg.Filters) > 1 {
		if names.FilterWheel, err = a.connectDevice("filterwheel", a.cfg.WheelNum); err != nil {
			a.log.Warn("filter wheel connect failed", "error", err)
		} else {
			conns.FilterWheel = true
		}
	}

	a.mu.Lock()
	a.names = names
	a.mu.Unlock()

	if conns.Mount && a.cfg.HasGPS {
		a.log.Info("synchronizing mount location from configuration")
		if err := a.syncLocation(a.cfg.Latitude, a.cfg.Longitude, a.cfg.Elevation); err != nil {
			a.log.Warn("location sync failed", "error", err)
		}
	}
	return conns
}

func (a *Alpaca) Disconnect() error {
	return a.put("telescope", a.cfg.TelescopeNum, "connected", url.Values{"Connected": {"False"}})
}

func (a *Alpaca) syncLocation(lat, lon, elev float64) error {
	t := a.cfg.TelescopeNum
	if err := a.put("telescope", t, "siteelevation", url.Values{"SiteElevation": {formatFloat(elev)}}); err != nil {
		return err
	}
	if err := a.put("telescope", t, "sitelatitude", url.Values{"SiteLatitude": {formatFloat(lat)}}); err != nil {
		return err
	}
	return a.put("telescope", t, "sitelongitude", url.Values{"SiteLongitude": {formatFloat(lon)}})
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (a *Alpaca) SlewTo(ra, dec float64) error {
	t := a.cfg.TelescopeNum
	err := a.put("telescope", t, "slewtocoordinatesasync", url.Values{
		"RightAscension": {formatFloat(ra)},
		"Declination":    {formatFloat(dec)},
	})
	if err != nil {
		return err
	}
	for {
		slewing, err := a.getBool("telescope", t, "slewing")
		if err != nil {
			return err
		}
		if !slewing {
			return nil
		}
		time.Sleep(time.Second)
	}
}

func (a *Alpaca) SyncTo(ra, dec float64) error {
	return a.put("telescope", a.cfg.TelescopeNum, "synctocoordinates", url.Values{
		"RightAscension": {formatFloat(ra)},
		"Declination":    {formatFloat(dec)},
	})
}

func (a *Alpaca) SetTracking(rate int) error {
	t := a.cfg.TelescopeNum
	if err := a.put("telescope", t, "trackingrate", url.Values{"TrackingRate": {strconv.Itoa(rate)}}); err != nil {
		return err
	}
	return a.put("telescope", t, "tracking", url.Values{"Tracking": {"True"}})
}

func (a *Alpaca) Unpark() error {
	return a.put("telescope", a.cfg.TelescopeNum, "unpark", nil)
}

func (a *Alpaca) Location() string {
	t := a.cfg.TelescopeNum
	lat, err1 := a.getFloat("telescope", t, "sitelatitude")
	lon, err2 := a.getFloat("telescope", t, "sitelongitude")
	elev, err3 := a.getFloat("telescope", t, "siteelevation")
	if err1 != nil || err2 != nil || err3 != nil {
		return ""
	}
	return fmt.Sprintf("%g°, %g°, %gm", lat, lon, elev)
}

func (a *Alpaca) UTCDate() (string, error) {
	return a.getString("telescope", a.cfg.TelescopeNum, "utcdate")
}

func (a *Alpaca) SetUTCDate(date string) error {
	return a.put("telescope", a.cfg.TelescopeNum, "utcdate", url.Values{"UTCDate": {date}})
}

func (a *Alpaca) ChangeFilter(label string) error {
	for i, f := range a.cfg.Filters {
		if f == label {
			a.log.Info("filter wheel moving", "position", i, "filter", label)
			return a.put("filterwheel", a.cfg.WheelNum, "position", url.Values{"Position": {strconv.Itoa(i)}})
		}
	}
	return fmt.Errorf("unknown filter %q", label)
}

func (a *Alpaca) MoveFocuser(position int) error {
	f := a.cfg.FocuserNum
	if err := a.put("focuser", f, "move", url.Values{"Position": {strconv.Itoa(position)}}); err != nil {
		return err
	}
	for {
		moving, err := a.getBool("focuser", f, "ismoving")
		if err != nil {
			return err
		}
		if !moving {
			break
		}
		time.Sleep(time.Second)
	}
	// settling pause after travel
	time.Sleep(time.Second)
	return nil
}

func (a *Alpaca) HaltFocuser() error {
	return a.put("focuser", a.cfg.FocuserNum, "halt", nil)
}

func (a *Alpaca) FocuserPosition() (int, error) {
	return a.getInt("focuser", a.cfg.FocuserNum, "position")
}

func (a *Alpaca) MaxFocuserStep() (int, error) {
	return a.getInt("focuser", a.cfg.FocuserNum, "maxstep")
}

func (a *Alpaca) CaptureFrame(exposureSec float32, isLight bool) (*fits.Image, error) {
	c := a.cfg.CameraNum
	err := a.put("camera", c, "startexposure", url.Values{
		"Duration": {strconv.FormatFloat(float64(exposureSec), 'f', -1, 32)},
		"Light":    {strconv.FormatBool(isLight)},
	})
	if err != nil {
		return nil, err
	}
	time.Sleep(time.Duration(float64(exposureSec) * float64(time.Second)))
	for {
		st, err := a.getInt("camera", c, "camerastate")
		if err != nil {
			return nil, err
		}
		if st != cameraStateExposing {
			break
		}
		time.Sleep(time.Second)
	}

	frame, err := a.imageArray()
	if err != nil {
		return nil, err
	}
	frame.Exposure = exposureSec
	_, bayer, _ := a.BayerPattern()
	frame.Bayer = bayer
	if a.cfg.OnFrame != nil {
		a.cfg.OnFrame(frame)
	}
	return frame, nil
}

// Fetches the camera image and transposes the Alpaca [x][y] layout into the
// row-major (H,W) layout, channel-planar for color
func (a *Alpaca) imageArray() (*fits.Image, error) {
	raw, rank, err := a.get("camera", a.cfg.CameraNum, "imagearray")
	if err != nil {
		return nil, err
	}
	switch rank {
	case 3:
		var v [][][]float32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		w, h := int32(len(v)), int32(len(v[0]))
		channels := int32(len(v[0][0]))
		if channels != 3 {
			return nil, fmt.Errorf("unsupported channel count %d", channels)
		}
		img := fits.NewImageFromNaxisn([]int32{w, h, 3}, nil)
		plane := w * h
		for x := int32(0); x < w; x++ {
			for y := int32(0); y < h; y++ {
				for ch := int32(0); ch < 3; ch++ {
					img.Data[ch*plane+y*w+x] = v[x][y][ch]
				}
			}
		}
		return img, nil
	default:
		var v [][]float32
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		w, h := int32(len(v)), int32(len(v[0]))
		img := fits.NewImageFromNaxisn([]int32{w, h}, nil)
		for x := int32(0); x < w; x++ {
			for y := int32(0); y < h; y++ {
				img.Data[y*w+x] = v[x][y]
			}
		}
		return img, nil
	}
}

func (a *Alpaca) SetGain(gain int) error {
	return a.put("camera", a.cfg.CameraNum, "gain", url.Values{"Gain": {strconv.Itoa(gain)}})
}

func (a *Alpaca) SetBinX(n int) error {
	return a.put("camera", a.cfg.CameraNum, "binx", url.Values{"BinX": {strconv.Itoa(n)}})
}

func (a *Alpaca) SetBinY(n int) error {
	return a.put("camera", a.cfg.CameraNum, "biny", url.Values{"BinY": {strconv.Itoa(n)}})
}

func (a *Alpaca) SetCcdTemperature(temp int) error {
	return a.put("camera", a.cfg.CameraNum, "setccdtemperature",
		url.Values{"SetCCDTemperature": {strconv.Itoa(temp)}})
}

func (a *Alpaca) CcdTemperature() (int, error) {
	v, err := a.getFloat("camera", a.cfg.CameraNum, "ccdtemperature")
	if err != nil {
		return 0, err
	}
	return int(v + 0.5), nil
}

func (a *Alpaca) SetCooler(on bool) error {
	return a.put("camera", a.cfg.CameraNum, "cooleron", url.Values{"CoolerOn": {strconv.FormatBool(on)}})
}

// Maps the ASCOM SensorType enumeration onto (sensor, bayer, colorType)
func (a *Alpaca) BayerPattern() (sensor, bayer, colorType string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.sensor {
	case 0:
		return "MONOCHROME", "", ""
	case 1:
		return "COLOR", "", ""
	case 2:
		return "RGGB", "RGGB", "BAYER"
	case 3:
		return "CMYG", "CMYG", "BAYER"
	case 4:
		return "CMYG2", "CMYG2", "BAYER"
	case 5:
		return "LRGB", "", ""
	default:
		return "UNKNOWN", "", ""
	}
}

func (a *Alpaca) Names() Names {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.names
}
