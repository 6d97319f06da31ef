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
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mlnoga/nightwatch/internal/fits"
)

// Simulated focuser home position; frames get progressively blurred as the
// focuser moves away from it
const simPerfectFocus = 25000

const simTrailProbability = 0.1

// Configures the simulated rig
type SimulatorConfig struct {
	LightDir     string   // directory of sample light FITS frames
	DarkDir      string   // directory of sample dark FITS frames
	Filters      []string // filter wheel labels
	Latitude     float64
	Longitude    float64
	Elevation    float64
	HasGPS       bool
	MoveDuration time.Duration      // total focuser travel time, defaults to 10s
	OnFrame      func(*fits.Image)  // invoked with every captured frame
	Log          *slog.Logger
}

// A rig backend serving FITS frames from a sample directory. Light frames
// cycle in modification-time order; a separate directory serves dark
// captures. Satellite trails are injected into a fraction of light frames
// to exercise outlier rejection downstream
type Simulator struct {
	cfg        SimulatorConfig
	log        *slog.Logger

	mu         sync.Mutex
	lightFiles []string
	darkFiles  []string
	lightIdx   int
	darkIdx    int

	focuserPos    int
	focuserMoving bool

	currentTemp int
	targetTemp  int
	gain        int
	bayer       string
	location    string
	names       Names
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.MoveDuration == 0 {
		cfg.MoveDuration = 10 * time.Second
	}
	s := &Simulator{
		cfg:         cfg,
		log:         cfg.Log,
		focuserPos:  simPerfectFocus,
		currentTemp: 15,
		targetTemp:  15,
		location:    "0.0°, 0.0°, 0.0m",
	}
	s.lightFiles = listFitsFilesByMtime(cfg.LightDir)
	s.darkFiles = listFitsFilesByMtime(cfg.DarkDir)
	s.log.Info("simulator sample frames found",
		"lights", len(s.lightFiles), "lightDir", cfg.LightDir,
		"darks", len(s.darkFiles), "darkDir", cfg.DarkDir)
	return s
}

func listFitsFilesByMtime(dir string) []string {
	if dir == "" {
		return nil
	}
	var files []string
	for _, pattern := range []string{"*.fit", "*.fits"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		files = append(files, matches...)
	}
	sort.Slice(files, func(i, j int) bool {
		fi, erri := os.Stat(files[i])
		fj, errj := os.Stat(files[j])
		if erri != nil || errj != nil {
			return files[i] < files[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})
	return files
}

func (s *Simulator) Connect() Connections {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = Names{
		Mount:       "Simulator Mount",
		Camera:      "Simulator Camera",
		Focuser:     "Simulator Focuser",
		FilterWheel: "Simulator Filter Wheel",
	}
	if !s.cfg.HasGPS {
		s.location = fmt.Sprintf("%g°, %g°, %gm", s.cfg.Latitude, s.cfg.Longitude, s.cfg.Elevation)
	}
	return Connections{Mount: true, Camera: true, Focuser: true, FilterWheel: true}
}

func (s *Simulator) Disconnect() error { return nil }

func (s *Simulator) SlewTo(ra, dec float64) error {
	time.Sleep(time.Second)
	return nil
}

func (s *Simulator) SyncTo(ra, dec float64) error { return nil }
func (s *Simulator) SetTracking(rate int) error   { return nil }
func (s *Simulator) Unpark() error                { return nil }

func (s *Simulator) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *Simulator) UTCDate() (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

func (s *Simulator) SetUTCDate(date string) error {
	s.log.Info("simulator setting date", "date", date)
	return nil
}

func (s *Simulator) ChangeFilter(label string) error {
	for i, f := range s.cfg.Filters {
		if f == label {
			s.log.Info("filter wheel moving", "position", i, "filter", label)
			return nil
		}
	}
	return fmt.Errorf("unknown filter %q", label)
}

// Moves gradually in 20 steps so a concurrent halt takes effect mid-travel
func (s *Simulator) MoveFocuser(position int) error {
	const steps = 20
	s.mu.Lock()
	delta := position - s.focuserPos
	s.focuserMoving = true
	s.mu.Unlock()

	step := delta / steps
	for i := 0; i < steps; i++ {
		s.mu.Lock()
		if !s.focuserMoving {
			s.mu.Unlock()
			return nil
		}
		s.focuserPos += step
		s.mu.Unlock()
		time.Sleep(s.cfg.MoveDuration / steps)
	}
	s.mu.Lock()
	if s.focuserMoving {
		s.focuserPos = position
	}
	s.focuserMoving = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) HaltFocuser() error {
	s.mu.Lock()
	s.focuserMoving = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) FocuserPosition() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focuserPos, nil
}

func (s *Simulator) MaxFocuserStep() (int, error) { return 40000, nil }

func (s *Simulator) CaptureFrame(exposureSec float32, isLight bool) (*fits.Image, error) {
	path, focusError := "", 0
	s.mu.Lock()
	if isLight {
		if len(s.lightFiles) == 0 {
			s.mu.Unlock()
			return nil, fmt.Errorf("no sample light frames in %s", s.cfg.LightDir)
		}
		path = s.lightFiles[s.lightIdx]
		s.lightIdx = (s.lightIdx + 1) % len(s.lightFiles)
		focusError = abs(s.focuserPos - simPerfectFocus)
	} else {
		if len(s.darkFiles) == 0 {
			s.mu.Unlock()
			return nil, fmt.Errorf("no sample dark frames in %s", s.cfg.DarkDir)
		}
		path = s.darkFiles[s.darkIdx]
		s.darkIdx = (s.darkIdx + 1) % len(s.darkFiles)
	}
	s.mu.Unlock()

	frame, err := fits.NewImageFromFile(path, 0, io.Discard)
	if err != nil {
		return nil, err
	}
	if isLight {
		if focusError > 0 {
			blurFrame(frame, focusError)
		}
		if rand.Float64() < simTrailProbability {
			addSatelliteTrail(frame, s.log)
		}
	}
	time.Sleep(time.Duration(float64(exposureSec) * float64(time.Second)))

	s.mu.Lock()
	s.bayer = frame.Bayer
	s.mu.Unlock()
	if s.cfg.OnFrame != nil {
		s.cfg.OnFrame(frame)
	}
	return frame, nil
}

func (s *Simulator) SetGain(gain int) error {
	s.mu.Lock()
	s.gain = gain
	s.mu.Unlock()
	return nil
}

func (s *Simulator) SetBinX(n int) error { return nil }
func (s *Simulator) SetBinY(n int) error { return nil }

func (s *Simulator) SetCcdTemperature(temp int) error {
	s.mu.Lock()
	s.targetTemp = temp
	s.mu.Unlock()
	return nil
}

// Approaches the target by one degree per readout
func (s *Simulator) CcdTemperature() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTemp > s.targetTemp {
		s.currentTemp--
	} else if s.currentTemp < s.targetTemp {
		s.currentTemp++
	}
	return s.currentTemp, nil
}

func (s *Simulator) SetCooler(on bool) error { return nil }

func (s *Simulator) BayerPattern() (sensor, bayer, colorType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.bayer {
	case "RGGB", "BGGR", "GRBG", "GBRG":
		return s.bayer, s.bayer, "BAYER"
	case "":
		return "MONOCHROME", "", ""
	default:
		return s.bayer, "", ""
	}
}

func (s *Simulator) Names() Names {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names
}

// Defocus simulation: box-blur passes proportional to the focuser error
func blurFrame(f *fits.Image, focusError int) {
	passes := focusError / 100
	if passes > 6 {
		passes = 6
	}
	if passes == 0 {
		return
	}
	width := f.Naxisn[0]
	channels := int32(1)
	if f.IsColor() {
		channels = 3
	}
	plane := int32(len(f.Data)) / channels
	buffer := make([]float32, plane)
	for ch := int32(0); ch < channels; ch++ {
		data := f.Data[ch*plane : (ch+1)*plane]
		for p := 0; p < passes; p++ {
			boxBlur3x3(data, buffer, width)
		}
	}
	f.Stats.Clear()
}

func boxBlur3x3(data, buffer []float32, width int32) {
	height := int32(len(data)) / width
	copy(buffer, data)
	for y := int32(1); y < height-1; y++ {
		for x := int32(1); x < width-1; x++ {
			i := y*width + x
			sum := buffer[i-width-1] + buffer[i-width] + buffer[i-width+1] +
				buffer[i-1] + buffer[i] + buffer[i+1] +
				buffer[i+width-1] + buffer[i+width] + buffer[i+width+1]
			data[i] = sum * (1.0 / 9.0)
		}
	}
}

// Draws a random bright line across the frame, 1.5-3x the maximum pixel
// value, with 1-3px thickness and radial falloff
func addSatelliteTrail(f *fits.Image, log *slog.Logger) {
	width := f.Naxisn[0]
	channels := int32(1)
	if f.IsColor() {
		channels = 3
	}
	plane := int32(len(f.Data)) / channels
	height := plane / width
	w, h := int(width), int(height)

	slope := rand.Float64()*4 - 2
	cx := w/4 + rand.Intn(w/2)
	cy := h/4 + rand.Intn(h/2)
	b := float64(cy) - slope*float64(cx)

	var pts [][2]int
	if y := int(b); y >= 0 && y < h {
		pts = append(pts, [2]int{0, y})
	}
	if y := int(slope*float64(w-1) + b); y >= 0 && y < h {
		pts = append(pts, [2]int{w - 1, y})
	}
	if slope != 0 {
		if x := int(-b / slope); x >= 0 && x < w {
			pts = append(pts, [2]int{x, 0})
		}
		if x := int((float64(h-1) - b) / slope); x >= 0 && x < w {
			pts = append(pts, [2]int{x, h - 1})
		}
	}
	x0, y0, x1, y1 := 0, 0, w-1, h-1
	if len(pts) >= 2 {
		x0, y0, x1, y1 = pts[0][0], pts[0][1], pts[1][0], pts[1][1]
	}

	brightness := 1.5 + rand.Float32()*1.5
	value := f.Stats.Max() * brightness
	thickness := 1 + rand.Intn(3)

	for _, p := range bresenhamLine(x0, y0, x1, y1) {
		for dy := -thickness; dy <= thickness; dy++ {
			for dx := -thickness; dx <= thickness; dx++ {
				px, py := p[0]+dx, p[1]+dy
				if px < 0 || px >= w || py < 0 || py >= h {
					continue
				}
				dist := math.Sqrt(float64(dx*dx + dy*dy))
				if dist > float64(thickness) {
					continue
				}
				attenuation := 1 - float32(dist)/float32(thickness+1)
				if attenuation < 0.3 {
					attenuation = 0.3
				}
				v := value * attenuation
				idx := int32(py)*width + int32(px)
				for ch := int32(0); ch < channels; ch++ {
					if f.Data[ch*plane+idx] < v {
						f.Data[ch*plane+idx] = v
					}
				}
			}
		}
	}
	f.Stats.Clear()
	log.Info("satellite trail injected",
		"from", fmt.Sprintf("(%d,%d)", x0, y0), "to", fmt.Sprintf("(%d,%d)", x1, y1),
		"brightness", brightness, "thickness", thickness)
}

func bresenhamLine(x0, y0, x1, y1 int) [][2]int {
	var points [][2]int
	dx, dy := abs(x1-x0), abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy
	x, y := x0, y0
	for {
		points = append(points, [2]int{x, y})
		if x == x1 && y == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x += sx
		}
		if e2 < dx {
			err += dx
			y += sy
		}
	}
	return points
}
