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

// Package sched executes observation plans: a time-ordered state machine
// that coordinates the mount, camera, filter wheel and focuser, feeds
// captured frames to the live stacker, and records outcomes in history.
package sched

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mlnoga/nightwatch/internal/dark"
	"github.com/mlnoga/nightwatch/internal/device"
	"github.com/mlnoga/nightwatch/internal/hist"
	"github.com/mlnoga/nightwatch/internal/plan"
	"github.com/mlnoga/nightwatch/internal/solve"
	"github.com/mlnoga/nightwatch/internal/stack"
	"github.com/mlnoga/nightwatch/internal/state"
	"github.com/mlnoga/nightwatch/internal/stretch"
	"github.com/mlnoga/nightwatch/internal/telemetry"
)

var ErrBusy = errors.New("an observation run is already active")

// Status event payloads broadcast at state transitions
const (
	StatusSlewing      = "slewing"
	StatusPlateSolving = "plate_solving"
	StatusCapturing    = "capturing"
	StatusFocusing     = "focusing"
	StatusFinished     = "finished"
	StatusStopped      = "stopped"
)

const (
	waitPollInterval = time.Second
	joinTimeout      = 5 * time.Second
	solveExposure    = 3 // seconds, short capture for plate solving
)

// Configures plan execution
type Config struct {
	DataRoot   string // per-observation capture directories live here
	SessionDir string // scratch space for solver captures
	Camera     string // active camera name, keys the dark library
	Latitude   float64
	TargetTemp *int // CCD setpoint, nil leaves the cooler alone
	Debug      bool // keep solver scratch files

	SolveRadius      float64 // degrees
	SolveRetries     int     // slew+solve attempt budget R
	MaxPositionError float64 // acceptable euclidean angular error after solving

	FocusRange      int     // focuser sampling half-range
	FocusStep       int     // focuser sampling step
	FocusFrames     int     // images per focuser position
	FocusExposure   float32 // seconds
	MinFocusStars   int
	FieldSearchTries int // RA steps when hunting for a star-rich focus field

	SigmaThreshold float32 // live stacker initial clipping threshold
	MaxHistory     int     // live stacker bounded history length
	TargetWidth    int32   // live stacker binning width target
}

// Fills unset fields with working defaults
func (c *Config) applyDefaults() {
	if c.SolveRadius == 0 {
		c.SolveRadius = 10
	}
	if c.SolveRetries == 0 {
		c.SolveRetries = 3
	}
	if c.MaxPositionError == 0 {
		c.MaxPositionError = 0.5
	}
	if c.FocusRange == 0 {
		c.FocusRange = 3000
	}
	if c.FocusStep == 0 {
		c.FocusStep = 250
	}
	if c.FocusFrames == 0 {
		c.FocusFrames = 2
	}
	if c.FocusExposure == 0 {
		c.FocusExposure = 3
	}
	if c.MinFocusStars == 0 {
		c.MinFocusStars = 10
	}
	if c.FieldSearchTries == 0 {
		c.FieldSearchTries = 6
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = 7
	}
}

// The plan scheduler. One run at a time; mutual exclusion with the dark
// manager is enforced by the caller before Start
type Scheduler struct {
	dev    device.Device
	solver solve.Solver
	lib    *dark.Library
	hub    *telemetry.Hub
	st     *state.TelescopeState
	rec    *hist.Recorder
	cfg    Config
	log    *slog.Logger

	mu       sync.Mutex
	running  bool
	stop     bool
	coolerOn bool
	done     chan struct{}
}

func New(dev device.Device, solver solve.Solver, lib *dark.Library, hub *telemetry.Hub,
	st *state.TelescopeState, rec *hist.Recorder, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	cfg.applyDefaults()
	return &Scheduler{
		dev: dev, solver: solver, lib: lib, hub: hub, st: st, rec: rec,
		cfg: cfg, log: log,
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Requests a cooperative stop. Workers observe the flag at every
// suspension point; hardware commands in flight run to completion
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop = true
	s.mu.Unlock()
}

func (s *Scheduler) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

// Blocks until the active run exits, at most the join timeout
func (s *Scheduler) Join() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(joinTimeout):
		s.log.Warn("scheduler did not exit within join timeout")
	}
}

// Starts executing the plan in the background. An empty plan completes
// immediately. Returns ErrBusy while a previous run is active
func (s *Scheduler) Start(items []plan.Observation) error {
	if err := plan.Validate(items); err != nil {
		return err
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	s.running, s.stop = true, false
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(items)
	return nil
}

func (s *Scheduler) run(items []plan.Observation) {
	defer func() {
		s.mu.Lock()
		if s.coolerOn {
			s.dev.SetCooler(false)
			s.coolerOn = false
		}
		stopped := s.stop
		s.running = false
		close(s.done)
		s.mu.Unlock()
		s.st.SetPlanActive(false)
		if stopped {
			s.status(StatusStopped)
		} else {
			s.status(StatusFinished)
		}
	}()

	plan.Sort(items)
	s.rec.AppendFromPlan(items)
	s.st.SetPlanActive(true)
	s.log.Info("observation plan starting", "items", len(items))

	var prevStart time.Time
	for i, item := range items {
		if s.stopped() {
			return
		}
		now := time.Now()
		startAt := plan.NextStartTime(item.Start, now, prevStart)
		prevStart = startAt

		var nextStart time.Time
		if i+1 < len(items) {
			nextStart = plan.NextStartTime(items[i+1].Start, now, startAt)
		}

		if !s.waitForStart(item, startAt) {
			return
		}
		s.rec.StartCurrent()
		s.executeItem(item, nextStart)
		s.rec.CloseCurrent()
		if err := s.rec.Save(); err != nil {
			s.log.Error("history save failed", "error", err)
		}
		s.hub.Broadcast(telemetry.SenderScheduler, telemetry.MsgRefreshInfo, nil)
	}
}

// Sleeps until the item's start time, polling the stop flag every second
func (s *Scheduler) waitForStart(item plan.Observation, startAt time.Time) bool {
	if wait := time.Until(startAt); wait > 0 {
		s.log.Info("waiting for start", "object", item.Object, "start", startAt.UTC().Format(time.RFC3339))
	}
	for time.Now().Before(startAt) {
		if s.stopped() {
			return false
		}
		time.Sleep(waitPollInterval)
	}
	return !s.stopped()
}

// Runs one plan item through the per-item state machine: temperature,
// filter change, autofocus, slew and solve, then the capture loop
func (s *Scheduler) executeItem(item plan.Observation, nextStart time.Time) {
	s.log.Info("observation item starting", "object", item.Object, "filter", item.Filter,
		"count", item.Count, "expo", item.Expo)

	if s.cfg.TargetTemp != nil {
		s.mu.Lock()
		s.coolerOn = true
		s.mu.Unlock()
		device.StabilizeTemperature(s.dev, *s.cfg.TargetTemp, s.stopped, func(current int) {
			s.hub.Broadcast(telemetry.SenderScheduler, telemetry.MsgTemperature,
				fmt.Sprintf("%d / %d°C", current, *s.cfg.TargetTemp))
		})
		if s.stopped() {
			return
		}
	}

	if item.Filter != "" {
		if err := s.dev.ChangeFilter(item.Filter); err != nil {
			s.log.Warn("filter change failed, capturing anyway", "filter", item.Filter, "error", err)
		}
	}

	if item.Focus || !s.st.Focused() {
		if err := s.autofocus(&item); err != nil {
			s.log.Warn("autofocus failed, capturing at current position", "error", err)
		}
	}
	if s.stopped() {
		return
	}

	if !s.acquireTarget(item) {
		s.log.Warn("target acquisition failed, skipping item", "object", item.Object)
		return
	}

	if err := s.dev.SetTracking(1); err != nil {
		s.log.Warn("enabling tracking failed", "error", err)
	}
	s.captureLoop(item, nextStart)
}

// Captures the item's exposures, feeding each saved FITS to a fresh live
// stacker. Breaks early on stop or when the next item's start arrives
func (s *Scheduler) captureLoop(item plan.Observation, nextStart time.Time) {
	stacker := stack.NewStacker(stack.Config{
		SigmaThreshold: s.cfg.SigmaThreshold,
		MaxHistory:     s.cfg.MaxHistory,
		TargetWidth:    s.cfg.TargetWidth,
		DarkPath:       s.masterDarkPath(item),
		Log:            s.log,
	})
	var renderWG sync.WaitGroup
	renderWG.Add(1)
	go func() {
		defer renderWG.Done()
		s.renderResults(stacker.Results())
	}()

	dir := filepath.Join(s.cfg.DataRoot, captureDirName(item.Object))
	s.status(StatusCapturing)
	s.st.SetCapturing(true)
	defer s.st.SetCapturing(false)

	for i := 0; i < item.Count; i++ {
		if s.stopped() {
			break
		}
		if !nextStart.IsZero() && !time.Now().Before(nextStart) {
			s.log.Info("next item due, skipping remaining exposures",
				"object", item.Object, "captured", i, "planned", item.Count)
			break
		}
		path, err := device.CaptureToFile(s.dev, dir, item.Expo, item.RA, item.Dec,
			item.Filter, item.Object, item.Gain)
		if err != nil {
			s.log.Error("capture failed, ending item", "object", item.Object, "error", err)
			break
		}
		s.rec.IncrementImages()
		stacker.ProcessNewImage(path)
	}

	stacker.Stop()
	renderWG.Wait()
	s.savePreview(item, dir)
}

// Drains stacker output, rendering a preview per master and publishing
// both. Keeps the stacker from ever blocking on slow JPEG encoding
func (s *Scheduler) renderResults(results <-chan stack.Result) {
	for res := range results {
		if res.Err != nil {
			s.hub.Broadcast(telemetry.SenderScheduler, telemetry.MsgNewImage,
				map[string]interface{}{"error": "Alignment failed", "frames": res.Frames})
			continue
		}
		if res.Master == nil {
			continue
		}
		set := s.st.Settings()
		jpg, err := stretch.RenderPreview(res.Master, stretch.PreviewSettings{
			Stretch: set.Stretch, BlackPoint: set.BlackPoint, Denoise: true,
		})
		if err != nil {
			s.log.Warn("preview render failed", "error", err)
			continue
		}
		s.st.PublishStacked(res.Master, jpg)
		s.hub.Broadcast(telemetry.SenderScheduler, telemetry.MsgNewImage, res)
	}
}

// Writes the final stacked preview beside the captures and records it in
// the history entry
func (s *Scheduler) savePreview(item plan.Observation, dir string) {
	_, jpg := s.st.LastStacked()
	if jpg == nil {
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("preview-%s.jpg", sanitizeName(item.Object)))
	if err := os.WriteFile(path, jpg, 0644); err != nil {
		s.log.Warn("preview save failed", "path", path, "error", err)
		return
	}
	s.rec.AttachPreview(path)
}

// Looks up the best matching master dark for the item, or "" when the
// library holds none
func (s *Scheduler) masterDarkPath(item plan.Observation) string {
	d, err := s.lib.Choose(s.cfg.Camera, item.Expo, item.Gain, s.cfg.TargetTemp)
	if err != nil {
		return ""
	}
	return s.lib.FramePath(s.cfg.Camera, d)
}

func (s *Scheduler) status(status string) {
	s.hub.Broadcast(telemetry.SenderScheduler, telemetry.MsgStatus, status)
}

func captureDirName(object string) string {
	return time.Now().UTC().Format("2006-01-02") + "-" + sanitizeName(object)
}

func sanitizeName(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}
