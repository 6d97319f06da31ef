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

package sched

import (
	"errors"
	"math"

	"github.com/mlnoga/nightwatch/internal/focus"
	"github.com/mlnoga/nightwatch/internal/plan"
	"github.com/mlnoga/nightwatch/internal/telemetry"
)

var errStopped = errors.New("stopped")

// Runs a standalone autofocus at the current pointing in the background.
// Returns ErrBusy while a plan or another autofocus is active
func (s *Scheduler) StartAutofocus() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	s.running, s.stop = true, false
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			close(s.done)
			s.mu.Unlock()
		}()
		if err := s.autofocus(nil); err != nil {
			s.log.Warn("autofocus failed", "error", err)
		}
	}()
	return nil
}

// Samples the focuser range around the current position, measuring star
// FWHM per step, and moves to the fitted best position. When an item is
// given, a star-rich field near the target is acquired first
func (s *Scheduler) autofocus(item *plan.Observation) error {
	s.st.SetFocusing(true)
	defer s.st.SetFocusing(false)
	s.hub.Broadcast(telemetry.SenderFocuser, telemetry.MsgStatus, StatusFocusing)

	if item != nil {
		if err := s.findFocusField(*item); err != nil {
			return err
		}
	}

	start, err := s.dev.FocuserPosition()
	if err != nil {
		return err
	}
	analyzer := focus.NewAnalyzer(s.cfg.MinFocusStars, s.log)
	for pos := start - s.cfg.FocusRange; pos < start+s.cfg.FocusRange; pos += s.cfg.FocusStep {
		if s.stopped() {
			s.dev.MoveFocuser(start)
			return errStopped
		}
		if pos < 0 {
			continue
		}
		if err := s.dev.MoveFocuser(pos); err != nil {
			s.log.Warn("focuser move failed", "position", pos, "error", err)
			continue
		}
		for n := 0; n < s.cfg.FocusFrames; n++ {
			frame, err := s.dev.CaptureFrame(s.cfg.FocusExposure, true)
			if err != nil {
				s.log.Warn("focus capture failed", "position", pos, "error", err)
				continue
			}
			frame.Normalize()
			sample := analyzer.AnalyzeImage(frame, pos)
			s.hub.Broadcast(telemetry.SenderFocuser, telemetry.MsgNewImage, sample)
		}
	}

	best, method, err := analyzer.CalculateBestFocus()
	if err != nil {
		s.dev.MoveFocuser(start)
		return err
	}
	if err := s.dev.MoveFocuser(best); err != nil {
		return err
	}
	s.st.SetLastFocus(best)
	s.st.SetFocused(true)
	s.log.Info("autofocus complete", "position", best, "method", method)
	s.hub.Broadcast(telemetry.SenderFocuser, telemetry.MsgStatus,
		map[string]interface{}{"status": "focused", "position": best, "method": method})
	return nil
}

// Slews to a declination offset from the target and steps in right
// ascension until a short exposure shows enough stars for FWHM sampling.
// Tracking stays off while hunting; acquisition re-enables it later
func (s *Scheduler) findFocusField(item plan.Observation) error {
	dec := 70 + s.cfg.Latitude + item.Dec - 90
	if dec > 90 {
		dec = 90
	}
	if dec < -90 {
		dec = -90
	}
	s.dev.SetTracking(0)

	ra := item.RA
	analyzer := focus.NewAnalyzer(s.cfg.MinFocusStars, s.log)
	for try := 0; try < s.cfg.FieldSearchTries; try++ {
		if s.stopped() {
			return errStopped
		}
		if err := s.dev.SlewTo(ra, dec); err != nil {
			return err
		}
		frame, err := s.dev.CaptureFrame(s.cfg.FocusExposure, true)
		if err != nil {
			return err
		}
		frame.Normalize()
		if n := analyzer.CountStars(frame); n >= s.cfg.MinFocusStars {
			s.log.Info("focus field found", "ra", ra, "dec", dec, "stars", n)
			return nil
		}
		ra = math.Mod(ra+2, 24)
	}
	return errors.New("no star-rich focus field found")
}
