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
	"math"
	"os"

	"github.com/mlnoga/nightwatch/internal/device"
	"github.com/mlnoga/nightwatch/internal/plan"
	"github.com/mlnoga/nightwatch/internal/solve"
)

// Slew and solve loop: up to SolveRetries attempts of slew, short light
// capture, plate solve. On a solution within the acceptable position
// error the mount is synced to the target coordinates. Excess position
// error on the last attempt is accepted and capture proceeds regardless.
// Returns false when no solution was found within the budget
func (s *Scheduler) acquireTarget(item plan.Observation) bool {
	for attempt := 1; attempt <= s.cfg.SolveRetries; attempt++ {
		if s.stopped() {
			return false
		}
		s.status(StatusSlewing)
		s.st.SetSlewing(true)
		err := s.dev.SlewTo(item.RA, item.Dec)
		s.st.SetSlewing(false)
		if err != nil {
			s.log.Warn("slew failed", "attempt", attempt, "error", err)
			continue
		}

		s.status(StatusPlateSolving)
		sol, ok := s.solveCurrentPointing(item)
		if !ok {
			s.log.Warn("plate solve failed", "attempt", attempt)
			continue
		}

		errDist := math.Hypot(sol.RA-item.RA, sol.Dec-item.Dec)
		if errDist > s.cfg.MaxPositionError && attempt < s.cfg.SolveRetries {
			s.log.Warn("position error above threshold, retrying",
				"attempt", attempt, "error_deg", errDist)
			continue
		}
		if errDist > s.cfg.MaxPositionError {
			s.log.Warn("position error above threshold on last attempt, continuing",
				"error_deg", errDist)
		}
		if err := s.dev.SyncTo(item.RA, item.Dec); err != nil {
			s.log.Warn("mount sync failed", "error", err)
		}
		s.log.Info("target acquired", "object", item.Object,
			"ra", sol.RA, "dec", sol.Dec, "error_deg", errDist, "attempt", attempt)
		return true
	}
	return false
}

// Captures a short light frame into the session scratch directory and
// runs the solver on it. Scratch files are removed unless debug mode
func (s *Scheduler) solveCurrentPointing(item plan.Observation) (solve.Solution, bool) {
	if err := os.MkdirAll(s.cfg.SessionDir, 0755); err != nil {
		s.log.Warn("session dir unavailable", "error", err)
		return solve.Solution{}, false
	}
	path, err := device.CaptureToFile(s.dev, s.cfg.SessionDir, solveExposure,
		item.RA, item.Dec, item.Filter, "solve", item.Gain)
	if err != nil {
		s.log.Warn("solve capture failed", "error", err)
		return solve.Solution{}, false
	}
	if !s.cfg.Debug {
		defer solve.CleanupArtifacts(path, true)
	}

	sol, err := s.solver.Solve(path, item.RA, item.Dec, s.cfg.SolveRadius)
	if err != nil {
		s.log.Warn("solver did not run", "error", err)
		return solve.Solution{}, false
	}
	return sol, sol.Error == 0
}
