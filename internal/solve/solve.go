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

// Package solve invokes an external ASTAP-compatible astrometric solver
// and parses its side-car solution file.
package solve

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

var ErrSolveFailed = errors.New("plate solve failed")

// A plate-solve result. Error is 0 on success; any other value leaves
// RA and Dec equal to the hints
type Solution struct {
	Error       int     `json:"error"`
	RA          float64 `json:"ra"`          // hours
	Dec         float64 `json:"dec"`         // degrees
	Orientation float64 `json:"orientation"` // degrees
}

// Resolves the sky position of a FITS frame
type Solver interface {
	Solve(fitsPath string, raHint, decHint, radiusDeg float64) (Solution, error)
}

// Shells out to an ASTAP-style command-line solver
type ASTAP struct {
	Executable string
	Catalog    string // star catalog path, passed as -d
	MaxStars   int    // star count cap, passed as -s
	Downsample int    // binning factor, passed as -z
	UseHints   bool   // pass -ra/-spd derived from the hint center
	Log        *slog.Logger
}

func NewASTAP(executable, catalog string, log *slog.Logger) *ASTAP {
	if log == nil {
		log = slog.Default()
	}
	return &ASTAP{
		Executable: executable,
		Catalog:    catalog,
		MaxStars:   500,
		Downsample: 2,
		UseHints:   true,
		Log:        log,
	}
}

// Runs the solver on the given frame. A non-zero exit status or a missing
// solution file yields Solution{Error:1} with the hints passed through;
// the error return is reserved for failures to launch the executable
func (s *ASTAP) Solve(fitsPath string, raHint, decHint, radiusDeg float64) (Solution, error) {
	failed := Solution{Error: 1, RA: raHint, Dec: decHint}

	args := []string{
		"-f", fitsPath,
		"-r", strconv.FormatFloat(radiusDeg, 'f', -1, 64),
		"-s", strconv.Itoa(s.MaxStars),
		"-z", strconv.Itoa(s.Downsample),
		"-d", s.Catalog,
		"-update",
	}
	if s.UseHints {
		args = append(args,
			"-ra", strconv.FormatFloat(raHint, 'f', -1, 64),
			"-spd", strconv.FormatFloat(decHint+90, 'f', -1, 64))
	}

	s.Log.Info("running plate solver", "file", fitsPath, "radius", radiusDeg)
	cmd := exec.Command(s.Executable, args...)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.Log.Warn("plate solver reported no solution", "file", fitsPath, "code", exitErr.ExitCode())
			return failed, nil
		}
		return failed, fmt.Errorf("launching solver %s: %w", s.Executable, err)
	}

	iniPath := replaceExt(fitsPath, ".ini")
	sol, err := parseSolutionFile(iniPath)
	if err != nil {
		s.Log.Warn("plate solve solution unreadable", "file", iniPath, "error", err)
		return failed, nil
	}
	s.Log.Info("plate solve succeeded", "ra", sol.RA, "dec", sol.Dec, "orientation", sol.Orientation)
	return sol, nil
}

// Removes the solver side-car files and, optionally, the solved frame itself
func CleanupArtifacts(fitsPath string, removeFrame bool) {
	for _, ext := range []string{".wcs", ".ini"} {
		os.Remove(replaceExt(fitsPath, ext))
	}
	if removeFrame {
		os.Remove(fitsPath)
	}
}

func replaceExt(path, ext string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i] + ext
	}
	return path + ext
}

// Parses the KEY=VALUE solution side-car. CRVAL1 is given in degrees and
// converted to hours
func parseSolutionFile(path string) (Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		return Solution{}, err
	}
	defer f.Close()

	sol := Solution{Error: 1}
	haveRA, haveDec := false, false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		switch key {
		case "CRVAL1":
			sol.RA, haveRA = v*24/360, true
		case "CRVAL2":
			sol.Dec, haveDec = v, true
		case "CROTA1":
			sol.Orientation = v
		}
	}
	if err := scanner.Err(); err != nil {
		return Solution{}, err
	}
	if !haveRA || !haveDec {
		return Solution{}, fmt.Errorf("%s: no CRVAL keys found", path)
	}
	sol.Error = 0
	return sol, nil
}
