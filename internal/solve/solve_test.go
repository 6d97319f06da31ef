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

package solve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSolutionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ini")
	content := "PLTSOLVD=T\n" +
		"CRVAL1= 83.822083\n" +
		"CRVAL2= -5.391111\n" +
		"CROTA1= 12.5\n" +
		"CMDLINE=astap -f capture.fits\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	sol, err := parseSolutionFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, sol.Error)
	assert.InDelta(t, 83.822083*24/360, sol.RA, 1e-9)
	assert.InDelta(t, -5.391111, sol.Dec, 1e-9)
	assert.InDelta(t, 12.5, sol.Orientation, 1e-9)
}

func TestParseSolutionFileMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ini")
	require.NoError(t, os.WriteFile(path, []byte("PLTSOLVD=F\nWARNING=no solution\n"), 0644))

	_, err := parseSolutionFile(path)
	assert.Error(t, err)
}

func TestParseSolutionFileAbsent(t *testing.T) {
	_, err := parseSolutionFile(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}

func TestCleanupArtifacts(t *testing.T) {
	dir := t.TempDir()
	frame := filepath.Join(dir, "capture.fits")
	for _, p := range []string{frame, replaceExt(frame, ".ini"), replaceExt(frame, ".wcs")} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	CleanupArtifacts(frame, false)
	_, err := os.Stat(frame)
	assert.NoError(t, err, "frame must survive when removeFrame is false")
	_, err = os.Stat(replaceExt(frame, ".ini"))
	assert.True(t, os.IsNotExist(err))

	CleanupArtifacts(frame, true)
	_, err = os.Stat(frame)
	assert.True(t, os.IsNotExist(err))
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, "/data/a.ini", replaceExt("/data/a.fits", ".ini"))
	assert.Equal(t, "noext.ini", replaceExt("noext", ".ini"))
}
