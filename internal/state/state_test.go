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

package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mlnoga/nightwatch/internal/fits"
)

func TestSnapshotReflectsWrites(t *testing.T) {
	s := New()

	snap := s.Snapshot()
	assert.False(t, snap.Slewing)
	assert.Equal(t, float32(0.15), snap.Settings.Stretch)
	assert.Equal(t, float32(60), snap.Settings.BlackPoint)

	s.SetSlewing(true)
	s.SetCapturing(true)
	s.SetFocused(true)
	s.SetPlanActive(true)
	s.SetLastFocus(25200)
	s.SetConnected(Connections{Mount: true, Camera: true})

	snap = s.Snapshot()
	assert.True(t, snap.Slewing)
	assert.True(t, snap.Capturing)
	assert.True(t, snap.Focused)
	assert.True(t, snap.PlanActive)
	assert.Equal(t, 25200, snap.LastFocus)
	assert.True(t, snap.Connected.Mount)
	assert.False(t, snap.Connected.Focuser)
}

func TestPublishedBuffers(t *testing.T) {
	s := New()
	assert.Nil(t, s.LastRawFrame())

	raw := fits.NewImageFromNaxisn([]int32{4, 4}, nil)
	s.PublishRawFrame(raw)
	assert.Same(t, raw, s.LastRawFrame())

	master := fits.NewImageFromNaxisn([]int32{4, 4}, nil)
	preview := []byte{0xff, 0xd8}
	s.PublishStacked(master, preview)
	gotMaster, gotPreview := s.LastStacked()
	assert.Same(t, master, gotMaster)
	assert.Equal(t, preview, gotPreview)

	// the raw frame publication is independent of the stacked one
	assert.Same(t, raw, s.LastRawFrame())
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.SetSlewing(j&1 == 0)
				s.Snapshot()
				s.SetSettings(ImageSettings{Stretch: 0.2, BlackPoint: 50})
				s.Settings()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, float32(0.2), s.Settings().Stretch)
}
