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
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/nightwatch/internal/focus"
	"github.com/mlnoga/nightwatch/internal/plan"
	"github.com/mlnoga/nightwatch/internal/state"
	"github.com/mlnoga/nightwatch/internal/stretch"
	"github.com/mlnoga/nightwatch/web"
)

func (s *Server) postObservationStart(c *gin.Context) {
	var items []plan.Observation
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.automationActive() {
		c.JSON(http.StatusConflict, gin.H{"error": "an automation is already active"})
		return
	}
	// an empty plan is a no-op, not an error
	if len(items) == 0 {
		c.JSON(http.StatusOK, gin.H{"items": 0})
		return
	}
	if err := s.scheduler.Start(items); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": len(items)})
}

func (s *Server) postObservationStop(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"stopping": true})
}

func (s *Server) getIsRunning(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.Running())
}

// Serves the last raw camera frame as a stretched JPEG, or the fallback
// asset when nothing has been captured yet
func (s *Server) getLastImage(c *gin.Context) {
	frame := s.st.LastRawFrame()
	if frame == nil {
		c.Data(http.StatusOK, "image/jpeg", web.FallbackJPEG())
		return
	}
	set := s.st.Settings()
	jpg, err := stretch.RenderPreview(frame, stretch.PreviewSettings{
		Stretch: set.Stretch, BlackPoint: set.BlackPoint,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

func (s *Server) getLastStackedImage(c *gin.Context) {
	_, jpg := s.st.LastStacked()
	if jpg == nil {
		c.Data(http.StatusOK, "image/jpeg", web.FallbackJPEG())
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

func (s *Server) getHistory(c *gin.Context) {
	c.JSON(http.StatusOK, s.rec.Entries())
}

// Serves the stacked preview recorded for history entry i
func (s *Server) getHistoryImage(c *gin.Context) {
	i, err := strconv.Atoi(c.Param("i"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history index"})
		return
	}
	entry, ok := s.rec.Entry(i)
	if !ok || entry.Jpg == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no image for history entry"})
		return
	}
	jpg, err := os.ReadFile(entry.Jpg)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview file missing"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

func (s *Server) getImageSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.st.Settings())
}

func (s *Server) putImageSettings(c *gin.Context) {
	var settings state.ImageSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.st.SetSettings(settings)
	c.JSON(http.StatusOK, settings)
}

type captureArgs struct {
	Exposition float32 `json:"exposition"`
}

// One-shot light capture as a focusing aid. The frame is buffered in the
// process state for the FWHM endpoint
func (s *Server) postCapture(c *gin.Context) {
	var args captureArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Exposition <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exposition must be positive"})
		return
	}
	if s.automationActive() {
		c.JSON(http.StatusConflict, gin.H{"error": "an automation is already active"})
		return
	}
	frame, err := s.dev.CaptureFrame(args.Exposition, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.st.PublishRawFrame(frame)
	c.JSON(http.StatusOK, gin.H{"captured": true})
}

// Runs star detection and FWHM analysis on the buffered capture
func (s *Server) getFWHM(c *gin.Context) {
	frame := s.st.LastRawFrame()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no buffered capture"})
		return
	}
	analyzer := focus.NewAnalyzer(1, s.log)
	pos, _ := s.dev.FocuserPosition()
	sample := analyzer.AnalyzeImage(frame, pos)
	c.JSON(http.StatusOK, sample)
}
