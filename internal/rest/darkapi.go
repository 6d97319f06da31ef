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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/nightwatch/internal/dark"
)

func (s *Server) getDarks(c *gin.Context) {
	descriptors, err := s.lib.List(c.Param("camera"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, descriptors)
}

// Starts a dark capture run for the camera. Mutually exclusive with the
// scheduler and with a previous dark run
func (s *Server) putDarks(c *gin.Context) {
	var items []dark.PlanItem
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.scheduler.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "an observation run is active"})
		return
	}
	if err := s.darks.Start(c.Param("camera"), items); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": len(items)})
}

func (s *Server) deleteDark(c *gin.Context) {
	err := s.lib.Remove(c.Param("camera"), c.Param("date"))
	if errors.Is(err, dark.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) postDarkStop(c *gin.Context) {
	s.darks.Stop()
	c.JSON(http.StatusOK, gin.H{"stopping": true})
}

func (s *Server) getDarkProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.darks.Progress())
}
