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
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) getFocuserPosition(c *gin.Context) {
	pos, err := s.dev.FocuserPosition()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

func (s *Server) getFocuserMax(c *gin.Context) {
	max, err := s.dev.MaxFocuserStep()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"max": max})
}

func (s *Server) postFocuserMove(c *gin.Context) {
	pos, err := strconv.Atoi(c.Param("pos"))
	if err != nil || pos < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid focuser position"})
		return
	}
	if s.automationActive() {
		c.JSON(http.StatusConflict, gin.H{"error": "an automation is already active"})
		return
	}
	if err := s.dev.MoveFocuser(pos); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

func (s *Server) postFocuserStop(c *gin.Context) {
	if err := s.dev.HaltFocuser(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (s *Server) postAutofocus(c *gin.Context) {
	if s.darks.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "a dark capture run is active"})
		return
	}
	if err := s.scheduler.StartAutofocus(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true})
}
