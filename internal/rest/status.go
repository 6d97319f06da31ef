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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/nightwatch/internal/state"
)

func (s *Server) getIsConnected(c *gin.Context) {
	c.JSON(http.StatusOK, s.st.Connected())
}

// Connects all devices; partial success is reported per device
func (s *Server) postConnectHardware(c *gin.Context) {
	conns := s.dev.Connect()
	bits := state.Connections{
		Mount:       conns.Mount,
		Camera:      conns.Camera,
		Focuser:     conns.Focuser,
		FilterWheel: conns.FilterWheel,
	}
	s.st.SetConnected(bits)
	c.JSON(http.StatusOK, bits)
}

// Syncs the mount clock to server time, unless the mount has its own GPS
func (s *Server) postSetTelescopeDate(c *gin.Context) {
	if s.hasGPS {
		c.JSON(http.StatusOK, gin.H{"synced": false, "reason": "mount has GPS"})
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.dev.SetUTCDate(now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": true, "date": now})
}
