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

// Package rest exposes the engine over HTTP: the JSON API under /api/v1
// and the telemetry WebSocket under /ws/observation.
package rest

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mlnoga/nightwatch/internal/config"
	"github.com/mlnoga/nightwatch/internal/dark"
	"github.com/mlnoga/nightwatch/internal/device"
	"github.com/mlnoga/nightwatch/internal/hist"
	"github.com/mlnoga/nightwatch/internal/sched"
	"github.com/mlnoga/nightwatch/internal/state"
	"github.com/mlnoga/nightwatch/internal/telemetry"
)

// Wires the HTTP layer to the engine. All automation mutations go through
// the scheduler and dark manager; handlers themselves never block on
// hardware except the explicit one-shot capture
type Server struct {
	dev       device.Device
	st        *state.TelescopeState
	hub       *telemetry.Hub
	scheduler *sched.Scheduler
	darks     *dark.Manager
	lib       *dark.Library
	store     *config.Store
	rec       *hist.Recorder
	camera    string // active camera name, keys the dark library
	hasGPS    bool
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

func NewServer(dev device.Device, st *state.TelescopeState, hub *telemetry.Hub,
	scheduler *sched.Scheduler, darks *dark.Manager, lib *dark.Library,
	store *config.Store, rec *hist.Recorder, camera string, hasGPS bool,
	log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		dev: dev, st: st, hub: hub, scheduler: scheduler, darks: darks,
		lib: lib, store: store, rec: rec, camera: camera, hasGPS: hasGPS,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		obs := v1.Group("/observation")
		{
			obs.POST("/start", s.postObservationStart)
			obs.POST("/stop", s.postObservationStop)
			obs.GET("/is_running", s.getIsRunning)
			obs.GET("/last_image", s.getLastImage)
			obs.GET("/last_stacked_image", s.getLastStackedImage)
			obs.GET("/history", s.getHistory)
			obs.GET("/history/:i", s.getHistoryImage)
			obs.GET("/image_settings", s.getImageSettings)
			obs.PUT("/image_settings", s.putImageSettings)
			obs.POST("/capture", s.postCapture)
			obs.GET("/fwhm", s.getFWHM)
		}
		foc := v1.Group("/focuser")
		{
			foc.GET("", s.getFocuserPosition)
			foc.GET("/max", s.getFocuserMax)
			foc.POST("/stop", s.postFocuserStop)
			foc.POST("/autofocus", s.postAutofocus)
			foc.POST("/:pos", s.postFocuserMove)
		}
		status := v1.Group("/status")
		{
			status.GET("/is_connected", s.getIsConnected)
			status.POST("/connect_hardware", s.postConnectHardware)
			status.POST("/set_telescope_date", s.postSetTelescopeDate)
		}
		dk := v1.Group("/dark")
		{
			dk.POST("/stop", s.postDarkStop)
			dk.GET("/current_process", s.getDarkProgress)
			dk.GET("/:camera", s.getDarks)
			dk.PUT("/:camera", s.putDarks)
			dk.DELETE("/:camera/:date", s.deleteDark)
		}
		for _, category := range config.Categories {
			cat := category
			grp := v1.Group("/" + cat)
			grp.GET("", func(c *gin.Context) { s.getEquipment(c, cat) })
			grp.POST("", func(c *gin.Context) { s.postEquipment(c, cat) })
			grp.GET("/current", func(c *gin.Context) { s.getEquipmentCurrent(c, cat) })
			grp.POST("/current", func(c *gin.Context) { s.postEquipmentCurrent(c, cat) })
			grp.GET("/schema", func(c *gin.Context) { s.getEquipmentSchema(c, cat) })
		}
	}

	r.GET("/ws/observation", s.serveWebSocket)
	return r
}

// Listens and serves until the process exits
func (s *Server) Run(listen string) error {
	s.log.Info("http server listening", "addr", listen)
	return s.Router().Run(listen)
}

// Upgrades the connection and hands it to the telemetry hub, which owns
// it until the client disconnects
func (s *Server) serveWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Serve(conn)
}

// True while any automation owns the hardware
func (s *Server) automationActive() bool {
	return s.scheduler.Running() || s.darks.Running()
}
