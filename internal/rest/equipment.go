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

	"github.com/mlnoga/nightwatch/internal/config"
)

func (s *Server) getEquipment(c *gin.Context, category string) {
	items, err := s.store.List(category)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) postEquipment(c *gin.Context, category string) {
	var items []config.Item
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.Put(category, items); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": len(items)})
}

func (s *Server) getEquipmentCurrent(c *gin.Context, category string) {
	item, err := s.store.Current(category)
	if errors.Is(err, config.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no current selection"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

type currentArgs struct {
	Name string `json:"name"`
}

func (s *Server) postEquipmentCurrent(c *gin.Context, category string) {
	var args currentArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.store.SetCurrent(category, args.Name)
	if errors.Is(err, config.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such item"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": args.Name})
}

func (s *Server) getEquipmentSchema(c *gin.Context, category string) {
	schema, err := s.store.Schema(category)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, schema)
}
